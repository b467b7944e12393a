package feeds

import (
	"context"

	"github.com/foodios/appview/internal/hydration"
	"github.com/foodios/appview/internal/pipeline"
	"github.com/foodios/appview/internal/views"
	"github.com/foodios/appview/pkg/encoder"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/storage"
)

// AuthorFeedRequest parameterizes one author feed page.
type AuthorFeedRequest struct {
	ActorDID  string
	ViewerDID string
	FeedType  string
	Limit     int
	Cursor    string
}

// AuthorFeedQuery serves one author's feed.
type AuthorFeedQuery struct {
	datastore storage.Datastore
	hydrator  *hydration.Hydrator
	encoder   encoder.Encoder
	logger    logger.Logger
}

// AuthorFeedQueryOption applies an option to an AuthorFeedQuery.
type AuthorFeedQueryOption func(*AuthorFeedQuery)

// WithAuthorFeedQueryEncoder overrides the cursor encoder.
func WithAuthorFeedQueryEncoder(e encoder.Encoder) AuthorFeedQueryOption {
	return func(q *AuthorFeedQuery) {
		q.encoder = e
	}
}

// WithAuthorFeedQueryLogger overrides the logger.
func WithAuthorFeedQueryLogger(l logger.Logger) AuthorFeedQueryOption {
	return func(q *AuthorFeedQuery) {
		q.logger = l
	}
}

// NewAuthorFeedQuery builds an AuthorFeedQuery over the datastore.
func NewAuthorFeedQuery(datastore storage.Datastore, opts ...AuthorFeedQueryOption) *AuthorFeedQuery {
	q := &AuthorFeedQuery{
		datastore: datastore,
		hydrator:  hydration.NewHydrator(datastore, nil),
		encoder:   encoder.NewBase64Encoder(),
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func parseAuthorFeedType(s string) storage.AuthorFeedType {
	switch storage.AuthorFeedType(s) {
	case storage.AuthorFeedNoReplies, storage.AuthorFeedAuthorThreads:
		return storage.AuthorFeedType(s)
	}
	return storage.AuthorFeedAll
}

// Execute runs the author feed pipeline.
func (q *AuthorFeedQuery) Execute(ctx context.Context, req *AuthorFeedRequest) (*FeedResponse, error) {
	p := pipeline.New(q.skeleton, q.hydrate, q.rules, q.present)
	return p.Run(ctx, req)
}

func (q *AuthorFeedQuery) skeleton(ctx context.Context, req *AuthorFeedRequest) (feedSkeleton, error) {
	from, err := decodeCursor(q.encoder, req.Cursor)
	if err != nil {
		return feedSkeleton{}, err
	}
	opts := storage.NewPageOptions(req.Limit, from)

	items, cursor, err := q.datastore.GetAuthorFeed(ctx, req.ActorDID, parseAuthorFeedType(req.FeedType), opts)
	if err != nil {
		return feedSkeleton{}, err
	}
	return feedSkeleton{items: items, cursor: cursor}, nil
}

func (q *AuthorFeedQuery) hydrate(ctx context.Context, req *AuthorFeedRequest, skeleton feedSkeleton) (*hydration.State, error) {
	return q.hydrator.HydrateFeedItems(ctx, skeleton.items, req.ViewerDID)
}

func (q *AuthorFeedQuery) rules(_ context.Context, _ *AuthorFeedRequest, skeleton feedSkeleton, state *hydration.State) (feedSkeleton, error) {
	skeleton.items = views.FilterFeedItems(state, skeleton.items, views.FeedFilterOpts{AuthorScoped: true})
	return skeleton, nil
}

func (q *AuthorFeedQuery) present(_ context.Context, _ *AuthorFeedRequest, skeleton feedSkeleton, state *hydration.State) (*FeedResponse, error) {
	feed := make([]*views.FeedViewItem, 0, len(skeleton.items))
	for _, item := range skeleton.items {
		if view := views.RenderFeedItem(item, state); view != nil {
			feed = append(feed, view)
		}
	}
	cursor, err := encodeCursor(q.encoder, skeleton.cursor)
	if err != nil {
		return nil, err
	}
	return &FeedResponse{Feed: feed, Cursor: cursor}, nil
}
