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

// RecipesFeedRequest parameterizes one recipes feed page.
type RecipesFeedRequest struct {
	ViewerDID string
	Limit     int
	Cursor    string
}

// RecipesFeedQuery serves the network-wide recipes feed.
type RecipesFeedQuery struct {
	datastore storage.Datastore
	hydrator  *hydration.Hydrator
	encoder   encoder.Encoder
	logger    logger.Logger
}

// RecipesFeedQueryOption applies an option to a RecipesFeedQuery.
type RecipesFeedQueryOption func(*RecipesFeedQuery)

// WithRecipesFeedQueryEncoder overrides the cursor encoder.
func WithRecipesFeedQueryEncoder(e encoder.Encoder) RecipesFeedQueryOption {
	return func(q *RecipesFeedQuery) {
		q.encoder = e
	}
}

// WithRecipesFeedQueryLogger overrides the logger.
func WithRecipesFeedQueryLogger(l logger.Logger) RecipesFeedQueryOption {
	return func(q *RecipesFeedQuery) {
		q.logger = l
	}
}

// NewRecipesFeedQuery builds a RecipesFeedQuery over the datastore.
func NewRecipesFeedQuery(datastore storage.Datastore, opts ...RecipesFeedQueryOption) *RecipesFeedQuery {
	q := &RecipesFeedQuery{
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

// Execute runs the recipes feed pipeline.
func (q *RecipesFeedQuery) Execute(ctx context.Context, req *RecipesFeedRequest) (*FeedResponse, error) {
	p := pipeline.New(q.skeleton, q.hydrate, q.rules, q.present)
	return p.Run(ctx, req)
}

func (q *RecipesFeedQuery) skeleton(ctx context.Context, req *RecipesFeedRequest) (feedSkeleton, error) {
	from, err := decodeCursor(q.encoder, req.Cursor)
	if err != nil {
		return feedSkeleton{}, err
	}
	items, cursor, err := q.datastore.GetRecipesFeed(ctx, storage.NewPageOptions(req.Limit, from))
	if err != nil {
		return feedSkeleton{}, err
	}
	return feedSkeleton{items: items, cursor: cursor}, nil
}

func (q *RecipesFeedQuery) hydrate(ctx context.Context, req *RecipesFeedRequest, skeleton feedSkeleton) (*hydration.State, error) {
	return q.hydrator.HydrateFeedItems(ctx, skeleton.items, req.ViewerDID)
}

func (q *RecipesFeedQuery) rules(_ context.Context, _ *RecipesFeedRequest, skeleton feedSkeleton, state *hydration.State) (feedSkeleton, error) {
	skeleton.items = views.FilterFeedItems(state, skeleton.items, views.FeedFilterOpts{})
	return skeleton, nil
}

func (q *RecipesFeedQuery) present(_ context.Context, _ *RecipesFeedRequest, skeleton feedSkeleton, state *hydration.State) (*FeedResponse, error) {
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
