package feeds

import (
	"context"

	"go.uber.org/zap"

	"github.com/foodios/appview/internal/hydration"
	"github.com/foodios/appview/internal/pipeline"
	"github.com/foodios/appview/internal/views"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/encoder"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/storage"
)

// Searcher is an external full-text search backend. SearchPostsQuery falls
// back to the relational search when none is configured or the backend is
// unavailable.
type Searcher interface {
	SearchPosts(ctx context.Context, term string, limit int, cursor string) (uris []string, nextCursor string, err error)
}

// SearchPostsRequest parameterizes one search page.
type SearchPostsRequest struct {
	Term      string
	ViewerDID string
	Limit     int
	Cursor    string
}

// SearchPostsQuery serves post search.
type SearchPostsQuery struct {
	datastore storage.Datastore
	hydrator  *hydration.Hydrator
	searcher  Searcher
	encoder   encoder.Encoder
	logger    logger.Logger
}

// SearchPostsQueryOption applies an option to a SearchPostsQuery.
type SearchPostsQueryOption func(*SearchPostsQuery)

// WithSearchPostsQuerySearcher installs an external search backend.
func WithSearchPostsQuerySearcher(s Searcher) SearchPostsQueryOption {
	return func(q *SearchPostsQuery) {
		q.searcher = s
	}
}

// WithSearchPostsQueryEncoder overrides the cursor encoder.
func WithSearchPostsQueryEncoder(e encoder.Encoder) SearchPostsQueryOption {
	return func(q *SearchPostsQuery) {
		q.encoder = e
	}
}

// WithSearchPostsQueryLogger overrides the logger.
func WithSearchPostsQueryLogger(l logger.Logger) SearchPostsQueryOption {
	return func(q *SearchPostsQuery) {
		q.logger = l
	}
}

// NewSearchPostsQuery builds a SearchPostsQuery over the datastore.
func NewSearchPostsQuery(datastore storage.Datastore, opts ...SearchPostsQueryOption) *SearchPostsQuery {
	q := &SearchPostsQuery{
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

// Execute runs the search pipeline.
func (q *SearchPostsQuery) Execute(ctx context.Context, req *SearchPostsRequest) (*FeedResponse, error) {
	p := pipeline.New(q.skeleton, q.hydrate, q.rules, q.present)
	return p.Run(ctx, req)
}

func (q *SearchPostsQuery) skeleton(ctx context.Context, req *SearchPostsRequest) (feedSkeleton, error) {
	from, err := decodeCursor(q.encoder, req.Cursor)
	if err != nil {
		return feedSkeleton{}, err
	}
	opts := storage.NewPageOptions(req.Limit, from)

	uris, cursor, err := q.searchSkeleton(ctx, req.Term, opts)
	if err != nil {
		return feedSkeleton{}, err
	}

	items := make([]storage.FeedItemRow, 0, len(uris))
	for _, uri := range uris {
		items = append(items, storage.FeedItemRow{
			URI:           uri,
			PostURI:       uri,
			Type:          storage.FeedItemPost,
			OriginatorDID: aturi.AuthorityOf(uri),
		})
	}
	return feedSkeleton{items: items, cursor: cursor}, nil
}

func (q *SearchPostsQuery) searchSkeleton(ctx context.Context, term string, opts storage.PageOptions) ([]string, string, error) {
	if q.searcher != nil {
		uris, cursor, err := q.searcher.SearchPosts(ctx, term, opts.PageSize, opts.From)
		if err == nil {
			return uris, cursor, nil
		}
		q.logger.WarnWithContext(ctx, "search backend unavailable, falling back to relational search",
			zap.Error(err))
		// A cursor minted by the external backend means nothing to the
		// relational search. Restart the walk from the top rather than
		// failing the request mid-degradation.
		if opts.From != "" {
			if _, err := storage.ParseCursor(opts.From); err != nil {
				opts.From = ""
			}
		}
	}
	return q.datastore.SearchPosts(ctx, term, opts)
}

func (q *SearchPostsQuery) hydrate(ctx context.Context, req *SearchPostsRequest, skeleton feedSkeleton) (*hydration.State, error) {
	return q.hydrator.HydrateFeedItems(ctx, skeleton.items, req.ViewerDID)
}

func (q *SearchPostsQuery) rules(_ context.Context, _ *SearchPostsRequest, skeleton feedSkeleton, state *hydration.State) (feedSkeleton, error) {
	skeleton.items = views.FilterFeedItems(state, skeleton.items, views.FeedFilterOpts{})
	return skeleton, nil
}

func (q *SearchPostsQuery) present(_ context.Context, _ *SearchPostsRequest, skeleton feedSkeleton, state *hydration.State) (*FeedResponse, error) {
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
