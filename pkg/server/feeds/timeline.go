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

// TimelineRequest parameterizes one timeline page.
type TimelineRequest struct {
	ViewerDID string
	Algorithm string
	Filter    string
	Limit     int
	Cursor    string
}

// FeedResponse is one rendered feed page.
type FeedResponse struct {
	Feed   []*views.FeedViewItem
	Cursor string
}

// TimelineQuery serves the following and everything timelines.
type TimelineQuery struct {
	datastore storage.Datastore
	hydrator  *hydration.Hydrator
	encoder   encoder.Encoder
	logger    logger.Logger
}

// TimelineQueryOption applies an option to a TimelineQuery.
type TimelineQueryOption func(*TimelineQuery)

// WithTimelineQueryEncoder overrides the cursor encoder.
func WithTimelineQueryEncoder(e encoder.Encoder) TimelineQueryOption {
	return func(q *TimelineQuery) {
		q.encoder = e
	}
}

// WithTimelineQueryLogger overrides the logger.
func WithTimelineQueryLogger(l logger.Logger) TimelineQueryOption {
	return func(q *TimelineQuery) {
		q.logger = l
	}
}

// NewTimelineQuery builds a TimelineQuery over the datastore.
func NewTimelineQuery(datastore storage.Datastore, opts ...TimelineQueryOption) *TimelineQuery {
	q := &TimelineQuery{
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

// Execute runs the timeline pipeline.
func (q *TimelineQuery) Execute(ctx context.Context, req *TimelineRequest) (*FeedResponse, error) {
	p := pipeline.New(q.skeleton, q.hydrate, q.rules, q.present)
	return p.Run(ctx, req)
}

func (q *TimelineQuery) skeleton(ctx context.Context, req *TimelineRequest) (feedSkeleton, error) {
	from, err := decodeCursor(q.encoder, req.Cursor)
	if err != nil {
		return feedSkeleton{}, err
	}
	opts := storage.NewPageOptions(req.Limit, from)
	filter := storage.ParseContentFilter(req.Filter)

	var items []storage.FeedItemRow
	var cursor string
	switch req.Algorithm {
	case AlgorithmFollowing, "":
		if req.ViewerDID == "" {
			return feedSkeleton{}, ErrViewerRequired
		}
		items, cursor, err = q.datastore.GetFollowingFeed(ctx, req.ViewerDID, filter, opts)
	case AlgorithmEverything:
		items, cursor, err = q.datastore.GetEverythingFeed(ctx, filter, opts)
	default:
		return feedSkeleton{}, ErrUnknownAlgorithm
	}
	if err != nil {
		return feedSkeleton{}, err
	}
	return feedSkeleton{items: items, cursor: cursor}, nil
}

func (q *TimelineQuery) hydrate(ctx context.Context, req *TimelineRequest, skeleton feedSkeleton) (*hydration.State, error) {
	return q.hydrator.HydrateFeedItems(ctx, skeleton.items, req.ViewerDID)
}

func (q *TimelineQuery) rules(_ context.Context, _ *TimelineRequest, skeleton feedSkeleton, state *hydration.State) (feedSkeleton, error) {
	skeleton.items = views.FilterFeedItems(state, skeleton.items, views.FeedFilterOpts{})
	return skeleton, nil
}

func (q *TimelineQuery) present(_ context.Context, _ *TimelineRequest, skeleton feedSkeleton, state *hydration.State) (*FeedResponse, error) {
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
