package feeds

import (
	"context"
	"sort"

	"github.com/foodios/appview/internal/hydration"
	"github.com/foodios/appview/internal/pipeline"
	"github.com/foodios/appview/internal/views"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/storage"
)

const (
	defaultThreadDepth = 6
	maxThreadDepth     = 80
)

// ThreadRequest parameterizes one thread expansion.
type ThreadRequest struct {
	URI       string
	ViewerDID string
	Depth     int
}

// ThreadResponse is one expanded thread.
type ThreadResponse struct {
	Thread *views.ThreadViewPost
}

// ThreadQuery expands a post or recipe thread.
type ThreadQuery struct {
	datastore storage.Datastore
	hydrator  *hydration.Hydrator
	logger    logger.Logger
}

// ThreadQueryOption applies an option to a ThreadQuery.
type ThreadQueryOption func(*ThreadQuery)

// WithThreadQueryLogger overrides the logger.
func WithThreadQueryLogger(l logger.Logger) ThreadQueryOption {
	return func(q *ThreadQuery) {
		q.logger = l
	}
}

// NewThreadQuery builds a ThreadQuery over the datastore.
func NewThreadQuery(datastore storage.Datastore, opts ...ThreadQueryOption) *ThreadQuery {
	q := &ThreadQuery{
		datastore: datastore,
		hydrator:  hydration.NewHydrator(datastore, nil),
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Execute runs the thread pipeline.
func (q *ThreadQuery) Execute(ctx context.Context, req *ThreadRequest) (*ThreadResponse, error) {
	p := pipeline.New(q.skeleton, q.hydrate, q.rules, q.present)
	return p.Run(ctx, req)
}

func (q *ThreadQuery) skeleton(ctx context.Context, req *ThreadRequest) ([]string, error) {
	depth := req.Depth
	if depth <= 0 {
		depth = defaultThreadDepth
	}
	if depth > maxThreadDepth {
		depth = maxThreadDepth
	}
	return q.datastore.GetThread(ctx, req.URI, depth)
}

func (q *ThreadQuery) hydrate(ctx context.Context, req *ThreadRequest, uris []string) (*hydration.State, error) {
	return q.hydrator.HydrateThread(ctx, uris, req.URI, req.ViewerDID)
}

func (q *ThreadQuery) rules(_ context.Context, req *ThreadRequest, uris []string, state *hydration.State) ([]string, error) {
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		// The root stays even when blocked so the caller can distinguish
		// "blocked" from "missing"; blocked replies just disappear.
		if uri != req.URI && views.ViewerBlockExists(state, aturi.AuthorityOf(uri)) {
			continue
		}
		out = append(out, uri)
	}
	return out, nil
}

func (q *ThreadQuery) present(_ context.Context, req *ThreadRequest, uris []string, state *hydration.State) (*ThreadResponse, error) {
	root := q.renderNode(req.URI, state)
	if root == nil {
		return nil, storage.ErrNotFound
	}
	root.Muted = state.ThreadMutes[req.URI]

	// Group replies under their parent, newest first.
	children := map[string][]string{}
	for _, uri := range uris {
		if uri == req.URI {
			continue
		}
		post := state.Posts.Get(uri)
		if post == nil || post.Record.Reply == nil {
			continue
		}
		parent := post.Record.Reply.Parent.URI
		children[parent] = append(children[parent], uri)
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool {
			a, b := state.Posts.Get(siblings[i]), state.Posts.Get(siblings[j])
			return a.Row.SortAt().After(b.Row.SortAt())
		})
	}

	var attach func(node *views.ThreadViewPost, uri string)
	attach = func(node *views.ThreadViewPost, uri string) {
		for _, child := range children[uri] {
			childNode := q.renderNode(child, state)
			if childNode == nil {
				continue
			}
			attach(childNode, child)
			node.Replies = append(node.Replies, childNode)
		}
	}
	attach(root, req.URI)

	return &ThreadResponse{Thread: root}, nil
}

func (q *ThreadQuery) renderNode(uri string, state *hydration.State) *views.ThreadViewPost {
	if post := views.RenderPost(uri, state); post != nil {
		return &views.ThreadViewPost{Post: post}
	}
	if recipe := views.RenderRecipe(uri, state); recipe != nil {
		return &views.ThreadViewPost{Recipe: recipe}
	}
	return nil
}
