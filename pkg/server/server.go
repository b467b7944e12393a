// Package server exposes the appview's query routes over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/foodios/appview/internal/wellknown"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/server/feeds"
	"github.com/foodios/appview/pkg/storage"
)

// viewerHeader carries the authenticated viewer did, set by the auth gateway
// in front of this service.
const viewerHeader = "X-Appview-Viewer"

// Server wires the query objects to their HTTP routes.
type Server struct {
	datastore     storage.Datastore
	timeline      *feeds.TimelineQuery
	authorFeed    *feeds.AuthorFeedQuery
	recipesFeed   *feeds.RecipesFeedQuery
	searchPosts   *feeds.SearchPostsQuery
	thread        *feeds.ThreadQuery
	notifications *feeds.ListNotificationsQuery
	wellknown     *wellknown.Provider
	logger        logger.Logger
	metrics       bool
}

// Option applies an option to a Server.
type Option func(*Server)

// WithLogger overrides the default noop logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithSearcher installs an external search backend for searchPosts.
func WithSearcher(searcher feeds.Searcher) Option {
	return func(s *Server) {
		s.searchPosts = feeds.NewSearchPostsQuery(s.datastore,
			feeds.WithSearchPostsQuerySearcher(searcher))
	}
}

// WithWellKnownProvider installs the DID document provider.
func WithWellKnownProvider(p *wellknown.Provider) Option {
	return func(s *Server) {
		s.wellknown = p
	}
}

// WithMetrics exposes the /metrics endpoint.
func WithMetrics() Option {
	return func(s *Server) {
		s.metrics = true
	}
}

// New builds a Server over the datastore.
func New(datastore storage.Datastore, opts ...Option) *Server {
	s := &Server{
		datastore:     datastore,
		timeline:      feeds.NewTimelineQuery(datastore),
		authorFeed:    feeds.NewAuthorFeedQuery(datastore),
		recipesFeed:   feeds.NewRecipesFeedQuery(datastore),
		searchPosts:   feeds.NewSearchPostsQuery(datastore),
		thread:        feeds.NewThreadQuery(datastore),
		notifications: feeds.NewListNotificationsQuery(datastore),
		logger:        logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.wellknown != nil {
		r.Get("/.well-known/did.json", s.handleDIDDocument)
	}

	r.Route("/xrpc", func(r chi.Router) {
		r.Get("/app.bsky.feed.getTimeline", s.handleGetTimeline)
		r.Get("/app.bsky.feed.getAuthorFeed", s.handleGetAuthorFeed)
		r.Get("/app.bsky.feed.searchPosts", s.handleSearchPosts)
		r.Get("/app.bsky.feed.getPostThread", s.handleGetPostThread)
		r.Get("/app.bsky.notification.listNotifications", s.handleListNotifications)
		r.Get("/app.foodios.feed.getRecipesFeed", s.handleGetRecipesFeed)
	})

	return r
}

// requestID tags each request with an id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func viewerDID(r *http.Request) string {
	if did := r.Header.Get(viewerHeader); did != "" {
		return did
	}
	return r.URL.Query().Get("viewer")
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	name := "InternalServerError"

	switch {
	case errors.Is(err, storage.ErrInvalidCursor):
		status, name = http.StatusBadRequest, "InvalidCursor"
	case errors.Is(err, feeds.ErrViewerRequired):
		status, name = http.StatusBadRequest, "ViewerRequired"
	case errors.Is(err, feeds.ErrUnknownAlgorithm):
		status, name = http.StatusBadRequest, "UnknownAlgorithm"
	case errors.Is(err, storage.ErrNotFound):
		status, name = http.StatusNotFound, "NotFound"
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorWithContext(ctx, "request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: name, Message: err.Error()})
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to encode response", zap.Error(err))
	}
}

type feedBody struct {
	Feed   interface{} `json:"feed"`
	Cursor string      `json:"cursor,omitempty"`
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.timeline.Execute(ctx, &feeds.TimelineRequest{
		ViewerDID: viewerDID(r),
		Algorithm: r.URL.Query().Get("algorithm"),
		Filter:    r.URL.Query().Get("filter"),
		Limit:     limitParam(r),
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, feedBody{Feed: resp.Feed, Cursor: resp.Cursor})
}

func (s *Server) handleGetAuthorFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.authorFeed.Execute(ctx, &feeds.AuthorFeedRequest{
		ActorDID:  r.URL.Query().Get("actor"),
		ViewerDID: viewerDID(r),
		FeedType:  r.URL.Query().Get("filter"),
		Limit:     limitParam(r),
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, feedBody{Feed: resp.Feed, Cursor: resp.Cursor})
}

func (s *Server) handleGetRecipesFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.recipesFeed.Execute(ctx, &feeds.RecipesFeedRequest{
		ViewerDID: viewerDID(r),
		Limit:     limitParam(r),
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, feedBody{Feed: resp.Feed, Cursor: resp.Cursor})
}

func (s *Server) handleSearchPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.searchPosts.Execute(ctx, &feeds.SearchPostsRequest{
		Term:      r.URL.Query().Get("q"),
		ViewerDID: viewerDID(r),
		Limit:     limitParam(r),
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, feedBody{Feed: resp.Feed, Cursor: resp.Cursor})
}

func (s *Server) handleGetPostThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	resp, err := s.thread.Execute(ctx, &feeds.ThreadRequest{
		URI:       r.URL.Query().Get("uri"),
		ViewerDID: viewerDID(r),
		Depth:     depth,
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, map[string]interface{}{"thread": resp.Thread})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.notifications.Execute(ctx, &feeds.ListNotificationsRequest{
		DID:    viewerDID(r),
		Limit:  limitParam(r),
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, map[string]interface{}{
		"notifications": resp.Notifications,
		"cursor":        resp.Cursor,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready, err := s.datastore.IsReady(ctx)
	if err != nil || !ready {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(errorBody{Error: "NotReady", Message: "datastore not ready"})
		return
	}
	s.writeJSON(ctx, w, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.wellknown.Document(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}
