// Package hydration batch-loads everything the presentation layer needs to
// render a page of skeleton refs: records, aggregates, and viewer state.
//
// Hydration state distinguishes "never queried" from "queried and absent".
// A key missing from a Map was not asked for; a key present with a nil value
// was asked for and is known to be gone. Downstream rules rely on this to
// drop only items whose content is confirmed missing.
package hydration

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/foodios/appview/internal/concurrency"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
)

var tracer = otel.Tracer("appview/internal/hydration")

// Map is a hydration result keyed by uri (or did). See the package comment
// for the present-nil convention.
type Map[T any] map[string]*T

// Get returns the value for key, nil when absent or never queried.
func (m Map[T]) Get(key string) *T {
	if m == nil {
		return nil
	}
	return m[key]
}

// Queried reports whether key was looked up, regardless of outcome.
func (m Map[T]) Queried(key string) bool {
	_, ok := m[key]
	return ok
}

// Post is a hydrated post record.
type Post struct {
	Record *records.Post
	Row    storage.RecordRow
}

// Repost is a hydrated repost record.
type Repost struct {
	Record *records.Repost
	Row    storage.RecordRow
}

// Review is a hydrated review record.
type Review struct {
	Record *records.ReviewRating
	Row    storage.RecordRow
}

// Recipe is a hydrated recipe post with its current head revision resolved.
// Head is nil when no revision has been indexed; renderers fall back to the
// base record.
type Recipe struct {
	Record        *records.RecipePost
	Row           storage.RecordRow
	Head          *records.RecipeRevision
	HeadRow       storage.RecordRow
	RevisionCount int
}

// State is the accumulated hydration result for one request.
type State struct {
	Posts   Map[Post]
	Reposts Map[Repost]
	Reviews Map[Review]
	Recipes Map[Recipe]

	Aggregates map[string]storage.Aggregates

	ViewerDID     string
	ViewerLikes   map[string]string
	ViewerReposts map[string]string
	ThreadMutes   map[string]bool
	Relationships map[string]storage.RelationshipState
}

// NewState returns an empty state for the given viewer.
func NewState(viewerDID string) *State {
	return &State{
		Posts:         Map[Post]{},
		Reposts:       Map[Repost]{},
		Reviews:       Map[Review]{},
		Recipes:       Map[Recipe]{},
		Aggregates:    map[string]storage.Aggregates{},
		ViewerDID:     viewerDID,
		ViewerLikes:   map[string]string{},
		ViewerReposts: map[string]string{},
		ThreadMutes:   map[string]bool{},
		Relationships: map[string]storage.RelationshipState{},
	}
}

// Merge folds other into s. Later results win on key collisions, which only
// happen when a second hydration pass re-queried a key.
func (s *State) Merge(other *State) {
	if other == nil {
		return
	}
	for k, v := range other.Posts {
		s.Posts[k] = v
	}
	for k, v := range other.Reposts {
		s.Reposts[k] = v
	}
	for k, v := range other.Reviews {
		s.Reviews[k] = v
	}
	for k, v := range other.Recipes {
		s.Recipes[k] = v
	}
	for k, v := range other.Aggregates {
		s.Aggregates[k] = v
	}
	for k, v := range other.ViewerLikes {
		s.ViewerLikes[k] = v
	}
	for k, v := range other.ViewerReposts {
		s.ViewerReposts[k] = v
	}
	for k, v := range other.ThreadMutes {
		s.ThreadMutes[k] = v
	}
	for k, v := range other.Relationships {
		s.Relationships[k] = v
	}
}

// maxConcurrentLoads bounds the hydration fan-out per request.
const maxConcurrentLoads = 6

// Hydrator loads hydration state from a record reader.
type Hydrator struct {
	reader storage.RecordReader
	logger logger.Logger
}

// NewHydrator builds a Hydrator.
func NewHydrator(reader storage.RecordReader, l logger.Logger) *Hydrator {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Hydrator{reader: reader, logger: l}
}

// HydrateFeedItems loads everything needed to render the given skeleton page:
// the content record behind every item (following repost subjects), the
// aggregates for each subject, and the viewer's interaction and relationship
// state when a viewer is present.
func (h *Hydrator) HydrateFeedItems(ctx context.Context, items []storage.FeedItemRow, viewerDID string) (*State, error) {
	ctx, span := tracer.Start(ctx, "hydration.HydrateFeedItems")
	defer span.End()

	state := NewState(viewerDID)
	if len(items) == 0 {
		return state, nil
	}

	repostURIs := make([]string, 0)
	contentURIs := make([]string, 0, len(items))
	authorDIDs := map[string]struct{}{}
	for _, item := range items {
		if item.Type == storage.FeedItemRepost {
			repostURIs = append(repostURIs, item.URI)
		}
		contentURIs = append(contentURIs, item.PostURI)
		authorDIDs[item.OriginatorDID] = struct{}{}
		if did := aturi.AuthorityOf(item.PostURI); did != "" {
			authorDIDs[did] = struct{}{}
		}
	}
	contentURIs = dedupe(contentURIs)

	byCollection := aturi.GroupByCollection(contentURIs)

	pool := concurrency.NewPool(ctx, maxConcurrentLoads)

	pool.Go(func(ctx context.Context) error {
		posts, err := h.loadPosts(ctx, byCollection[aturi.CollectionPost])
		if err != nil {
			return err
		}
		state.Posts = posts
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		reposts, err := h.loadReposts(ctx, repostURIs)
		if err != nil {
			return err
		}
		state.Reposts = reposts
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		reviews, err := h.loadReviews(ctx, byCollection[aturi.CollectionReviewRating])
		if err != nil {
			return err
		}
		state.Reviews = reviews
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		recipes, err := h.loadRecipes(ctx, byCollection[aturi.CollectionRecipePost])
		if err != nil {
			return err
		}
		state.Recipes = recipes
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		aggs, err := h.reader.GetAggregates(ctx, contentURIs)
		if err != nil {
			return err
		}
		state.Aggregates = aggs
		return nil
	})

	if viewerDID != "" {
		dids := make([]string, 0, len(authorDIDs))
		for did := range authorDIDs {
			dids = append(dids, did)
		}
		pool.Go(func(ctx context.Context) error {
			likes, err := h.reader.GetLikesByActorAndSubjects(ctx, viewerDID, contentURIs)
			if err != nil {
				return err
			}
			reposts, err := h.reader.GetRepostsByActorAndSubjects(ctx, viewerDID, contentURIs)
			if err != nil {
				return err
			}
			rels, err := h.reader.GetRelationships(ctx, viewerDID, dids)
			if err != nil {
				return err
			}
			state.ViewerLikes = likes
			state.ViewerReposts = reposts
			state.Relationships = rels
			return nil
		})
	}

	if err := pool.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// HydrateThread loads thread posts plus the viewer's thread mute state for
// the root.
func (h *Hydrator) HydrateThread(ctx context.Context, uris []string, rootURI, viewerDID string) (*State, error) {
	ctx, span := tracer.Start(ctx, "hydration.HydrateThread")
	defer span.End()

	state := NewState(viewerDID)
	byCollection := aturi.GroupByCollection(uris)

	pool := concurrency.NewPool(ctx, maxConcurrentLoads)
	pool.Go(func(ctx context.Context) error {
		posts, err := h.loadPosts(ctx, byCollection[aturi.CollectionPost])
		if err != nil {
			return err
		}
		state.Posts = posts
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		recipes, err := h.loadRecipes(ctx, byCollection[aturi.CollectionRecipePost])
		if err != nil {
			return err
		}
		state.Recipes = recipes
		return nil
	})
	pool.Go(func(ctx context.Context) error {
		aggs, err := h.reader.GetAggregates(ctx, uris)
		if err != nil {
			return err
		}
		state.Aggregates = aggs
		return nil
	})
	if viewerDID != "" {
		authorDIDs := map[string]struct{}{}
		for _, uri := range uris {
			if did := aturi.AuthorityOf(uri); did != "" {
				authorDIDs[did] = struct{}{}
			}
		}
		dids := make([]string, 0, len(authorDIDs))
		for did := range authorDIDs {
			dids = append(dids, did)
		}
		pool.Go(func(ctx context.Context) error {
			mutes, err := h.reader.GetThreadMutes(ctx, viewerDID, []string{rootURI})
			if err != nil {
				return err
			}
			rels, err := h.reader.GetRelationships(ctx, viewerDID, dids)
			if err != nil {
				return err
			}
			state.ThreadMutes = mutes
			state.Relationships = rels
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// loadPosts fetches and parses post records. Every requested uri gets an
// entry; rows that are missing, taken down, or fail the parse gate map to nil.
func (h *Hydrator) loadPosts(ctx context.Context, uris []string) (Map[Post], error) {
	out := make(Map[Post], len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := h.reader.GetRecords(ctx, aturi.CollectionPost, uris)
	if err != nil {
		return nil, err
	}
	for _, uri := range uris {
		out[uri] = nil
		row, ok := rows[uri]
		if !ok {
			continue
		}
		rec, err := records.Parse(aturi.CollectionPost, row.JSON)
		if err != nil {
			h.logger.WarnWithContext(ctx, "dropping post that failed the record parse gate",
				zap.String("uri", uri), zap.Error(err))
			continue
		}
		out[uri] = &Post{Record: rec.(*records.Post), Row: row}
	}
	return out, nil
}

func (h *Hydrator) loadReposts(ctx context.Context, uris []string) (Map[Repost], error) {
	out := make(Map[Repost], len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := h.reader.GetRecords(ctx, aturi.CollectionRepost, uris)
	if err != nil {
		return nil, err
	}
	for _, uri := range uris {
		out[uri] = nil
		row, ok := rows[uri]
		if !ok {
			continue
		}
		rec, err := records.Parse(aturi.CollectionRepost, row.JSON)
		if err != nil {
			h.logger.WarnWithContext(ctx, "dropping repost that failed the record parse gate",
				zap.String("uri", uri), zap.Error(err))
			continue
		}
		out[uri] = &Repost{Record: rec.(*records.Repost), Row: row}
	}
	return out, nil
}

func (h *Hydrator) loadReviews(ctx context.Context, uris []string) (Map[Review], error) {
	out := make(Map[Review], len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := h.reader.GetRecords(ctx, aturi.CollectionReviewRating, uris)
	if err != nil {
		return nil, err
	}
	for _, uri := range uris {
		out[uri] = nil
		row, ok := rows[uri]
		if !ok {
			continue
		}
		rec, err := records.Parse(aturi.CollectionReviewRating, row.JSON)
		if err != nil {
			h.logger.WarnWithContext(ctx, "dropping review that failed the record parse gate",
				zap.String("uri", uri), zap.Error(err))
			continue
		}
		out[uri] = &Review{Record: rec.(*records.ReviewRating), Row: row}
	}
	return out, nil
}

func (h *Hydrator) loadRecipes(ctx context.Context, uris []string) (Map[Recipe], error) {
	out := make(Map[Recipe], len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := h.reader.GetRecipeRecords(ctx, uris)
	if err != nil {
		return nil, err
	}
	for _, uri := range uris {
		out[uri] = nil
		row, ok := rows[uri]
		if !ok {
			continue
		}
		rec, err := records.Parse(aturi.CollectionRecipePost, row.Record.JSON)
		if err != nil {
			h.logger.WarnWithContext(ctx, "dropping recipe that failed the record parse gate",
				zap.String("uri", uri), zap.Error(err))
			continue
		}
		recipe := &Recipe{
			Record:        rec.(*records.RecipePost),
			Row:           row.Record,
			RevisionCount: len(row.Revisions),
		}
		if row.HeadURI != "" {
			for _, rev := range row.Revisions {
				if rev.URI != row.HeadURI {
					continue
				}
				head, err := records.Parse(aturi.CollectionRecipeRevision, rev.JSON)
				if err != nil {
					h.logger.WarnWithContext(ctx, "dropping head revision that failed the record parse gate",
						zap.String("uri", rev.URI), zap.Error(err))
					break
				}
				recipe.Head = head.(*records.RecipeRevision)
				recipe.HeadRow = rev
				break
			}
		}
		out[uri] = recipe
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
