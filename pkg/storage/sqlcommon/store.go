package sqlcommon

import (
	"context"
	"database/sql"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	json "github.com/goccy/go-json"

	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
)

var tracer = otel.Tracer("appview/pkg/storage/sqlcommon")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+name)
}

// Store implements the query routes and batched record reads shared by every
// SQL engine. Engine-specific concerns (DSN preparation, error translation,
// busy retry) live in the per-engine packages, injected through DBInfo.
type Store struct {
	dbInfo *DBInfo
	logger logger.Logger
}

// NewStore builds the shared query implementation on top of an engine DBInfo.
func NewStore(dbInfo *DBInfo, l logger.Logger) *Store {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Store{dbInfo: dbInfo, logger: l}
}

// DBInfo exposes the underlying handle for the indexing layer.
func (s *Store) DBInfo() *DBInfo { return s.dbInfo }

func (s *Store) stbl() sq.StatementBuilderType { return s.dbInfo.Builder() }

// feedItemColumns are selected for every skeleton query.
var feedItemColumns = []string{
	"feed_item.uri", "feed_item.cid", "feed_item.type",
	"feed_item.post_uri", "feed_item.originator_did", "feed_item.sort_at",
}

// keysetCond builds the strictly-after-cursor predicate for the composite
// (sort_at DESC, cid DESC) order.
func keysetCond(c storage.Cursor) sq.Sqlizer {
	return sq.Or{
		sq.Lt{"feed_item.sort_at": c.SortAt},
		sq.And{
			sq.Eq{"feed_item.sort_at": c.SortAt},
			sq.Lt{"feed_item.cid": c.CID},
		},
	}
}

func paginateFeedItems(builder sq.SelectBuilder, opts storage.PageOptions, limit int) (sq.SelectBuilder, error) {
	if opts.From != "" {
		cursor, err := storage.ParseCursor(opts.From)
		if err != nil {
			return builder, err
		}
		builder = builder.Where(keysetCond(cursor))
	}
	return builder.
		OrderBy("feed_item.sort_at DESC", "feed_item.cid DESC").
		Limit(uint64(limit)), nil
}

func (s *Store) queryFeedItems(ctx context.Context, builder sq.SelectBuilder) ([]storage.FeedItemRow, error) {
	rows, err := builder.QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	var items []storage.FeedItemRow
	for rows.Next() {
		var item storage.FeedItemRow
		var sortAt string
		if err := rows.Scan(&item.URI, &item.CID, &item.Type, &item.PostURI, &item.OriginatorDID, &sortAt); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		item.SortAt = records.ParseTime(sortAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return items, nil
}

// contentFilter restricts a feed_item query to one content type, keeping
// reposts whose subject matches via a self-join.
func contentFilter(builder sq.SelectBuilder, filter storage.ContentFilter) sq.SelectBuilder {
	if filter == storage.FilterAll || filter == "" {
		return builder
	}
	return builder.
		Join("feed_item AS subject ON feed_item.post_uri = subject.uri").
		Where(sq.Or{
			sq.Eq{"feed_item.type": string(filter)},
			sq.And{
				sq.Eq{"feed_item.type": string(storage.FeedItemRepost)},
				sq.Eq{"subject.type": string(filter)},
			},
		})
}

// GetAuthorFeed see [storage.FeedReader].GetAuthorFeed.
func (s *Store) GetAuthorFeed(ctx context.Context, actorDID string, feedType storage.AuthorFeedType, opts storage.PageOptions) ([]storage.FeedItemRow, string, error) {
	ctx, span := startTrace(ctx, "GetAuthorFeed")
	defer span.End()

	builder := s.stbl().
		Select(feedItemColumns...).
		From("feed_item").
		LeftJoin("post ON post.uri = feed_item.post_uri").
		LeftJoin("review_rating ON review_rating.uri = feed_item.post_uri").
		Where(sq.Eq{"feed_item.originator_did": actorDID})

	authorRef := "at://" + actorDID + "/%"
	switch feedType {
	case storage.AuthorFeedNoReplies:
		builder = builder.
			Where(sq.NotEq{"feed_item.type": string(storage.FeedItemReview)}).
			Where(sq.Or{
				sq.Eq{"post.reply_parent": nil},
				sq.Eq{"feed_item.type": string(storage.FeedItemRepost)},
			})
	case storage.AuthorFeedAuthorThreads:
		builder = builder.
			Where(sq.Or{
				sq.NotEq{"feed_item.type": string(storage.FeedItemReview)},
				sq.Like{"review_rating.subject": authorRef},
			}).
			Where(sq.Or{
				sq.Eq{"feed_item.type": string(storage.FeedItemRepost)},
				sq.Eq{"post.reply_parent": nil},
				sq.Like{"post.reply_root": authorRef},
			})
	}

	builder, err := paginateFeedItems(builder, opts, opts.PageSize)
	if err != nil {
		return nil, "", err
	}

	items, err := s.queryFeedItems(ctx, builder)
	if err != nil {
		return nil, "", err
	}

	cursor, err := storage.CursorFromLastItem(items, opts.PageSize)
	return items, cursor, err
}

// GetFollowingFeed see [storage.FeedReader].GetFollowingFeed. The followed
// branch and the self branch are paginated independently and merged here with
// the same (sort_at, cid) comparator the database uses, because the branches
// carry different per-branch limits.
func (s *Store) GetFollowingFeed(ctx context.Context, viewerDID string, filter storage.ContentFilter, opts storage.PageOptions) ([]storage.FeedItemRow, string, error) {
	ctx, span := startTrace(ctx, "GetFollowingFeed")
	defer span.End()

	followQb := contentFilter(s.stbl().
		Select(feedItemColumns...).
		From("feed_item").
		Join("follow ON follow.subject_did = feed_item.originator_did").
		Where(sq.Eq{"follow.creator": viewerDID}), filter)

	selfLimit := opts.PageSize
	if selfLimit > storage.SelfBranchLimit {
		selfLimit = storage.SelfBranchLimit
	}
	selfQb := contentFilter(s.stbl().
		Select(feedItemColumns...).
		From("feed_item").
		Where(sq.Eq{"feed_item.originator_did": viewerDID}), filter)

	followQb, err := paginateFeedItems(followQb, opts, opts.PageSize)
	if err != nil {
		return nil, "", err
	}
	selfQb, err = paginateFeedItems(selfQb, opts, selfLimit)
	if err != nil {
		return nil, "", err
	}

	followItems, err := s.queryFeedItems(ctx, followQb)
	if err != nil {
		return nil, "", err
	}
	selfItems, err := s.queryFeedItems(ctx, selfQb)
	if err != nil {
		return nil, "", err
	}

	items := mergeFeedItems(followItems, selfItems, opts.PageSize)

	// Merged-page fullness alone cannot decide continuation here: the self
	// branch is capped below the page size, so a short merged page can still
	// leave rows behind whenever any branch hit its own limit.
	cursor := ""
	if len(items) > 0 &&
		(len(followItems) >= opts.PageSize || len(selfItems) >= selfLimit || len(items) >= opts.PageSize) {
		last := items[len(items)-1]
		cursor, err = storage.NewCursor(last.SortAt, last.CID).Serialize()
		if err != nil {
			return nil, "", err
		}
	}
	return items, cursor, nil
}

// mergeFeedItems merges branch results by descending (sortAt, cid), dropping
// duplicate uris, truncated to limit.
func mergeFeedItems(a, b []storage.FeedItemRow, limit int) []storage.FeedItemRow {
	merged := make([]storage.FeedItemRow, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].SortAt.Equal(merged[j].SortAt) {
			return merged[i].SortAt.After(merged[j].SortAt)
		}
		return merged[i].CID > merged[j].CID
	})

	seen := make(map[string]struct{}, len(merged))
	out := merged[:0]
	for _, item := range merged {
		if _, ok := seen[item.URI]; ok {
			continue
		}
		seen[item.URI] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

// GetEverythingFeed see [storage.FeedReader].GetEverythingFeed.
func (s *Store) GetEverythingFeed(ctx context.Context, filter storage.ContentFilter, opts storage.PageOptions) ([]storage.FeedItemRow, string, error) {
	ctx, span := startTrace(ctx, "GetEverythingFeed")
	defer span.End()

	builder := contentFilter(s.stbl().
		Select(feedItemColumns...).
		From("feed_item"), filter)

	builder, err := paginateFeedItems(builder, opts, opts.PageSize)
	if err != nil {
		return nil, "", err
	}

	items, err := s.queryFeedItems(ctx, builder)
	if err != nil {
		return nil, "", err
	}

	cursor, err := storage.CursorFromLastItem(items, opts.PageSize)
	return items, cursor, err
}

// GetRecipesFeed see [storage.FeedReader].GetRecipesFeed.
func (s *Store) GetRecipesFeed(ctx context.Context, opts storage.PageOptions) ([]storage.FeedItemRow, string, error) {
	ctx, span := startTrace(ctx, "GetRecipesFeed")
	defer span.End()

	builder := s.stbl().
		Select(feedItemColumns...).
		From("feed_item").
		Where(sq.Eq{"feed_item.type": string(storage.FeedItemRecipe)})

	builder, err := paginateFeedItems(builder, opts, opts.PageSize)
	if err != nil {
		return nil, "", err
	}

	items, err := s.queryFeedItems(ctx, builder)
	if err != nil {
		return nil, "", err
	}

	cursor, err := storage.CursorFromLastItem(items, opts.PageSize)
	return items, cursor, err
}

// SearchPosts see [storage.FeedReader].SearchPosts. This is the relational
// fallback used when no external search backend is configured.
func (s *Store) SearchPosts(ctx context.Context, term string, opts storage.PageOptions) ([]string, string, error) {
	ctx, span := startTrace(ctx, "SearchPosts")
	defer span.End()

	builder := s.stbl().
		Select("post.uri", "post.cid", "post.sort_at").
		From("post").
		Where(sq.Like{"post.text": "%" + term + "%"})

	if opts.From != "" {
		cursor, err := storage.ParseCursor(opts.From)
		if err != nil {
			return nil, "", err
		}
		builder = builder.Where(sq.Or{
			sq.Lt{"post.sort_at": cursor.SortAt},
			sq.And{
				sq.Eq{"post.sort_at": cursor.SortAt},
				sq.Lt{"post.cid": cursor.CID},
			},
		})
	}
	builder = builder.
		OrderBy("post.sort_at DESC", "post.cid DESC").
		Limit(uint64(opts.PageSize))

	rows, err := builder.QueryContext(ctx)
	if err != nil {
		return nil, "", s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	var uris []string
	var items []storage.FeedItemRow
	for rows.Next() {
		var item storage.FeedItemRow
		var sortAt string
		if err := rows.Scan(&item.URI, &item.CID, &sortAt); err != nil {
			return nil, "", s.dbInfo.HandleError(err)
		}
		item.SortAt = records.ParseTime(sortAt)
		items = append(items, item)
		uris = append(uris, item.URI)
	}
	if err := rows.Err(); err != nil {
		return nil, "", s.dbInfo.HandleError(err)
	}

	cursor, err := storage.CursorFromLastItem(items, opts.PageSize)
	return uris, cursor, err
}

// GetThread see [storage.FeedReader].GetThread. Replies are joined at read
// time through reply_root, so a reply indexed before its root still appears
// once the root arrives.
func (s *Store) GetThread(ctx context.Context, rootURI string, below int) ([]string, error) {
	ctx, span := startTrace(ctx, "GetThread")
	defer span.End()

	uris := []string{rootURI}
	if below <= 0 {
		return uris, nil
	}

	rows, err := s.stbl().
		Select("post.uri").
		From("post").
		Where(sq.Or{
			sq.Eq{"post.reply_root": rootURI},
			sq.Eq{"post.reply_parent": rootURI},
		}).
		OrderBy("post.sort_at DESC", "post.cid DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	seen := map[string]struct{}{rootURI: {}}
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return uris, nil
}

var recordColumns = []string{
	"record.uri", "record.cid", "record.did", "record.collection",
	"record.json", "record.created_at", "record.indexed_at",
	"record.takedown_ref", "record.tags",
}

func (s *Store) scanRecordRows(rows *sql.Rows) (map[string]storage.RecordRow, error) {
	out := make(map[string]storage.RecordRow)
	for rows.Next() {
		row, err := scanRecordRow(rows)
		if err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		out[row.URI] = row
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return out, nil
}

func scanRecordRow(rows *sql.Rows) (storage.RecordRow, error) {
	var row storage.RecordRow
	var createdAt, indexedAt string
	var takedownRef, tags sql.NullString
	if err := rows.Scan(&row.URI, &row.CID, &row.DID, &row.Collection, &row.JSON, &createdAt, &indexedAt, &takedownRef, &tags); err != nil {
		return storage.RecordRow{}, err
	}
	row.CreatedAt = records.ParseTime(createdAt)
	row.IndexedAt = records.ParseTime(indexedAt)
	row.TakedownRef = takedownRef.String
	if tags.Valid && tags.String != "" {
		// Tags are stored as a JSON string array; unparseable tag payloads are
		// treated as untagged rather than failing the read.
		_ = json.Unmarshal([]byte(tags.String), &row.Tags)
	}
	return row, nil
}

// GetRecords see [storage.RecordReader].GetRecords.
func (s *Store) GetRecords(ctx context.Context, collection string, uris []string) (map[string]storage.RecordRow, error) {
	ctx, span := startTrace(ctx, "GetRecords")
	defer span.End()

	if len(uris) == 0 {
		return map[string]storage.RecordRow{}, nil
	}

	rows, err := s.stbl().
		Select(recordColumns...).
		From("record").
		Where(sq.Eq{"record.collection": collection}).
		Where(sq.Eq{"record.uri": uris}).
		Where(sq.Eq{"record.takedown_ref": nil}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	return s.scanRecordRows(rows)
}

// GetRecipeRecords see [storage.RecordReader].GetRecipeRecords.
func (s *Store) GetRecipeRecords(ctx context.Context, uris []string) (map[string]storage.RecipeRecordRow, error) {
	ctx, span := startTrace(ctx, "GetRecipeRecords")
	defer span.End()

	if len(uris) == 0 {
		return map[string]storage.RecipeRecordRow{}, nil
	}

	base, err := s.GetRecords(ctx, aturi.CollectionRecipePost, uris)
	if err != nil {
		return nil, err
	}

	revRows, err := s.stbl().
		Select(append([]string{"recipe_revision.recipe_post_uri"}, recordColumns...)...).
		From("recipe_revision").
		Join("record ON record.uri = recipe_revision.uri").
		Where(sq.Eq{"recipe_revision.recipe_post_uri": uris}).
		Where(sq.Eq{"record.takedown_ref": nil}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer revRows.Close()

	revisionsByRecipe := make(map[string][]storage.RecordRow)
	for revRows.Next() {
		var recipeURI string
		var row storage.RecordRow
		var createdAt, indexedAt string
		var takedownRef, tags sql.NullString
		if err := revRows.Scan(&recipeURI, &row.URI, &row.CID, &row.DID, &row.Collection, &row.JSON, &createdAt, &indexedAt, &takedownRef, &tags); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		row.CreatedAt = records.ParseTime(createdAt)
		row.IndexedAt = records.ParseTime(indexedAt)
		row.TakedownRef = takedownRef.String
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &row.Tags)
		}
		revisionsByRecipe[recipeURI] = append(revisionsByRecipe[recipeURI], row)
	}
	if err := revRows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}

	headRows, err := s.stbl().
		Select("recipe_post_uri", "recipe_revision_uri").
		From("recipe_head_revision").
		Where(sq.Eq{"recipe_post_uri": uris}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer headRows.Close()

	heads := make(map[string]string)
	for headRows.Next() {
		var recipeURI, revisionURI string
		if err := headRows.Scan(&recipeURI, &revisionURI); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		heads[recipeURI] = revisionURI
	}
	if err := headRows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}

	out := make(map[string]storage.RecipeRecordRow, len(base))
	for uri, rec := range base {
		revisions := revisionsByRecipe[uri]
		sort.SliceStable(revisions, func(i, j int) bool {
			si, sj := revisions[i].SortAt(), revisions[j].SortAt()
			if !si.Equal(sj) {
				return si.Before(sj)
			}
			return revisions[i].CID < revisions[j].CID
		})
		out[uri] = storage.RecipeRecordRow{
			Record:    rec,
			Revisions: revisions,
			HeadURI:   heads[uri],
		}
	}
	return out, nil
}

// GetAggregates see [storage.RecordReader].GetAggregates.
func (s *Store) GetAggregates(ctx context.Context, uris []string) (map[string]storage.Aggregates, error) {
	ctx, span := startTrace(ctx, "GetAggregates")
	defer span.End()

	out := make(map[string]storage.Aggregates, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	for _, uri := range uris {
		out[uri] = storage.Aggregates{}
	}

	type countQuery struct {
		table  string
		column string
		apply  func(agg *storage.Aggregates, n int64)
	}
	countQueries := []countQuery{
		{"likes", "subject", func(agg *storage.Aggregates, n int64) { agg.Likes = n }},
		{"repost", "subject", func(agg *storage.Aggregates, n int64) { agg.Reposts = n }},
		{"post", "reply_parent", func(agg *storage.Aggregates, n int64) { agg.Replies = n }},
	}

	for _, q := range countQueries {
		rows, err := s.stbl().
			Select(q.column, "COUNT(*)").
			From(q.table).
			Where(sq.Eq{q.column: uris}).
			GroupBy(q.column).
			QueryContext(ctx)
		if err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		for rows.Next() {
			var subject string
			var n int64
			if err := rows.Scan(&subject, &n); err != nil {
				rows.Close()
				return nil, s.dbInfo.HandleError(err)
			}
			agg := out[subject]
			q.apply(&agg, n)
			out[subject] = agg
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, s.dbInfo.HandleError(err)
		}
		rows.Close()
	}

	ratingRows, err := s.stbl().
		Select("uri", "rating_count", "rating_average", "review_count").
		From("rating_agg").
		Where(sq.Eq{"uri": uris}).
		Where(sq.Eq{"aspect": ""}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer ratingRows.Close()

	for ratingRows.Next() {
		var uri string
		var count, reviews int64
		var avg sql.NullFloat64
		if err := ratingRows.Scan(&uri, &count, &avg, &reviews); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		agg := out[uri]
		agg.RatingCount = count
		agg.ReviewCount = reviews
		if avg.Valid {
			v := avg.Float64
			agg.RatingAverage = &v
		}
		out[uri] = agg
	}
	if err := ratingRows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return out, nil
}

func (s *Store) actorSubjectURIs(ctx context.Context, table, actorDID string, subjectURIs []string) (map[string]string, error) {
	if len(subjectURIs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.stbl().
		Select("subject", "uri").
		From(table).
		Where(sq.Eq{"creator": actorDID}).
		Where(sq.Eq{"subject": subjectURIs}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var subject, uri string
		if err := rows.Scan(&subject, &uri); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		out[subject] = uri
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return out, nil
}

// GetLikesByActorAndSubjects see [storage.RecordReader].
func (s *Store) GetLikesByActorAndSubjects(ctx context.Context, actorDID string, subjectURIs []string) (map[string]string, error) {
	ctx, span := startTrace(ctx, "GetLikesByActorAndSubjects")
	defer span.End()

	return s.actorSubjectURIs(ctx, "likes", actorDID, subjectURIs)
}

// GetRepostsByActorAndSubjects see [storage.RecordReader].
func (s *Store) GetRepostsByActorAndSubjects(ctx context.Context, actorDID string, subjectURIs []string) (map[string]string, error) {
	ctx, span := startTrace(ctx, "GetRepostsByActorAndSubjects")
	defer span.End()

	return s.actorSubjectURIs(ctx, "repost", actorDID, subjectURIs)
}

// GetThreadMutes see [storage.RecordReader].GetThreadMutes.
func (s *Store) GetThreadMutes(ctx context.Context, actorDID string, rootURIs []string) (map[string]bool, error) {
	ctx, span := startTrace(ctx, "GetThreadMutes")
	defer span.End()

	out := make(map[string]bool, len(rootURIs))
	if len(rootURIs) == 0 {
		return out, nil
	}
	for _, uri := range rootURIs {
		out[uri] = false
	}

	rows, err := s.stbl().
		Select("root_uri").
		From("thread_mute").
		Where(sq.Eq{"actor_did": actorDID}).
		Where(sq.Eq{"root_uri": rootURIs}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		out[uri] = true
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return out, nil
}

// GetRelationships see [storage.RecordReader].GetRelationships.
func (s *Store) GetRelationships(ctx context.Context, viewerDID string, dids []string) (map[string]storage.RelationshipState, error) {
	ctx, span := startTrace(ctx, "GetRelationships")
	defer span.End()

	out := make(map[string]storage.RelationshipState, len(dids))
	if len(dids) == 0 {
		return out, nil
	}
	for _, did := range dids {
		out[did] = storage.RelationshipState{}
	}

	blockRows, err := s.stbl().
		Select("creator", "subject_did").
		From("block").
		Where(sq.Or{
			sq.And{sq.Eq{"creator": viewerDID}, sq.Eq{"subject_did": dids}},
			sq.And{sq.Eq{"creator": dids}, sq.Eq{"subject_did": viewerDID}},
		}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer blockRows.Close()

	for blockRows.Next() {
		var creator, subject string
		if err := blockRows.Scan(&creator, &subject); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		if creator == viewerDID {
			state := out[subject]
			state.Blocking = true
			out[subject] = state
		} else {
			state := out[creator]
			state.BlockedBy = true
			out[creator] = state
		}
	}
	if err := blockRows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}

	muteRows, err := s.stbl().
		Select("subject_did").
		From("mute").
		Where(sq.Eq{"creator": viewerDID}).
		Where(sq.Eq{"subject_did": dids}).
		QueryContext(ctx)
	if err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	defer muteRows.Close()

	for muteRows.Next() {
		var subject string
		if err := muteRows.Scan(&subject); err != nil {
			return nil, s.dbInfo.HandleError(err)
		}
		state := out[subject]
		state.Muted = true
		out[subject] = state
	}
	if err := muteRows.Err(); err != nil {
		return nil, s.dbInfo.HandleError(err)
	}
	return out, nil
}

// ListNotifications see [storage.RecordReader].ListNotifications.
func (s *Store) ListNotifications(ctx context.Context, did string, opts storage.PageOptions) ([]storage.NotificationRow, string, error) {
	ctx, span := startTrace(ctx, "ListNotifications")
	defer span.End()

	builder := s.stbl().
		Select("id", "did", "author_did", "record_uri", "record_cid", "reason", "reason_subject", "sort_at").
		From("notification").
		Where(sq.Eq{"did": did})

	if opts.From != "" {
		cursor, err := storage.ParseCursor(opts.From)
		if err != nil {
			return nil, "", err
		}
		builder = builder.Where(sq.Or{
			sq.Lt{"sort_at": cursor.SortAt},
			sq.And{
				sq.Eq{"sort_at": cursor.SortAt},
				sq.Lt{"id": cursor.CID},
			},
		})
	}
	builder = builder.
		OrderBy("sort_at DESC", "id DESC").
		Limit(uint64(opts.PageSize))

	rows, err := builder.QueryContext(ctx)
	if err != nil {
		return nil, "", s.dbInfo.HandleError(err)
	}
	defer rows.Close()

	var notifs []storage.NotificationRow
	for rows.Next() {
		var n storage.NotificationRow
		var sortAt string
		var reasonSubject sql.NullString
		if err := rows.Scan(&n.ID, &n.DID, &n.AuthorDID, &n.RecordURI, &n.RecordCID, &n.Reason, &reasonSubject, &sortAt); err != nil {
			return nil, "", s.dbInfo.HandleError(err)
		}
		n.ReasonSubject = reasonSubject.String
		n.SortAt = records.ParseTime(sortAt)
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, "", s.dbInfo.HandleError(err)
	}

	var cursor string
	if len(notifs) >= opts.PageSize && len(notifs) > 0 {
		last := notifs[len(notifs)-1]
		cursor, err = storage.NewCursor(last.SortAt, last.ID).Serialize()
		if err != nil {
			return nil, "", err
		}
	}
	return notifs, cursor, nil
}

// IsReady probes the underlying connection.
func (s *Store) IsReady(ctx context.Context) (bool, error) {
	if err := s.dbInfo.DB().PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}
