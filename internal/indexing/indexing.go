// Package indexing turns repo events into indexed rows: the raw record table,
// the per-collection derived tables, the denormalized feed_item timeline, and
// the notification and aggregate side effects.
//
// Indexing is idempotent. Redelivered events hit unique constraints, are
// swallowed as no-ops, and produce no duplicate side effects.
package indexing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("appview/internal/indexing")

// Indexer applies record create and delete events to the datastore. All
// derived writes for one event happen in a single transaction.
type Indexer struct {
	dbInfo *sqlcommon.DBInfo
	logger logger.Logger
	clock  func() time.Time
}

// NewIndexer builds an Indexer over an engine DBInfo.
func NewIndexer(dbInfo *sqlcommon.DBInfo, l logger.Logger) *Indexer {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Indexer{
		dbInfo: dbInfo,
		logger: l,
		clock:  time.Now,
	}
}

// recordMeta is the per-event indexing context threaded through processors.
// Timestamps are pre-formatted in the canonical fixed-width layout.
type recordMeta struct {
	uri        string
	cid        string
	did        string
	collection string
	raw        []byte
	createdAt  string
	indexedAt  string
	sortAt     string
}

func (i *Indexer) builder(tx *sql.Tx) sq.StatementBuilderType {
	return i.dbInfo.Builder().RunWith(tx)
}

// IndexRecord parses, validates, and indexes one record create event. Invalid
// or unindexable records return an error without touching the store; the
// caller decides whether to drop or dead-letter the event.
func (i *Indexer) IndexRecord(ctx context.Context, uri aturi.URI, cid string, raw []byte, indexedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "indexing.IndexRecord")
	defer span.End()

	rec, err := records.Parse(uri.Collection(), raw)
	if err != nil {
		return err
	}

	createdAt, hasCreatedAt := records.CreatedAt(raw)
	indexedAt = indexedAt.UTC()
	sortAt := records.SortAt(createdAt, indexedAt)

	meta := recordMeta{
		uri:        uri.String(),
		cid:        cid,
		did:        uri.Authority(),
		collection: uri.Collection(),
		raw:        raw,
		indexedAt:  records.FormatTime(indexedAt),
		sortAt:     records.FormatTime(sortAt),
	}
	if hasCreatedAt {
		meta.createdAt = records.FormatTime(createdAt)
	}

	return i.dbInfo.WithTx(ctx, func(tx *sql.Tx) error {
		inserted, err := i.insertRecordRow(ctx, tx, meta)
		if err != nil {
			return err
		}
		if !inserted {
			i.logger.DebugWithContext(ctx, "record already indexed, skipping",
				zap.String("uri", meta.uri))
			return nil
		}
		return i.processInsert(ctx, tx, meta, rec)
	})
}

// DeleteRecord removes one record and unwinds its derived rows. Deleting an
// unknown uri is a no-op.
func (i *Indexer) DeleteRecord(ctx context.Context, uri aturi.URI) error {
	ctx, span := tracer.Start(ctx, "indexing.DeleteRecord")
	defer span.End()

	return i.dbInfo.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := i.builder(tx).
			Delete("record").
			Where(sq.Eq{"uri": uri.String()}).
			ExecContext(ctx)
		if err != nil {
			return i.dbInfo.HandleError(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}
		if err := i.processDelete(ctx, tx, uri); err != nil {
			return err
		}
		return i.deleteNotifications(ctx, tx, uri.String())
	})
}

func (i *Indexer) insertRecordRow(ctx context.Context, tx *sql.Tx, meta recordMeta) (bool, error) {
	res, err := i.builder(tx).
		Insert("record").
		Columns("uri", "cid", "did", "collection", "json", "created_at", "indexed_at").
		Values(meta.uri, meta.cid, meta.did, meta.collection, string(meta.raw), meta.createdAt, meta.indexedAt).
		Suffix("ON CONFLICT DO NOTHING").
		ExecContext(ctx)
	if err != nil {
		return false, i.dbInfo.HandleError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (i *Indexer) processInsert(ctx context.Context, tx *sql.Tx, meta recordMeta, rec records.Record) error {
	switch r := rec.(type) {
	case *records.Post:
		return i.insertPost(ctx, tx, meta, r)
	case *records.Repost:
		return i.insertRepost(ctx, tx, meta, r)
	case *records.Like:
		return i.insertLike(ctx, tx, meta, r)
	case *records.Follow:
		return i.insertFollow(ctx, tx, meta, r)
	case *records.Block:
		return i.insertBlock(ctx, tx, meta, r)
	case *records.RecipePost:
		return i.insertRecipePost(ctx, tx, meta, r)
	case *records.RecipeRevision:
		return i.insertRecipeRevision(ctx, tx, meta, r)
	case *records.ReviewRating:
		return i.insertReviewRating(ctx, tx, meta, r)
	}
	return fmt.Errorf("no processor for collection %q", meta.collection)
}

func (i *Indexer) processDelete(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	switch records.KindForCollection(uri.Collection()) {
	case records.KindPost:
		return i.deletePost(ctx, tx, uri)
	case records.KindRepost:
		return i.deleteRepost(ctx, tx, uri)
	case records.KindLike:
		return i.deleteLike(ctx, tx, uri)
	case records.KindFollow:
		return i.deleteFollow(ctx, tx, uri)
	case records.KindBlock:
		return i.deleteBlock(ctx, tx, uri)
	case records.KindRecipePost:
		return i.deleteRecipePost(ctx, tx, uri)
	case records.KindRecipeRevision:
		return i.deleteRecipeRevision(ctx, tx, uri)
	case records.KindReviewRating:
		return i.deleteReviewRating(ctx, tx, uri)
	}
	return fmt.Errorf("no processor for collection %q", uri.Collection())
}
