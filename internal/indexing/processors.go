package indexing

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
)

// insertDerived inserts one derived-table row, reporting whether a row was
// actually written. A conflict means the event was a duplicate.
func (i *Indexer) insertDerived(ctx context.Context, tx *sql.Tx, table string, columns []string, values []interface{}) (bool, error) {
	res, err := i.builder(tx).
		Insert(table).
		Columns(columns...).
		Values(values...).
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

// insertFeedItem adds the timeline entry for a feed-eligible record. postURI
// is the content the item points at: the record's own uri except for reposts,
// where it is the repost subject.
func (i *Indexer) insertFeedItem(ctx context.Context, tx *sql.Tx, meta recordMeta, itemType storage.FeedItemType, postURI string) error {
	_, err := i.insertDerived(ctx, tx, "feed_item",
		[]string{"uri", "cid", "type", "post_uri", "originator_did", "sort_at"},
		[]interface{}{meta.uri, meta.cid, string(itemType), postURI, meta.did, meta.sortAt})
	return err
}

func (i *Indexer) insertPost(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.Post) error {
	var replyRoot, replyParent interface{}
	if rec.Reply != nil {
		replyRoot = rec.Reply.Root.URI
		replyParent = rec.Reply.Parent.URI
	}

	inserted, err := i.insertDerived(ctx, tx, "post",
		[]string{"uri", "cid", "creator", "text", "reply_root", "reply_parent", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Text, replyRoot, replyParent, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	if err := i.insertFeedItem(ctx, tx, meta, storage.FeedItemPost, meta.uri); err != nil {
		return err
	}

	if rec.Reply != nil {
		parentDID := aturi.AuthorityOf(rec.Reply.Parent.URI)
		if err := i.insertNotification(ctx, tx, meta, parentDID, "reply", rec.Reply.Parent.URI); err != nil {
			return err
		}
		rootDID := aturi.AuthorityOf(rec.Reply.Root.URI)
		if rootDID != parentDID {
			if err := i.insertNotification(ctx, tx, meta, rootDID, "reply", rec.Reply.Root.URI); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Indexer) deletePost(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx,
		del{"post", sq.Eq{"uri": uri.String()}},
		del{"feed_item", sq.Eq{"uri": uri.String()}})
}

func (i *Indexer) insertRepost(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.Repost) error {
	inserted, err := i.insertDerived(ctx, tx, "repost",
		[]string{"uri", "cid", "creator", "subject", "subject_cid", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Subject.URI, rec.Subject.CID, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	if err := i.insertFeedItem(ctx, tx, meta, storage.FeedItemRepost, rec.Subject.URI); err != nil {
		return err
	}

	return i.insertNotification(ctx, tx, meta, aturi.AuthorityOf(rec.Subject.URI), "repost", rec.Subject.URI)
}

func (i *Indexer) deleteRepost(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx,
		del{"repost", sq.Eq{"uri": uri.String()}},
		del{"feed_item", sq.Eq{"uri": uri.String()}})
}

func (i *Indexer) insertLike(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.Like) error {
	inserted, err := i.insertDerived(ctx, tx, "likes",
		[]string{"uri", "cid", "creator", "subject", "subject_cid", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Subject.URI, rec.Subject.CID, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	return i.insertNotification(ctx, tx, meta, aturi.AuthorityOf(rec.Subject.URI), "like", rec.Subject.URI)
}

func (i *Indexer) deleteLike(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx, del{"likes", sq.Eq{"uri": uri.String()}})
}

func (i *Indexer) insertFollow(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.Follow) error {
	inserted, err := i.insertDerived(ctx, tx, "follow",
		[]string{"uri", "cid", "creator", "subject_did", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Subject, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	return i.insertNotification(ctx, tx, meta, rec.Subject, "follow", "")
}

func (i *Indexer) deleteFollow(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx, del{"follow", sq.Eq{"uri": uri.String()}})
}

func (i *Indexer) insertBlock(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.Block) error {
	_, err := i.insertDerived(ctx, tx, "block",
		[]string{"uri", "cid", "creator", "subject_did", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Subject, meta.createdAt, meta.indexedAt, meta.sortAt})
	return err
}

func (i *Indexer) deleteBlock(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx, del{"block", sq.Eq{"uri": uri.String()}})
}

func (i *Indexer) insertRecipePost(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.RecipePost) error {
	inserted, err := i.insertDerived(ctx, tx, "recipe_post",
		[]string{"uri", "cid", "creator", "title", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Title, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	return i.insertFeedItem(ctx, tx, meta, storage.FeedItemRecipe, meta.uri)
}

func (i *Indexer) deleteRecipePost(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	return i.deleteRows(ctx, tx,
		del{"recipe_post", sq.Eq{"uri": uri.String()}},
		del{"feed_item", sq.Eq{"uri": uri.String()}},
		del{"recipe_head_revision", sq.Eq{"recipe_post_uri": uri.String()}})
}

func (i *Indexer) insertRecipeRevision(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.RecipeRevision) error {
	inserted, err := i.insertDerived(ctx, tx, "recipe_revision",
		[]string{"uri", "cid", "creator", "recipe_post_uri", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.RecipePostRef.URI, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil || !inserted {
		return err
	}

	// Last observed revision wins the head pointer, regardless of declared
	// createdAt. Out-of-order redelivery of old revisions cannot move the head
	// because the insert above is a no-op for known uris.
	_, err = i.builder(tx).
		Insert("recipe_head_revision").
		Columns("recipe_post_uri", "recipe_revision_uri", "updated_at").
		Values(rec.RecipePostRef.URI, meta.uri, meta.indexedAt).
		Suffix("ON CONFLICT (recipe_post_uri) DO UPDATE SET recipe_revision_uri = excluded.recipe_revision_uri, updated_at = excluded.updated_at").
		ExecContext(ctx)
	if err != nil {
		return i.dbInfo.HandleError(err)
	}
	return nil
}

func (i *Indexer) deleteRecipeRevision(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	// The head pointer is dropped rather than reverted to an older revision;
	// readers fall back to the recipe post itself until a new revision lands.
	return i.deleteRows(ctx, tx,
		del{"recipe_revision", sq.Eq{"uri": uri.String()}},
		del{"recipe_head_revision", sq.Eq{"recipe_revision_uri": uri.String()}})
}

func (i *Indexer) insertReviewRating(ctx context.Context, tx *sql.Tx, meta recordMeta, rec *records.ReviewRating) error {
	var rating interface{}
	if rec.Rating != nil {
		rating = *rec.Rating
	}

	inserted, err := i.insertDerived(ctx, tx, "review_rating",
		[]string{"uri", "cid", "creator", "subject", "subject_cid", "rating", "review_text", "created_at", "indexed_at", "sort_at"},
		[]interface{}{meta.uri, meta.cid, meta.did, rec.Subject.URI, rec.Subject.CID, rating, rec.ReviewBody, meta.createdAt, meta.indexedAt, meta.sortAt})
	if err != nil {
		return err
	}
	if !inserted {
		// A second review of the same subject by the same creator conflicts on
		// the (creator, subject) index and is dropped without side effects.
		return nil
	}

	if err := i.insertFeedItem(ctx, tx, meta, storage.FeedItemReview, meta.uri); err != nil {
		return err
	}

	if err := i.recomputeRatingAgg(ctx, tx, rec.Subject.URI); err != nil {
		return err
	}

	return i.insertNotification(ctx, tx, meta, aturi.AuthorityOf(rec.Subject.URI), "review", rec.Subject.URI)
}

func (i *Indexer) deleteReviewRating(ctx context.Context, tx *sql.Tx, uri aturi.URI) error {
	var subject string
	err := i.builder(tx).
		Select("subject").
		From("review_rating").
		Where(sq.Eq{"uri": uri.String()}).
		QueryRowContext(ctx).
		Scan(&subject)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return i.dbInfo.HandleError(err)
	}

	if err := i.deleteRows(ctx, tx,
		del{"review_rating", sq.Eq{"uri": uri.String()}},
		del{"feed_item", sq.Eq{"uri": uri.String()}}); err != nil {
		return err
	}

	return i.recomputeRatingAgg(ctx, tx, subject)
}

// recomputeRatingAgg rebuilds the aggregate row for one subject from the
// surviving reviews. A full recompute keeps the row correct under deletes
// without incremental bookkeeping. review_count counts only reviews that
// carry body text; rating-only reviews contribute to rating_count alone.
func (i *Indexer) recomputeRatingAgg(ctx context.Context, tx *sql.Tx, subject string) error {
	var total, ratingCount, reviewCount int64
	var ratingAverage sql.NullFloat64
	err := i.builder(tx).
		Select("COUNT(*)", "COUNT(rating)", "AVG(rating)", "COUNT(CASE WHEN review_text <> '' THEN 1 END)").
		From("review_rating").
		Where(sq.Eq{"subject": subject}).
		QueryRowContext(ctx).
		Scan(&total, &ratingCount, &ratingAverage, &reviewCount)
	if err != nil {
		return i.dbInfo.HandleError(err)
	}

	if total == 0 {
		_, err := i.builder(tx).
			Delete("rating_agg").
			Where(sq.Eq{"uri": subject, "aspect": ""}).
			ExecContext(ctx)
		if err != nil {
			return i.dbInfo.HandleError(err)
		}
		return nil
	}

	var avg interface{}
	if ratingAverage.Valid {
		avg = ratingAverage.Float64
	}
	_, err = i.builder(tx).
		Insert("rating_agg").
		Columns("uri", "aspect", "rating_count", "rating_average", "review_count").
		Values(subject, "", ratingCount, avg, reviewCount).
		Suffix("ON CONFLICT (uri, aspect) DO UPDATE SET rating_count = excluded.rating_count, rating_average = excluded.rating_average, review_count = excluded.review_count").
		ExecContext(ctx)
	if err != nil {
		return i.dbInfo.HandleError(err)
	}
	return nil
}

type del struct {
	table string
	where sq.Eq
}

func (i *Indexer) deleteRows(ctx context.Context, tx *sql.Tx, dels ...del) error {
	for _, d := range dels {
		if _, err := i.builder(tx).Delete(d.table).Where(d.where).ExecContext(ctx); err != nil {
			return i.dbInfo.HandleError(err)
		}
	}
	return nil
}
