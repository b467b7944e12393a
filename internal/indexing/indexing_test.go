package indexing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
	"github.com/foodios/appview/pkg/storage/sqlcommon"
	"github.com/foodios/appview/pkg/storage/sqlite"
)

func newTestBackend(t *testing.T) (*sqlite.Datastore, *Indexer) {
	t.Helper()
	ctx := context.Background()

	uri := "file:" + filepath.Join(t.TempDir(), "appview.db")
	require.NoError(t, sqlite.RunMigrations(ctx, uri, 10*time.Second))

	ds, err := sqlite.New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	return ds, NewIndexer(ds.DBInfo(), nil)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func postRecord(t *testing.T, text, createdAt string, reply *records.ReplyRef) []byte {
	t.Helper()
	return mustJSON(t, &records.Post{
		Type:      aturi.CollectionPost,
		Text:      text,
		Reply:     reply,
		CreatedAt: createdAt,
	})
}

func reviewRecord(t *testing.T, subject string, rating float64, body, createdAt string) []byte {
	t.Helper()
	return mustJSON(t, &records.ReviewRating{
		Type:       aturi.CollectionReviewRating,
		Subject:    records.StrongRef{URI: subject, CID: "bafysubject"},
		Rating:     &rating,
		ReviewBody: body,
		CreatedAt:  createdAt,
	})
}

func TestIndexPostAppearsInFeeds(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	uri := aturi.Make("did:plc:alice", aturi.CollectionPost, "1")
	raw := postRecord(t, "hello", "2024-05-01T10:00:00Z", nil)
	require.NoError(t, idx.IndexRecord(ctx, uri, "bafy1", raw, time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC)))

	items, cursor, err := ds.GetEverythingFeed(ctx, storage.FilterAll, storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, cursor)
	require.Equal(t, uri.String(), items[0].URI)
	require.Equal(t, storage.FeedItemPost, items[0].Type)
	require.Equal(t, "did:plc:alice", items[0].OriginatorDID)

	recs, err := ds.GetRecords(ctx, aturi.CollectionPost, []string{uri.String()})
	require.NoError(t, err)
	require.Contains(t, recs, uri.String())
	require.Equal(t, "bafy1", recs[uri.String()].CID)
}

func TestIndexRecordIdempotent(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	uri := aturi.Make("did:plc:alice", aturi.CollectionPost, "1")
	raw := postRecord(t, "hello", "2024-05-01T10:00:00Z", nil)

	require.NoError(t, idx.IndexRecord(ctx, uri, "bafy1", raw, time.Now()))
	require.NoError(t, idx.IndexRecord(ctx, uri, "bafy1", raw, time.Now()))

	items, _, err := ds.GetEverythingFeed(ctx, storage.FilterAll, storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestIndexRejectsInvalidRecord(t *testing.T) {
	_, idx := newTestBackend(t)
	ctx := context.Background()

	uri := aturi.Make("did:plc:alice", aturi.CollectionPost, "1")
	err := idx.IndexRecord(ctx, uri, "bafy1", []byte(`{"$type":"app.bsky.feed.post"}`), time.Now())
	require.Error(t, err)
}

func TestReplyNotifiesParentAuthor(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	parentURI := aturi.Make("did:plc:bob", aturi.CollectionPost, "p1")
	reply := &records.ReplyRef{
		Root:   records.StrongRef{URI: parentURI.String(), CID: "bafyp"},
		Parent: records.StrongRef{URI: parentURI.String(), CID: "bafyp"},
	}
	uri := aturi.Make("did:plc:alice", aturi.CollectionPost, "r1")
	raw := postRecord(t, "nice recipe", "2024-05-01T10:00:00Z", reply)
	require.NoError(t, idx.IndexRecord(ctx, uri, "bafyr", raw, time.Now()))

	notifs, _, err := ds.ListNotifications(ctx, "did:plc:bob", storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	require.Equal(t, "reply", notifs[0].Reason)
	require.Equal(t, "did:plc:alice", notifs[0].AuthorDID)
	require.Equal(t, uri.String(), notifs[0].RecordURI)

	// Deleting the reply unwinds the notification.
	require.NoError(t, idx.DeleteRecord(ctx, uri))
	notifs, _, err = ds.ListNotifications(ctx, "did:plc:bob", storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Empty(t, notifs)
}

func TestDuplicateReviewIsDropped(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	subject := aturi.Make("did:plc:bob", aturi.CollectionRecipePost, "rec1").String()
	first := aturi.Make("did:plc:alice", aturi.CollectionReviewRating, "1")
	second := aturi.Make("did:plc:alice", aturi.CollectionReviewRating, "2")

	require.NoError(t, idx.IndexRecord(ctx, first, "bafy1", reviewRecord(t, subject, 4, "lovely", "2024-05-01T10:00:00Z"), time.Now()))
	require.NoError(t, idx.IndexRecord(ctx, second, "bafy2", reviewRecord(t, subject, 1, "changed my mind", "2024-05-01T11:00:00Z"), time.Now()))

	aggs, err := ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg := aggs[subject]
	require.EqualValues(t, 1, agg.RatingCount)
	require.EqualValues(t, 1, agg.ReviewCount)
	require.NotNil(t, agg.RatingAverage)
	require.InDelta(t, 4.0, *agg.RatingAverage, 1e-9)

	items, _, err := ds.GetEverythingFeed(ctx, storage.FilterReview, storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, first.String(), items[0].URI)
}

func TestReviewCountCountsBodiesOnly(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	subject := aturi.Make("did:plc:bob", aturi.CollectionRecipePost, "rec1").String()
	bodied := aturi.Make("did:plc:alice", aturi.CollectionReviewRating, "1")
	bodiless := aturi.Make("did:plc:carol", aturi.CollectionReviewRating, "1")

	require.NoError(t, idx.IndexRecord(ctx, bodied, "bafy1", reviewRecord(t, subject, 4, "rich and balanced", "2024-05-01T10:00:00Z"), time.Now()))
	require.NoError(t, idx.IndexRecord(ctx, bodiless, "bafy2", reviewRecord(t, subject, 2, "", "2024-05-01T11:00:00Z"), time.Now()))

	aggs, err := ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg := aggs[subject]
	require.EqualValues(t, 2, agg.RatingCount)
	require.EqualValues(t, 1, agg.ReviewCount)

	// A rating-only review keeps contributing to the rating aggregates after
	// the bodied one is gone.
	require.NoError(t, idx.DeleteRecord(ctx, bodied))
	aggs, err = ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg = aggs[subject]
	require.EqualValues(t, 1, agg.RatingCount)
	require.EqualValues(t, 0, agg.ReviewCount)
	require.NotNil(t, agg.RatingAverage)
	require.InDelta(t, 2.0, *agg.RatingAverage, 1e-9)
}

func TestRatingAggLifecycle(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	subject := aturi.Make("did:plc:bob", aturi.CollectionRecipePost, "rec1").String()
	alice := aturi.Make("did:plc:alice", aturi.CollectionReviewRating, "1")
	carol := aturi.Make("did:plc:carol", aturi.CollectionReviewRating, "1")

	require.NoError(t, idx.IndexRecord(ctx, alice, "bafy1", reviewRecord(t, subject, 4, "great", "2024-05-01T10:00:00Z"), time.Now()))
	require.NoError(t, idx.IndexRecord(ctx, carol, "bafy2", reviewRecord(t, subject, 2, "", "2024-05-01T11:00:00Z"), time.Now()))

	aggs, err := ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg := aggs[subject]
	require.EqualValues(t, 2, agg.RatingCount)
	require.NotNil(t, agg.RatingAverage)
	require.InDelta(t, 3.0, *agg.RatingAverage, 1e-9)

	require.NoError(t, idx.DeleteRecord(ctx, carol))

	aggs, err = ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg = aggs[subject]
	require.EqualValues(t, 1, agg.RatingCount)
	require.NotNil(t, agg.RatingAverage)
	require.InDelta(t, 4.0, *agg.RatingAverage, 1e-9)

	require.NoError(t, idx.DeleteRecord(ctx, alice))

	aggs, err = ds.GetAggregates(ctx, []string{subject})
	require.NoError(t, err)
	agg = aggs[subject]
	require.EqualValues(t, 0, agg.RatingCount)
	require.Nil(t, agg.RatingAverage)
}

func TestRecipeHeadRevision(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	recipeURI := aturi.Make("did:plc:bob", aturi.CollectionRecipePost, "rec1")
	recipeRaw := mustJSON(t, &records.RecipePost{
		Type:      aturi.CollectionRecipePost,
		Title:     "Shakshuka",
		CreatedAt: "2024-05-01T09:00:00Z",
	})
	require.NoError(t, idx.IndexRecord(ctx, recipeURI, "bafyrec", recipeRaw, time.Now()))

	revision := func(rkey, title, createdAt string) (aturi.URI, []byte) {
		u := aturi.Make("did:plc:bob", aturi.CollectionRecipeRevision, rkey)
		raw := mustJSON(t, &records.RecipeRevision{
			Type:          aturi.CollectionRecipeRevision,
			RecipePostRef: records.StrongRef{URI: recipeURI.String(), CID: "bafyrec"},
			Title:         title,
			CreatedAt:     createdAt,
		})
		return u, raw
	}

	revA, rawA := revision("a", "Shakshuka v1", "2024-05-01T10:00:00Z")
	revB, rawB := revision("b", "Shakshuka v2", "2024-05-01T11:00:00Z")

	require.NoError(t, idx.IndexRecord(ctx, revA, "bafya", rawA, time.Now()))
	require.NoError(t, idx.IndexRecord(ctx, revB, "bafyb", rawB, time.Now()))

	recipes, err := ds.GetRecipeRecords(ctx, []string{recipeURI.String()})
	require.NoError(t, err)
	rec := recipes[recipeURI.String()]
	require.Equal(t, revB.String(), rec.HeadURI)
	require.Len(t, rec.Revisions, 2)
	require.Equal(t, revA.String(), rec.Revisions[0].URI)

	// Redelivering an old revision does not move the head.
	require.NoError(t, idx.IndexRecord(ctx, revA, "bafya", rawA, time.Now()))
	recipes, err = ds.GetRecipeRecords(ctx, []string{recipeURI.String()})
	require.NoError(t, err)
	require.Equal(t, revB.String(), recipes[recipeURI.String()].HeadURI)

	// Deleting the head drops the pointer without reverting to revA.
	require.NoError(t, idx.DeleteRecord(ctx, revB))
	recipes, err = ds.GetRecipeRecords(ctx, []string{recipeURI.String()})
	require.NoError(t, err)
	rec = recipes[recipeURI.String()]
	require.Empty(t, rec.HeadURI)
	require.Len(t, rec.Revisions, 1)
}

func TestDeletePostRemovesDerivedRows(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	uri := aturi.Make("did:plc:alice", aturi.CollectionPost, "1")
	raw := postRecord(t, "hello", "2024-05-01T10:00:00Z", nil)
	require.NoError(t, idx.IndexRecord(ctx, uri, "bafy1", raw, time.Now()))
	require.NoError(t, idx.DeleteRecord(ctx, uri))

	items, _, err := ds.GetEverythingFeed(ctx, storage.FilterAll, storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Empty(t, items)

	recs, err := ds.GetRecords(ctx, aturi.CollectionPost, []string{uri.String()})
	require.NoError(t, err)
	require.Empty(t, recs)

	// Deleting again is a no-op.
	require.NoError(t, idx.DeleteRecord(ctx, uri))
}

func TestLikeAndRepostAggregates(t *testing.T) {
	ds, idx := newTestBackend(t)
	ctx := context.Background()

	postURI := aturi.Make("did:plc:bob", aturi.CollectionPost, "p1")
	raw := postRecord(t, "subject", "2024-05-01T10:00:00Z", nil)
	require.NoError(t, idx.IndexRecord(ctx, postURI, "bafyp", raw, time.Now()))

	likeURI := aturi.Make("did:plc:alice", aturi.CollectionLike, "1")
	likeRaw := mustJSON(t, &records.Like{
		Type:      aturi.CollectionLike,
		Subject:   records.StrongRef{URI: postURI.String(), CID: "bafyp"},
		CreatedAt: "2024-05-01T10:05:00Z",
	})
	require.NoError(t, idx.IndexRecord(ctx, likeURI, "bafyl", likeRaw, time.Now()))

	repostURI := aturi.Make("did:plc:alice", aturi.CollectionRepost, "1")
	repostRaw := mustJSON(t, &records.Repost{
		Type:      aturi.CollectionRepost,
		Subject:   records.StrongRef{URI: postURI.String(), CID: "bafyp"},
		CreatedAt: "2024-05-01T10:06:00Z",
	})
	require.NoError(t, idx.IndexRecord(ctx, repostURI, "bafyrp", repostRaw, time.Now()))

	aggs, err := ds.GetAggregates(ctx, []string{postURI.String()})
	require.NoError(t, err)
	agg := aggs[postURI.String()]
	require.EqualValues(t, 1, agg.Likes)
	require.EqualValues(t, 1, agg.Reposts)

	likes, err := ds.GetLikesByActorAndSubjects(ctx, "did:plc:alice", []string{postURI.String()})
	require.NoError(t, err)
	require.Equal(t, likeURI.String(), likes[postURI.String()])

	// The repost rides the feed as its own item pointing at the subject.
	items, _, err := ds.GetEverythingFeed(ctx, storage.FilterAll, storage.NewPageOptions(50, ""))
	require.NoError(t, err)
	require.Len(t, items, 2)
}
