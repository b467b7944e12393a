package feeds

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/foodios/appview/internal/indexing"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/encoder"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
	"github.com/foodios/appview/pkg/storage/sqlcommon"
	"github.com/foodios/appview/pkg/storage/sqlite"
)

type testEnv struct {
	ds  *sqlite.Datastore
	idx *indexing.Indexer
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	uri := "file:" + filepath.Join(t.TempDir(), "appview.db")
	require.NoError(t, sqlite.RunMigrations(ctx, uri, 10*time.Second))

	ds, err := sqlite.New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	return &testEnv{
		ds:  ds,
		idx: indexing.NewIndexer(ds.DBInfo(), nil),
		now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

// index writes one record with a strictly increasing indexedAt so feed order
// follows insertion order unless createdAt says otherwise.
func (e *testEnv) index(t *testing.T, uri aturi.URI, cid string, rec records.Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	e.now = e.now.Add(time.Minute)
	require.NoError(t, e.idx.IndexRecord(context.Background(), uri, cid, raw, e.now))
}

func (e *testEnv) post(t *testing.T, did, rkey, text, createdAt string, reply *records.ReplyRef) aturi.URI {
	t.Helper()
	uri := aturi.Make(did, aturi.CollectionPost, rkey)
	e.index(t, uri, "bafy-"+rkey, &records.Post{
		Type: aturi.CollectionPost, Text: text, Reply: reply, CreatedAt: createdAt,
	})
	return uri
}

func (e *testEnv) recipe(t *testing.T, did, rkey, title, createdAt string) aturi.URI {
	t.Helper()
	uri := aturi.Make(did, aturi.CollectionRecipePost, rkey)
	e.index(t, uri, "bafy-"+rkey, &records.RecipePost{
		Type: aturi.CollectionRecipePost, Title: title, CreatedAt: createdAt,
	})
	return uri
}

func (e *testEnv) follow(t *testing.T, did, rkey, subjectDID, createdAt string) {
	t.Helper()
	uri := aturi.Make(did, aturi.CollectionFollow, rkey)
	e.index(t, uri, "bafy-"+rkey, &records.Follow{
		Type: aturi.CollectionFollow, Subject: subjectDID, CreatedAt: createdAt,
	})
}

func TestEverythingFeedPaginationWalk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.post(t, "did:plc:alice", "a", "first", "2024-05-01T10:00:00Z", nil)
	b := env.post(t, "did:plc:alice", "b", "second", "2024-05-01T11:00:00Z", nil)

	q := NewTimelineQuery(env.ds)

	page1, err := q.Execute(ctx, &TimelineRequest{Algorithm: AlgorithmEverything, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page1.Feed, 1)
	require.Equal(t, b.String(), page1.Feed[0].Post.URI)
	require.NotEmpty(t, page1.Cursor)

	page2, err := q.Execute(ctx, &TimelineRequest{Algorithm: AlgorithmEverything, Limit: 1, Cursor: page1.Cursor})
	require.NoError(t, err)
	require.Len(t, page2.Feed, 1)
	require.Equal(t, a.String(), page2.Feed[0].Post.URI)
	require.NotEmpty(t, page2.Cursor)

	page3, err := q.Execute(ctx, &TimelineRequest{Algorithm: AlgorithmEverything, Limit: 1, Cursor: page2.Cursor})
	require.NoError(t, err)
	require.Empty(t, page3.Feed)
	require.Empty(t, page3.Cursor)
}

func TestInvalidCursorIsClientError(t *testing.T) {
	env := newTestEnv(t)
	q := NewTimelineQuery(env.ds)

	_, err := q.Execute(context.Background(), &TimelineRequest{
		Algorithm: AlgorithmEverything, Cursor: "!!!not-base64!!!",
	})
	require.ErrorIs(t, err, storage.ErrInvalidCursor)

	// Well-encoded garbage is rejected by the inner parse.
	_, err = q.Execute(context.Background(), &TimelineRequest{
		Algorithm: AlgorithmEverything, Cursor: "bm90IGpzb24=",
	})
	require.ErrorIs(t, err, storage.ErrInvalidCursor)
}

func TestFollowingFeedScopesToFollowsAndSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.follow(t, "did:plc:alice", "f1", "did:plc:bob", "2024-05-01T09:00:00Z")

	bobPost := env.post(t, "did:plc:bob", "b1", "from bob", "2024-05-01T10:00:00Z", nil)
	env.post(t, "did:plc:carol", "c1", "from carol", "2024-05-01T10:30:00Z", nil)
	selfPost := env.post(t, "did:plc:alice", "a1", "from alice", "2024-05-01T11:00:00Z", nil)

	q := NewTimelineQuery(env.ds)
	resp, err := q.Execute(ctx, &TimelineRequest{ViewerDID: "did:plc:alice", Algorithm: AlgorithmFollowing, Limit: 50})
	require.NoError(t, err)
	require.Len(t, resp.Feed, 2)
	require.Equal(t, selfPost.String(), resp.Feed[0].Post.URI)
	require.Equal(t, bobPost.String(), resp.Feed[1].Post.URI)
}

func TestFollowingFeedCursorWalksPastSelfBranchCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// More own posts than the self branch returns per page, and no follows, so
	// every page is shorter than the requested limit.
	total := storage.SelfBranchLimit + 5
	for i := 0; i < total; i++ {
		createdAt := fmt.Sprintf("2024-05-01T10:%02d:00Z", i)
		env.post(t, "did:plc:alice", fmt.Sprintf("a%02d", i), "mine", createdAt, nil)
	}

	q := NewTimelineQuery(env.ds)

	seen := make(map[string]struct{})
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10, "cursor walk did not terminate")
		resp, err := q.Execute(ctx, &TimelineRequest{
			ViewerDID: "did:plc:alice", Algorithm: AlgorithmFollowing, Limit: 50, Cursor: cursor,
		})
		require.NoError(t, err)
		for _, item := range resp.Feed {
			_, dup := seen[item.Post.URI]
			require.False(t, dup, "item served twice: %s", item.Post.URI)
			seen[item.Post.URI] = struct{}{}
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	require.Len(t, seen, total)
}

func TestFollowingFeedRequiresViewer(t *testing.T) {
	env := newTestEnv(t)
	q := NewTimelineQuery(env.ds)

	_, err := q.Execute(context.Background(), &TimelineRequest{Algorithm: AlgorithmFollowing})
	require.ErrorIs(t, err, ErrViewerRequired)
}

func TestAuthorFeedNoRepliesExcludesReplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.post(t, "did:plc:bob", "root", "root post", "2024-05-01T09:00:00Z", nil)
	top := env.post(t, "did:plc:alice", "top", "top level", "2024-05-01T10:00:00Z", nil)
	env.post(t, "did:plc:alice", "re", "a reply", "2024-05-01T11:00:00Z", &records.ReplyRef{
		Root:   records.StrongRef{URI: root.String(), CID: "bafy-root"},
		Parent: records.StrongRef{URI: root.String(), CID: "bafy-root"},
	})

	q := NewAuthorFeedQuery(env.ds)

	all, err := q.Execute(ctx, &AuthorFeedRequest{ActorDID: "did:plc:alice", Limit: 50})
	require.NoError(t, err)
	require.Len(t, all.Feed, 2)

	noReplies, err := q.Execute(ctx, &AuthorFeedRequest{
		ActorDID: "did:plc:alice", FeedType: string(storage.AuthorFeedNoReplies), Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, noReplies.Feed, 1)
	require.Equal(t, top.String(), noReplies.Feed[0].Post.URI)
}

func TestRecipesFeedAndContentFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recipeURI := env.recipe(t, "did:plc:bob", "rec1", "Shakshuka", "2024-05-01T09:00:00Z")
	env.post(t, "did:plc:alice", "p1", "plain post", "2024-05-01T10:00:00Z", nil)

	repostURI := aturi.Make("did:plc:carol", aturi.CollectionRepost, "rp1")
	env.index(t, repostURI, "bafy-rp1", &records.Repost{
		Type:      aturi.CollectionRepost,
		Subject:   records.StrongRef{URI: recipeURI.String(), CID: "bafy-rec1"},
		CreatedAt: "2024-05-01T11:00:00Z",
	})

	recipes, err := NewRecipesFeedQuery(env.ds).Execute(ctx, &RecipesFeedRequest{Limit: 50})
	require.NoError(t, err)
	require.Len(t, recipes.Feed, 1)
	require.Equal(t, recipeURI.String(), recipes.Feed[0].Recipe.URI)

	// The recipe content filter keeps the recipe and the repost of it, but not
	// the plain post.
	filtered, err := NewTimelineQuery(env.ds).Execute(ctx, &TimelineRequest{
		Algorithm: AlgorithmEverything, Filter: string(storage.FilterRecipe), Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, filtered.Feed, 2)
	require.NotNil(t, filtered.Feed[0].Reason)
	require.Equal(t, recipeURI.String(), filtered.Feed[0].Recipe.URI)
	require.Equal(t, recipeURI.String(), filtered.Feed[1].Recipe.URI)
}

func TestBlockedAuthorDroppedFromTimeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.post(t, "did:plc:mallory", "m1", "unwelcome", "2024-05-01T10:00:00Z", nil)
	kept := env.post(t, "did:plc:alice", "a1", "fine", "2024-05-01T11:00:00Z", nil)

	blockURI := aturi.Make("did:plc:mallory", aturi.CollectionBlock, "b1")
	env.index(t, blockURI, "bafy-b1", &records.Block{
		Type: aturi.CollectionBlock, Subject: "did:plc:viewer", CreatedAt: "2024-05-01T09:00:00Z",
	})

	resp, err := NewTimelineQuery(env.ds).Execute(ctx, &TimelineRequest{
		ViewerDID: "did:plc:viewer", Algorithm: AlgorithmEverything, Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, resp.Feed, 1)
	require.Equal(t, kept.String(), resp.Feed[0].Post.URI)
}

func TestThreadExpansion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.post(t, "did:plc:bob", "root", "root post", "2024-05-01T09:00:00Z", nil)
	ref := records.StrongRef{URI: root.String(), CID: "bafy-root"}
	replyA := env.post(t, "did:plc:alice", "ra", "first reply", "2024-05-01T10:00:00Z", &records.ReplyRef{Root: ref, Parent: ref})
	parentRef := records.StrongRef{URI: replyA.String(), CID: "bafy-ra"}
	nested := env.post(t, "did:plc:carol", "rc", "nested reply", "2024-05-01T11:00:00Z", &records.ReplyRef{Root: ref, Parent: parentRef})

	resp, err := NewThreadQuery(env.ds).Execute(ctx, &ThreadRequest{URI: root.String()})
	require.NoError(t, err)
	require.NotNil(t, resp.Thread.Post)
	require.Equal(t, root.String(), resp.Thread.Post.URI)
	require.Len(t, resp.Thread.Replies, 1)
	require.Equal(t, replyA.String(), resp.Thread.Replies[0].Post.URI)
	require.Len(t, resp.Thread.Replies[0].Replies, 1)
	require.Equal(t, nested.String(), resp.Thread.Replies[0].Replies[0].Post.URI)
}

func TestThreadNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewThreadQuery(env.ds).Execute(context.Background(), &ThreadRequest{
		URI: "at://did:plc:bob/app.bsky.feed.post/missing",
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearchPostsFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hit := env.post(t, "did:plc:alice", "s1", "a fine shakshuka recipe", "2024-05-01T10:00:00Z", nil)
	env.post(t, "did:plc:alice", "s2", "unrelated", "2024-05-01T11:00:00Z", nil)

	resp, err := NewSearchPostsQuery(env.ds).Execute(ctx, &SearchPostsRequest{Term: "shakshuka", Limit: 50})
	require.NoError(t, err)
	require.Len(t, resp.Feed, 1)
	require.Equal(t, hit.String(), resp.Feed[0].Post.URI)
}

type failingSearcher struct{}

func (failingSearcher) SearchPosts(context.Context, string, int, string) ([]string, string, error) {
	return nil, "", fmt.Errorf("search backend down")
}

func TestSearchPostsFallbackDropsForeignCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hit := env.post(t, "did:plc:alice", "s1", "a fine shakshuka recipe", "2024-05-01T10:00:00Z", nil)

	// A cursor minted by the external backend is opaque to the relational
	// fallback. Mid-walk degradation restarts the walk instead of erroring.
	foreign, err := encoder.NewBase64Encoder().Encode([]byte("offset:25"))
	require.NoError(t, err)

	q := NewSearchPostsQuery(env.ds, WithSearchPostsQuerySearcher(failingSearcher{}))
	resp, err := q.Execute(ctx, &SearchPostsRequest{Term: "shakshuka", Limit: 50, Cursor: foreign})
	require.NoError(t, err)
	require.Len(t, resp.Feed, 1)
	require.Equal(t, hit.String(), resp.Feed[0].Post.URI)
}

func TestListNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	target := env.post(t, "did:plc:bob", "p1", "subject", "2024-05-01T10:00:00Z", nil)
	likeURI := aturi.Make("did:plc:alice", aturi.CollectionLike, "l1")
	env.index(t, likeURI, "bafy-l1", &records.Like{
		Type:      aturi.CollectionLike,
		Subject:   records.StrongRef{URI: target.String(), CID: "bafy-p1"},
		CreatedAt: "2024-05-01T10:05:00Z",
	})

	resp, err := NewListNotificationsQuery(env.ds).Execute(ctx, &ListNotificationsRequest{DID: "did:plc:bob", Limit: 50})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	require.Equal(t, "like", resp.Notifications[0].Reason)
	require.Equal(t, "did:plc:alice", resp.Notifications[0].Author.DID)

	_, err = NewListNotificationsQuery(env.ds).Execute(ctx, &ListNotificationsRequest{})
	require.ErrorIs(t, err, ErrViewerRequired)
}
