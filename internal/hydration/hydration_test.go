package hydration

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
)

type fakeReader struct {
	records       map[string]storage.RecordRow
	recipes       map[string]storage.RecipeRecordRow
	aggregates    map[string]storage.Aggregates
	likes         map[string]string
	reposts       map[string]string
	threadMutes   map[string]bool
	relationships map[string]storage.RelationshipState
}

func (f *fakeReader) GetRecords(_ context.Context, collection string, uris []string) (map[string]storage.RecordRow, error) {
	out := map[string]storage.RecordRow{}
	for _, uri := range uris {
		if row, ok := f.records[uri]; ok && row.Collection == collection && row.TakedownRef == "" {
			out[uri] = row
		}
	}
	return out, nil
}

func (f *fakeReader) GetRecipeRecords(_ context.Context, uris []string) (map[string]storage.RecipeRecordRow, error) {
	out := map[string]storage.RecipeRecordRow{}
	for _, uri := range uris {
		if row, ok := f.recipes[uri]; ok {
			out[uri] = row
		}
	}
	return out, nil
}

func (f *fakeReader) GetAggregates(_ context.Context, uris []string) (map[string]storage.Aggregates, error) {
	out := map[string]storage.Aggregates{}
	for _, uri := range uris {
		out[uri] = f.aggregates[uri]
	}
	return out, nil
}

func (f *fakeReader) GetLikesByActorAndSubjects(_ context.Context, _ string, _ []string) (map[string]string, error) {
	return f.likes, nil
}

func (f *fakeReader) GetRepostsByActorAndSubjects(_ context.Context, _ string, _ []string) (map[string]string, error) {
	return f.reposts, nil
}

func (f *fakeReader) GetThreadMutes(_ context.Context, _ string, _ []string) (map[string]bool, error) {
	return f.threadMutes, nil
}

func (f *fakeReader) GetRelationships(_ context.Context, _ string, _ []string) (map[string]storage.RelationshipState, error) {
	return f.relationships, nil
}

func (f *fakeReader) ListNotifications(_ context.Context, _ string, _ storage.PageOptions) ([]storage.NotificationRow, string, error) {
	return nil, "", nil
}

var _ storage.RecordReader = (*fakeReader)(nil)

func recordRow(t *testing.T, uri string, rec records.Record) storage.RecordRow {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	parsed, err := aturi.Parse(uri)
	require.NoError(t, err)
	return storage.RecordRow{
		URI:        uri,
		CID:        "bafy-" + parsed.RecordKey(),
		DID:        parsed.Authority(),
		Collection: parsed.Collection(),
		JSON:       raw,
		IndexedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHydrateFeedItemsMarksMissingAsQueried(t *testing.T) {
	present := "at://did:plc:alice/app.bsky.feed.post/1"
	missing := "at://did:plc:alice/app.bsky.feed.post/2"

	reader := &fakeReader{
		records: map[string]storage.RecordRow{
			present: recordRow(t, present, &records.Post{
				Type: aturi.CollectionPost, Text: "hi", CreatedAt: "2024-05-01T10:00:00Z",
			}),
		},
		aggregates: map[string]storage.Aggregates{present: {Likes: 3}},
	}

	h := NewHydrator(reader, nil)
	state, err := h.HydrateFeedItems(context.Background(), []storage.FeedItemRow{
		{URI: present, PostURI: present, Type: storage.FeedItemPost, OriginatorDID: "did:plc:alice"},
		{URI: missing, PostURI: missing, Type: storage.FeedItemPost, OriginatorDID: "did:plc:alice"},
	}, "")
	require.NoError(t, err)

	require.True(t, state.Posts.Queried(present))
	require.True(t, state.Posts.Queried(missing))
	require.NotNil(t, state.Posts.Get(present))
	require.Nil(t, state.Posts.Get(missing))
	require.False(t, state.Posts.Queried("at://did:plc:alice/app.bsky.feed.post/3"))

	require.EqualValues(t, 3, state.Aggregates[present].Likes)
}

func TestHydrateRepostFollowsSubject(t *testing.T) {
	subject := "at://did:plc:bob/app.bsky.feed.post/p1"
	repost := "at://did:plc:alice/app.bsky.feed.repost/r1"

	reader := &fakeReader{
		records: map[string]storage.RecordRow{
			subject: recordRow(t, subject, &records.Post{
				Type: aturi.CollectionPost, Text: "original", CreatedAt: "2024-05-01T10:00:00Z",
			}),
			repost: recordRow(t, repost, &records.Repost{
				Type:      aturi.CollectionRepost,
				Subject:   records.StrongRef{URI: subject, CID: "bafy-p1"},
				CreatedAt: "2024-05-01T11:00:00Z",
			}),
		},
		likes:         map[string]string{subject: "at://did:plc:carol/app.bsky.feed.like/1"},
		relationships: map[string]storage.RelationshipState{"did:plc:bob": {Muted: true}},
	}

	h := NewHydrator(reader, nil)
	state, err := h.HydrateFeedItems(context.Background(), []storage.FeedItemRow{
		{URI: repost, PostURI: subject, Type: storage.FeedItemRepost, OriginatorDID: "did:plc:alice"},
	}, "did:plc:carol")
	require.NoError(t, err)

	require.NotNil(t, state.Reposts.Get(repost))
	require.NotNil(t, state.Posts.Get(subject))
	require.Equal(t, "at://did:plc:carol/app.bsky.feed.like/1", state.ViewerLikes[subject])
	require.True(t, state.Relationships["did:plc:bob"].Muted)
}

func TestHydrateRecipeResolvesHead(t *testing.T) {
	recipeURI := "at://did:plc:bob/app.foodios.feed.recipePost/rec1"
	headURI := "at://did:plc:bob/app.foodios.feed.recipeRevision/b"

	base := recordRow(t, recipeURI, &records.RecipePost{
		Type: aturi.CollectionRecipePost, Title: "Shakshuka", CreatedAt: "2024-05-01T09:00:00Z",
	})
	head := recordRow(t, headURI, &records.RecipeRevision{
		Type:          aturi.CollectionRecipeRevision,
		RecipePostRef: records.StrongRef{URI: recipeURI, CID: base.CID},
		Title:         "Shakshuka v2",
		CreatedAt:     "2024-05-01T11:00:00Z",
	})

	reader := &fakeReader{
		recipes: map[string]storage.RecipeRecordRow{
			recipeURI: {Record: base, Revisions: []storage.RecordRow{head}, HeadURI: headURI},
		},
	}

	h := NewHydrator(reader, nil)
	state, err := h.HydrateFeedItems(context.Background(), []storage.FeedItemRow{
		{URI: recipeURI, PostURI: recipeURI, Type: storage.FeedItemRecipe, OriginatorDID: "did:plc:bob"},
	}, "")
	require.NoError(t, err)

	recipe := state.Recipes.Get(recipeURI)
	require.NotNil(t, recipe)
	require.NotNil(t, recipe.Head)
	require.Equal(t, "Shakshuka v2", recipe.Head.Title)
	require.Equal(t, 1, recipe.RevisionCount)
}

func TestHydrateSkipsUnparseableRecord(t *testing.T) {
	uri := "at://did:plc:alice/app.bsky.feed.post/1"
	row := storage.RecordRow{
		URI: uri, CID: "bafy1", DID: "did:plc:alice",
		Collection: aturi.CollectionPost,
		JSON:       []byte(`{"$type":"app.bsky.feed.post"}`),
	}

	core, observed := observer.New(zapcore.WarnLevel)
	h := NewHydrator(&fakeReader{records: map[string]storage.RecordRow{uri: row}}, &logger.ZapLogger{Logger: zap.New(core)})
	state, err := h.HydrateFeedItems(context.Background(), []storage.FeedItemRow{
		{URI: uri, PostURI: uri, Type: storage.FeedItemPost, OriginatorDID: "did:plc:alice"},
	}, "")
	require.NoError(t, err)

	require.True(t, state.Posts.Queried(uri))
	require.Nil(t, state.Posts.Get(uri))

	// The skip is surfaced to operators, not swallowed.
	logs := observed.FilterField(zap.String("uri", uri)).All()
	require.Len(t, logs, 1)
	require.Equal(t, zapcore.WarnLevel, logs[0].Level)
}

func TestStateMerge(t *testing.T) {
	a := NewState("did:plc:viewer")
	b := NewState("did:plc:viewer")
	a.Posts["x"] = nil
	b.Posts["x"] = &Post{}
	b.Aggregates["x"] = storage.Aggregates{Likes: 2}

	a.Merge(b)
	require.NotNil(t, a.Posts.Get("x"))
	require.EqualValues(t, 2, a.Aggregates["x"].Likes)
}
