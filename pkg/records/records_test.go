package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foodios/appview/pkg/aturi"
)

func TestParsePost(t *testing.T) {
	raw := []byte(`{
		"$type": "app.bsky.feed.post",
		"text": "first bake of the season",
		"createdAt": "2024-05-01T10:00:00Z"
	}`)
	rec, err := Parse(aturi.CollectionPost, raw)
	require.NoError(t, err)
	require.Equal(t, KindPost, rec.Kind())

	post, ok := rec.(*Post)
	require.True(t, ok)
	require.Equal(t, "first bake of the season", post.Text)
	require.Nil(t, post.Reply)
}

func TestParseReviewRating(t *testing.T) {
	raw := []byte(`{
		"$type": "app.foodios.feed.reviewRating",
		"subject": {"uri": "at://did:plc:chef/app.foodios.feed.recipePost/1", "cid": "bafyrecipe"},
		"reviewRating": 4.5,
		"reviewBody": "needs more salt",
		"createdAt": "2024-05-01T10:00:00Z"
	}`)
	rec, err := Parse(aturi.CollectionReviewRating, raw)
	require.NoError(t, err)

	review := rec.(*ReviewRating)
	require.NotNil(t, review.Rating)
	require.InEpsilon(t, 4.5, *review.Rating, 1e-9)
	require.Equal(t, "needs more salt", review.ReviewBody)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		raw        string
	}{
		{
			name:       "wrong type tag",
			collection: aturi.CollectionPost,
			raw:        `{"$type": "app.bsky.feed.like", "text": "x", "createdAt": "2024-05-01T10:00:00Z"}`,
		},
		{
			name:       "bad createdAt",
			collection: aturi.CollectionPost,
			raw:        `{"$type": "app.bsky.feed.post", "text": "x", "createdAt": "yesterday"}`,
		},
		{
			name:       "review rating out of range",
			collection: aturi.CollectionReviewRating,
			raw: `{"$type": "app.foodios.feed.reviewRating",
				"subject": {"uri": "at://did:plc:a/app.foodios.feed.recipePost/1", "cid": "c"},
				"reviewRating": 11, "createdAt": "2024-05-01T10:00:00Z"}`,
		},
		{
			name:       "revision without parent ref",
			collection: aturi.CollectionRecipeRevision,
			raw:        `{"$type": "app.foodios.feed.recipeRevision", "title": "v2", "createdAt": "2024-05-01T10:00:00Z"}`,
		},
		{
			name:       "recipe without title",
			collection: aturi.CollectionRecipePost,
			raw:        `{"$type": "app.foodios.feed.recipePost", "createdAt": "2024-05-01T10:00:00Z"}`,
		},
		{
			name:       "not json",
			collection: aturi.CollectionPost,
			raw:        `{{{`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.collection, []byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestParseUnsupportedCollection(t *testing.T) {
	_, err := Parse("app.bsky.actor.profile", []byte(`{}`))
	require.Error(t, err)
}

func TestCreatedAtSniff(t *testing.T) {
	ts, ok := CreatedAt([]byte(`{"createdAt": "2024-05-01T10:00:00Z", "text": "hi"}`))
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ts)

	_, ok = CreatedAt([]byte(`{"text": "hi"}`))
	require.False(t, ok)

	_, ok = CreatedAt([]byte(`{"createdAt": "not-a-time"}`))
	require.False(t, ok)
}

func TestSortAt(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	indexed := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

	// Normal case: createdAt precedes indexedAt.
	require.Equal(t, created, SortAt(created, indexed))

	// Future-dated createdAt is clamped to indexedAt.
	future := indexed.Add(24 * time.Hour)
	require.Equal(t, indexed, SortAt(future, indexed))

	// Missing createdAt falls back to indexedAt.
	require.Equal(t, indexed, SortAt(time.Time{}, indexed))
}

func TestTimeLayoutOrderPreserving(t *testing.T) {
	// Lexicographic order of formatted timestamps must match chronological
	// order: the keyset queries compare these as strings.
	a := FormatTime(time.Date(2024, 5, 1, 10, 0, 0, 1e6, time.UTC))
	b := FormatTime(time.Date(2024, 5, 1, 10, 0, 0, 20e6, time.UTC))
	c := FormatTime(time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC))
	require.Less(t, a, b)
	require.Less(t, b, c)

	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 20e6, time.UTC), ParseTime(b))
}
