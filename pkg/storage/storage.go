// Package storage contains the datastore interfaces consumed by the hydration
// and feed-serving layers, plus the keyset cursor used for pagination.
package storage

import (
	"context"
	"time"

	"github.com/foodios/appview/pkg/records"
)

const (
	// DefaultPageSize applies when a request does not specify a limit.
	DefaultPageSize = 50

	// MaxPageSize caps any single page regardless of the requested limit.
	MaxPageSize = 100

	// SelfBranchLimit caps the viewer's own items per timeline page so
	// self-authored content cannot dominate the merged following feed.
	SelfBranchLimit = 10
)

// PageOptions carries keyset pagination inputs. From is a serialized (not yet
// opaque-encoded) cursor produced by a previous page, or empty for page one.
type PageOptions struct {
	PageSize int
	From     string
}

func NewPageOptions(pageSize int, from string) PageOptions {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return PageOptions{PageSize: pageSize, From: from}
}

// ContentFilter narrows a feed to one underlying content type. Reposts are
// retained when their subject matches the filter.
type ContentFilter string

const (
	FilterAll    ContentFilter = "all"
	FilterPost   ContentFilter = "post"
	FilterRecipe ContentFilter = "recipe"
	FilterReview ContentFilter = "review"
)

// ParseContentFilter maps a client-supplied filter string to a ContentFilter,
// defaulting to FilterAll for empty or unrecognized values.
func ParseContentFilter(s string) ContentFilter {
	switch ContentFilter(s) {
	case FilterPost, FilterRecipe, FilterReview:
		return ContentFilter(s)
	}
	return FilterAll
}

// AuthorFeedType selects which of an author's items appear in their feed.
type AuthorFeedType string

const (
	AuthorFeedAll           AuthorFeedType = "posts_with_replies"
	AuthorFeedNoReplies     AuthorFeedType = "posts_no_replies"
	AuthorFeedAuthorThreads AuthorFeedType = "posts_and_author_threads"
)

// FeedItemType tags a feed_item row with its content type.
type FeedItemType string

const (
	FeedItemPost   FeedItemType = "post"
	FeedItemRepost FeedItemType = "repost"
	FeedItemRecipe FeedItemType = "recipe"
	FeedItemReview FeedItemType = "review"
)

// FeedItemRow is one denormalized timeline-eligible entry. URI is the item's
// own identity; for reposts it differs from PostURI (the subject).
type FeedItemRow struct {
	URI           string
	CID           string
	Type          FeedItemType
	PostURI       string
	OriginatorDID string
	SortAt        time.Time
}

// RecordRow is a raw stored record plus indexing metadata.
type RecordRow struct {
	URI         string
	CID         string
	DID         string
	Collection  string
	JSON        []byte
	CreatedAt   time.Time
	IndexedAt   time.Time
	TakedownRef string
	Tags        []string
}

// SortAt is the record's canonical sort key.
func (r RecordRow) SortAt() time.Time {
	return records.SortAt(r.CreatedAt, r.IndexedAt)
}

// RecipeRecordRow bundles a recipe post record with all of its revision
// records (ascending by sort key) and the current head pointer, if any.
type RecipeRecordRow struct {
	Record    RecordRow
	Revisions []RecordRow
	HeadURI   string
}

// Aggregates is the derived interaction state for one subject uri.
type Aggregates struct {
	Likes         int64
	Reposts       int64
	Replies       int64
	RatingCount   int64
	RatingAverage *float64
	ReviewCount   int64
}

// NotificationRow is one stored notification for an actor.
type NotificationRow struct {
	ID            string
	DID           string
	AuthorDID     string
	RecordURI     string
	RecordCID     string
	Reason        string
	ReasonSubject string
	SortAt        time.Time
}

// RelationshipState describes the viewer's graph relationship to another
// actor, as consumed by the feed rules stage.
type RelationshipState struct {
	Blocking  bool
	BlockedBy bool
	Muted     bool
}

// FeedReader provides the raw-skeleton query routes over derived tables.
type FeedReader interface {
	// GetAuthorFeed pages over one author's feed items, newest first.
	GetAuthorFeed(ctx context.Context, actorDID string, feedType AuthorFeedType, opts PageOptions) ([]FeedItemRow, string, error)

	// GetFollowingFeed merges items by followed authors with the viewer's own
	// items. The self branch is capped at SelfBranchLimit per page.
	GetFollowingFeed(ctx context.Context, viewerDID string, filter ContentFilter, opts PageOptions) ([]FeedItemRow, string, error)

	// GetEverythingFeed pages over the whole network's feed items.
	GetEverythingFeed(ctx context.Context, filter ContentFilter, opts PageOptions) ([]FeedItemRow, string, error)

	// GetRecipesFeed pages over recipe items only.
	GetRecipesFeed(ctx context.Context, opts PageOptions) ([]FeedItemRow, string, error)

	// SearchPosts is the relational fallback skeleton for post search.
	SearchPosts(ctx context.Context, term string, opts PageOptions) ([]string, string, error)

	// GetThread returns the uris of a thread: the root plus descendants down
	// to the requested depth. Works for post and recipe roots.
	GetThread(ctx context.Context, rootURI string, below int) ([]string, error)
}

// RecordReader provides batched point reads for the hydration stage. Every
// method accepting a uri list must resolve it in one round trip.
type RecordReader interface {
	// GetRecords returns stored records for uris of the given collection.
	// Absent, taken-down, and foreign-collection uris are simply missing from
	// the result map.
	GetRecords(ctx context.Context, collection string, uris []string) (map[string]RecordRow, error)

	// GetRecipeRecords returns recipe records with all revisions and head
	// pointers attached, keyed by recipe post uri.
	GetRecipeRecords(ctx context.Context, uris []string) (map[string]RecipeRecordRow, error)

	// GetAggregates returns interaction aggregates per subject uri. Every
	// input uri has an entry (zero-valued when nothing is indexed).
	GetAggregates(ctx context.Context, uris []string) (map[string]Aggregates, error)

	// GetLikesByActorAndSubjects maps subject uri -> the actor's like uri.
	GetLikesByActorAndSubjects(ctx context.Context, actorDID string, subjectURIs []string) (map[string]string, error)

	// GetRepostsByActorAndSubjects maps subject uri -> the actor's repost uri.
	GetRepostsByActorAndSubjects(ctx context.Context, actorDID string, subjectURIs []string) (map[string]string, error)

	// GetThreadMutes reports which thread roots the actor has muted.
	GetThreadMutes(ctx context.Context, actorDID string, rootURIs []string) (map[string]bool, error)

	// GetRelationships reports the viewer's block/mute state toward each did.
	GetRelationships(ctx context.Context, viewerDID string, dids []string) (map[string]RelationshipState, error)

	// ListNotifications pages over an actor's notifications, newest first. The
	// cursor's cid slot carries the notification id.
	ListNotifications(ctx context.Context, did string, opts PageOptions) ([]NotificationRow, string, error)
}

// AggregatesReader is the narrow slice of RecordReader wrapped by the
// aggregates cache.
type AggregatesReader interface {
	GetAggregates(ctx context.Context, uris []string) (map[string]Aggregates, error)
}

// Datastore is the full backend contract implemented per engine.
type Datastore interface {
	FeedReader
	RecordReader

	// IsReady probes the underlying connection.
	IsReady(ctx context.Context) (bool, error)

	// Close releases the connection pool and any registered collectors.
	Close()
}
