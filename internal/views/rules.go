package views

import (
	"github.com/foodios/appview/internal/hydration"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/storage"
)

// HiddenTag marks a record suppressed by moderation without a takedown.
const HiddenTag = "!hide"

// NoPromoteTag excludes a record from curated surfaces. Items carrying it are
// dropped from general feeds and search but stay visible on the author's own
// feed.
const NoPromoteTag = "!no-promote"

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

// BlocksAndMutes reports whether the viewer's relationship to the did removes
// its content from feeds. Blocks apply in both directions.
func BlocksAndMutes(state *hydration.State, did string) bool {
	rel, ok := state.Relationships[did]
	if !ok {
		return false
	}
	return rel.Blocking || rel.BlockedBy || rel.Muted
}

// ViewerBlockExists reports a block in either direction without considering
// mutes, for contexts (threads) where muted content collapses instead of
// disappearing.
func ViewerBlockExists(state *hydration.State, did string) bool {
	rel, ok := state.Relationships[did]
	if !ok {
		return false
	}
	return rel.Blocking || rel.BlockedBy
}

// FeedFilterOpts scopes the feed rules to the query that runs them.
type FeedFilterOpts struct {
	// AuthorScoped keeps curation-excluded items, since an author feed is not
	// a curated surface.
	AuthorScoped bool
}

// contentHidden reports whether the item's hydrated content is confirmed
// missing or tagged out of the surface. Content that was never queried is
// kept; dropping it would turn a hydration gap into silent data loss.
func contentHidden(state *hydration.State, item storage.FeedItemRow, opts FeedFilterOpts) bool {
	var queried bool
	var tags []string
	switch aturi.CollectionOf(item.PostURI) {
	case aturi.CollectionPost:
		queried = state.Posts.Queried(item.PostURI)
		if post := state.Posts.Get(item.PostURI); post != nil {
			tags = post.Row.Tags
		} else if queried {
			return true
		}
	case aturi.CollectionRecipePost:
		queried = state.Recipes.Queried(item.PostURI)
		if recipe := state.Recipes.Get(item.PostURI); recipe != nil {
			tags = recipe.Row.Tags
		} else if queried {
			return true
		}
	case aturi.CollectionReviewRating:
		queried = state.Reviews.Queried(item.PostURI)
		if review := state.Reviews.Get(item.PostURI); review != nil {
			tags = review.Row.Tags
		} else if queried {
			return true
		}
	default:
		return true
	}
	if !queried {
		return false
	}
	if hasTag(tags, HiddenTag) {
		return true
	}
	return !opts.AuthorScoped && hasTag(tags, NoPromoteTag)
}

// FilterFeedItems applies the feed rules: drop items whose content is gone,
// hidden, or authored by someone the viewer blocks or mutes. Reposts are
// additionally judged by the reposter.
func FilterFeedItems(state *hydration.State, items []storage.FeedItemRow, opts FeedFilterOpts) []storage.FeedItemRow {
	out := make([]storage.FeedItemRow, 0, len(items))
	for _, item := range items {
		if contentHidden(state, item, opts) {
			continue
		}
		if item.Type == storage.FeedItemRepost {
			if repost := state.Reposts.Get(item.URI); repost == nil {
				continue
			}
			if BlocksAndMutes(state, item.OriginatorDID) {
				continue
			}
		}
		if author := aturi.AuthorityOf(item.PostURI); BlocksAndMutes(state, author) {
			continue
		}
		out = append(out, item)
	}
	return out
}
