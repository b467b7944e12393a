// Package views renders hydrated state into the response shapes served by the
// query routes. Renderers are pure: they read hydration state and never touch
// storage.
package views

import (
	json "github.com/goccy/go-json"

	"github.com/foodios/appview/internal/hydration"
	"github.com/foodios/appview/pkg/records"
	"github.com/foodios/appview/pkg/storage"
)

// AuthorView identifies a record author.
type AuthorView struct {
	DID string `json:"did"`
}

// ViewerState carries the requesting viewer's interactions with one item.
type ViewerState struct {
	Like   string `json:"like,omitempty"`
	Repost string `json:"repost,omitempty"`
}

// PostView is the rendered form of a post.
type PostView struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid"`
	Author      AuthorView      `json:"author"`
	Record      json.RawMessage `json:"record"`
	ReplyCount  int64           `json:"replyCount"`
	RepostCount int64           `json:"repostCount"`
	LikeCount   int64           `json:"likeCount"`
	IndexedAt   string          `json:"indexedAt"`
	Viewer      *ViewerState    `json:"viewer,omitempty"`
}

// RecipeView is the rendered form of a recipe. Record carries the head
// revision when one exists, the base recipe post otherwise.
type RecipeView struct {
	URI           string          `json:"uri"`
	CID           string          `json:"cid"`
	Author        AuthorView      `json:"author"`
	Title         string          `json:"title"`
	Record        json.RawMessage `json:"record"`
	RevisionCount int             `json:"revisionCount"`
	RatingAverage *float64        `json:"ratingAverage,omitempty"`
	RatingCount   int64           `json:"ratingCount"`
	ReviewCount   int64           `json:"reviewCount"`
	RepostCount   int64           `json:"repostCount"`
	LikeCount     int64           `json:"likeCount"`
	IndexedAt     string          `json:"indexedAt"`
	Viewer        *ViewerState    `json:"viewer,omitempty"`
}

// ReviewView is the rendered form of a review.
type ReviewView struct {
	URI        string          `json:"uri"`
	CID        string          `json:"cid"`
	Author     AuthorView      `json:"author"`
	Subject    string          `json:"subject"`
	Rating     *float64        `json:"rating,omitempty"`
	ReviewBody string          `json:"reviewBody,omitempty"`
	Record     json.RawMessage `json:"record"`
	LikeCount  int64           `json:"likeCount"`
	IndexedAt  string          `json:"indexedAt"`
	Viewer     *ViewerState    `json:"viewer,omitempty"`
}

// ReasonRepost explains a feed item that is present because someone reposted
// its subject.
type ReasonRepost struct {
	By        AuthorView `json:"by"`
	IndexedAt string     `json:"indexedAt"`
}

// FeedViewItem is the closed union of renderable feed entries. Exactly one of
// Post, Recipe, Review is set.
type FeedViewItem struct {
	Post   *PostView     `json:"post,omitempty"`
	Recipe *RecipeView   `json:"recipe,omitempty"`
	Review *ReviewView   `json:"review,omitempty"`
	Reason *ReasonRepost `json:"reason,omitempty"`
}

// ThreadViewPost is one node of an expanded thread.
type ThreadViewPost struct {
	Post    *PostView         `json:"post,omitempty"`
	Recipe  *RecipeView       `json:"recipe,omitempty"`
	Muted   bool              `json:"muted,omitempty"`
	Replies []*ThreadViewPost `json:"replies,omitempty"`
}

// NotificationView is one rendered notification.
type NotificationView struct {
	ID            string     `json:"id"`
	Author        AuthorView `json:"author"`
	Reason        string     `json:"reason"`
	ReasonSubject string     `json:"reasonSubject,omitempty"`
	RecordURI     string     `json:"uri"`
	RecordCID     string     `json:"cid"`
	IndexedAt     string     `json:"indexedAt"`
}

func viewerState(state *hydration.State, subjectURI string) *ViewerState {
	if state.ViewerDID == "" {
		return nil
	}
	return &ViewerState{
		Like:   state.ViewerLikes[subjectURI],
		Repost: state.ViewerReposts[subjectURI],
	}
}

// RenderPost renders one post, nil when the post is not hydrated.
func RenderPost(uri string, state *hydration.State) *PostView {
	post := state.Posts.Get(uri)
	if post == nil {
		return nil
	}
	agg := state.Aggregates[uri]
	return &PostView{
		URI:         uri,
		CID:         post.Row.CID,
		Author:      AuthorView{DID: post.Row.DID},
		Record:      json.RawMessage(post.Row.JSON),
		ReplyCount:  agg.Replies,
		RepostCount: agg.Reposts,
		LikeCount:   agg.Likes,
		IndexedAt:   records.FormatTime(post.Row.IndexedAt),
		Viewer:      viewerState(state, uri),
	}
}

// RenderRecipe renders one recipe, nil when the recipe is not hydrated.
func RenderRecipe(uri string, state *hydration.State) *RecipeView {
	recipe := state.Recipes.Get(uri)
	if recipe == nil {
		return nil
	}
	agg := state.Aggregates[uri]

	title := recipe.Record.Title
	raw := recipe.Row.JSON
	if recipe.Head != nil {
		title = recipe.Head.Title
		raw = recipe.HeadRow.JSON
	}

	return &RecipeView{
		URI:           uri,
		CID:           recipe.Row.CID,
		Author:        AuthorView{DID: recipe.Row.DID},
		Title:         title,
		Record:        json.RawMessage(raw),
		RevisionCount: recipe.RevisionCount,
		RatingAverage: agg.RatingAverage,
		RatingCount:   agg.RatingCount,
		ReviewCount:   agg.ReviewCount,
		RepostCount:   agg.Reposts,
		LikeCount:     agg.Likes,
		IndexedAt:     records.FormatTime(recipe.Row.IndexedAt),
		Viewer:        viewerState(state, uri),
	}
}

// RenderReview renders one review, nil when the review is not hydrated.
func RenderReview(uri string, state *hydration.State) *ReviewView {
	review := state.Reviews.Get(uri)
	if review == nil {
		return nil
	}
	agg := state.Aggregates[uri]
	return &ReviewView{
		URI:        uri,
		CID:        review.Row.CID,
		Author:     AuthorView{DID: review.Row.DID},
		Subject:    review.Record.Subject.URI,
		Rating:     review.Record.Rating,
		ReviewBody: review.Record.ReviewBody,
		Record:     json.RawMessage(review.Row.JSON),
		LikeCount:  agg.Likes,
		IndexedAt:  records.FormatTime(review.Row.IndexedAt),
		Viewer:     viewerState(state, uri),
	}
}

// RenderFeedItem renders one skeleton item, nil when its content did not
// survive hydration.
func RenderFeedItem(item storage.FeedItemRow, state *hydration.State) *FeedViewItem {
	var reason *ReasonRepost
	if item.Type == storage.FeedItemRepost {
		repost := state.Reposts.Get(item.URI)
		if repost == nil {
			return nil
		}
		reason = &ReasonRepost{
			By:        AuthorView{DID: repost.Row.DID},
			IndexedAt: records.FormatTime(repost.Row.IndexedAt),
		}
	}

	out := &FeedViewItem{Reason: reason}
	if post := RenderPost(item.PostURI, state); post != nil {
		out.Post = post
		return out
	}
	if recipe := RenderRecipe(item.PostURI, state); recipe != nil {
		out.Recipe = recipe
		return out
	}
	if review := RenderReview(item.PostURI, state); review != nil {
		out.Review = review
		return out
	}
	return nil
}

// RenderNotification renders one stored notification.
func RenderNotification(row storage.NotificationRow) *NotificationView {
	return &NotificationView{
		ID:            row.ID,
		Author:        AuthorView{DID: row.AuthorDID},
		Reason:        row.Reason,
		ReasonSubject: row.ReasonSubject,
		RecordURI:     row.RecordURI,
		RecordCID:     row.RecordCID,
		IndexedAt:     records.FormatTime(row.SortAt),
	}
}
