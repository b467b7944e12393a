// Package records defines the content record types indexed by the appview and
// the parsing/validation gate applied to raw record bytes.
//
// The record variants form a closed union: every indexed collection maps to
// exactly one concrete type, resolved once at the hydration or indexing
// boundary via Parse, and matched downstream through Kind.
package records

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/foodios/appview/pkg/aturi"
)

// Kind discriminates the record union.
type Kind int

const (
	KindUnknown Kind = iota
	KindPost
	KindRepost
	KindLike
	KindFollow
	KindBlock
	KindRecipePost
	KindRecipeRevision
	KindReviewRating
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindRepost:
		return "repost"
	case KindLike:
		return "like"
	case KindFollow:
		return "follow"
	case KindBlock:
		return "block"
	case KindRecipePost:
		return "recipePost"
	case KindRecipeRevision:
		return "recipeRevision"
	case KindReviewRating:
		return "reviewRating"
	}
	return "unknown"
}

// KindForCollection maps a collection NSID to its record kind.
func KindForCollection(collection string) Kind {
	switch collection {
	case aturi.CollectionPost:
		return KindPost
	case aturi.CollectionRepost:
		return KindRepost
	case aturi.CollectionLike:
		return KindLike
	case aturi.CollectionFollow:
		return KindFollow
	case aturi.CollectionBlock:
		return KindBlock
	case aturi.CollectionRecipePost:
		return KindRecipePost
	case aturi.CollectionRecipeRevision:
		return KindRecipeRevision
	case aturi.CollectionReviewRating:
		return KindReviewRating
	}
	return KindUnknown
}

// Record is the closed union of indexable content records.
type Record interface {
	Kind() Kind
	Validate() error

	sealed()
}

// StrongRef is a reference to a specific version of another record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (r StrongRef) validate(field string) error {
	if _, err := aturi.Parse(r.URI); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if r.CID == "" {
		return fmt.Errorf("%s: missing cid", field)
	}
	return nil
}

// ReplyRef locates a post within its thread.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

type Post struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Langs     []string  `json:"langs,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt string    `json:"createdAt"`
}

func (*Post) Kind() Kind { return KindPost }
func (*Post) sealed()    {}

func (r *Post) Validate() error {
	if err := checkType(r.Type, aturi.CollectionPost); err != nil {
		return err
	}
	if err := checkCreatedAt(r.CreatedAt); err != nil {
		return err
	}
	if r.Reply != nil {
		if err := r.Reply.Root.validate("reply.root"); err != nil {
			return err
		}
		if err := r.Reply.Parent.validate("reply.parent"); err != nil {
			return err
		}
	}
	return nil
}

type Repost struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (*Repost) Kind() Kind { return KindRepost }
func (*Repost) sealed()    {}

func (r *Repost) Validate() error {
	if err := checkType(r.Type, aturi.CollectionRepost); err != nil {
		return err
	}
	if err := r.Subject.validate("subject"); err != nil {
		return err
	}
	return checkCreatedAt(r.CreatedAt)
}

type Like struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (*Like) Kind() Kind { return KindLike }
func (*Like) sealed()    {}

func (r *Like) Validate() error {
	if err := checkType(r.Type, aturi.CollectionLike); err != nil {
		return err
	}
	if err := r.Subject.validate("subject"); err != nil {
		return err
	}
	return checkCreatedAt(r.CreatedAt)
}

type Follow struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func (*Follow) Kind() Kind { return KindFollow }
func (*Follow) sealed()    {}

func (r *Follow) Validate() error {
	if err := checkType(r.Type, aturi.CollectionFollow); err != nil {
		return err
	}
	if r.Subject == "" {
		return fmt.Errorf("subject: missing did")
	}
	return checkCreatedAt(r.CreatedAt)
}

type Block struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func (*Block) Kind() Kind { return KindBlock }
func (*Block) sealed()    {}

func (r *Block) Validate() error {
	if err := checkType(r.Type, aturi.CollectionBlock); err != nil {
		return err
	}
	if r.Subject == "" {
		return fmt.Errorf("subject: missing did")
	}
	return checkCreatedAt(r.CreatedAt)
}

type RecipePost struct {
	Type      string `json:"$type"`
	Title     string `json:"title"`
	Text      string `json:"text,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (*RecipePost) Kind() Kind { return KindRecipePost }
func (*RecipePost) sealed()    {}

func (r *RecipePost) Validate() error {
	if err := checkType(r.Type, aturi.CollectionRecipePost); err != nil {
		return err
	}
	if r.Title == "" {
		return fmt.Errorf("title: must not be empty")
	}
	return checkCreatedAt(r.CreatedAt)
}

// Ingredient is one entry in a recipe revision's ingredient list.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Unit     string `json:"unit,omitempty"`
}

// Step is one entry in a recipe revision's method.
type Step struct {
	Text string `json:"text"`
}

// RecipeRevision is a full content snapshot of a recipe. Edits to a recipe are
// new revision records, never destructive updates of the recipe post.
type RecipeRevision struct {
	Type          string       `json:"$type"`
	RecipePostRef StrongRef    `json:"recipePostRef"`
	Title         string       `json:"title"`
	Ingredients   []Ingredient `json:"ingredients,omitempty"`
	Steps         []Step       `json:"steps,omitempty"`
	CreatedAt     string       `json:"createdAt"`
}

func (*RecipeRevision) Kind() Kind { return KindRecipeRevision }
func (*RecipeRevision) sealed()    {}

func (r *RecipeRevision) Validate() error {
	if err := checkType(r.Type, aturi.CollectionRecipeRevision); err != nil {
		return err
	}
	if err := r.RecipePostRef.validate("recipePostRef"); err != nil {
		return err
	}
	return checkCreatedAt(r.CreatedAt)
}

type ReviewRating struct {
	Type       string    `json:"$type"`
	Subject    StrongRef `json:"subject"`
	Rating     *float64  `json:"reviewRating,omitempty"`
	ReviewBody string    `json:"reviewBody,omitempty"`
	CreatedAt  string    `json:"createdAt"`
}

func (*ReviewRating) Kind() Kind { return KindReviewRating }
func (*ReviewRating) sealed()    {}

func (r *ReviewRating) Validate() error {
	if err := checkType(r.Type, aturi.CollectionReviewRating); err != nil {
		return err
	}
	if err := r.Subject.validate("subject"); err != nil {
		return err
	}
	if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
		return fmt.Errorf("reviewRating: %v out of range [0,5]", *r.Rating)
	}
	return checkCreatedAt(r.CreatedAt)
}

// Parse unmarshals and validates raw record bytes for the given collection.
// Records from unindexed collections yield KindUnknown via a nil record and an
// error; malformed or invalid records also error. Callers on the read path
// treat a Parse error as "record absent" rather than failing the request.
func Parse(collection string, raw []byte) (Record, error) {
	var rec Record
	switch KindForCollection(collection) {
	case KindPost:
		rec = &Post{}
	case KindRepost:
		rec = &Repost{}
	case KindLike:
		rec = &Like{}
	case KindFollow:
		rec = &Follow{}
	case KindBlock:
		rec = &Block{}
	case KindRecipePost:
		rec = &RecipePost{}
	case KindRecipeRevision:
		rec = &RecipeRevision{}
	case KindReviewRating:
		rec = &ReviewRating{}
	default:
		return nil, fmt.Errorf("unsupported collection %q", collection)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s record: %w", collection, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s record: %w", collection, err)
	}
	return rec, nil
}

// CreatedAt sniffs the client-declared createdAt timestamp out of raw record
// bytes without a full parse. The bool reports whether a parseable timestamp
// was present.
func CreatedAt(raw []byte) (time.Time, bool) {
	v := gjson.GetBytes(raw, "createdAt")
	if !v.Exists() {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func checkType(got, want string) error {
	if got != want {
		return fmt.Errorf("$type: got %q, want %q", got, want)
	}
	return nil
}

func checkCreatedAt(s string) error {
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	return nil
}
