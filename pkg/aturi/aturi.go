// Package aturi parses and formats at:// record URIs. A record URI names the
// owning identity (DID), the record collection, and the record key, in the form
// at://<did>/<collection>/<rkey>.
package aturi

import (
	"fmt"
	"strings"
)

const scheme = "at://"

// Collection NSIDs indexed by this appview.
const (
	CollectionPost           = "app.bsky.feed.post"
	CollectionRepost         = "app.bsky.feed.repost"
	CollectionLike           = "app.bsky.feed.like"
	CollectionFollow         = "app.bsky.graph.follow"
	CollectionBlock          = "app.bsky.graph.block"
	CollectionRecipePost     = "app.foodios.feed.recipePost"
	CollectionRecipeRevision = "app.foodios.feed.recipeRevision"
	CollectionReviewRating   = "app.foodios.feed.reviewRating"
)

// URI is a validated at:// record URI.
type URI string

// Parse validates s as a record URI. The authority must be a DID and both the
// collection and record key must be present.
func Parse(s string) (URI, error) {
	if !strings.HasPrefix(s, scheme) {
		return "", fmt.Errorf("invalid at-uri %q: missing scheme", s)
	}
	rest := s[len(scheme):]
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("invalid at-uri %q: want at://did/collection/rkey", s)
	}
	if !strings.HasPrefix(parts[0], "did:") {
		return "", fmt.Errorf("invalid at-uri %q: authority is not a did", s)
	}
	return URI(s), nil
}

// Make builds a record URI from its parts without validation of the rkey.
func Make(did, collection, rkey string) URI {
	return URI(scheme + did + "/" + collection + "/" + rkey)
}

func (u URI) String() string { return string(u) }

// Authority returns the DID that owns the record.
func (u URI) Authority() string {
	return u.part(0)
}

// Collection returns the record collection NSID.
func (u URI) Collection() string {
	return u.part(1)
}

// RecordKey returns the record key.
func (u URI) RecordKey() string {
	return u.part(2)
}

func (u URI) part(i int) string {
	s := strings.TrimPrefix(string(u), scheme)
	parts := strings.SplitN(s, "/", 3)
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

// AuthorityOf extracts the DID from a raw uri string, tolerating malformed
// input by returning "".
func AuthorityOf(s string) string {
	u, err := Parse(s)
	if err != nil {
		return ""
	}
	return u.Authority()
}

// CollectionOf extracts the collection NSID from a raw uri string, tolerating
// malformed input by returning "".
func CollectionOf(s string) string {
	u, err := Parse(s)
	if err != nil {
		return ""
	}
	return u.Collection()
}

// GroupByCollection buckets uris by their collection NSID. Malformed uris are
// dropped.
func GroupByCollection(uris []string) map[string][]string {
	out := make(map[string][]string)
	for _, s := range uris {
		c := CollectionOf(s)
		if c == "" {
			continue
		}
		out[c] = append(out[c], s)
	}
	return out
}
