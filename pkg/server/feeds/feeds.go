// Package feeds implements the query routes served by the appview: timelines,
// author feeds, the recipes feed, post search, thread expansion, and
// notification listing. Each route is a query object wired through the
// four-stage pipeline.
package feeds

import (
	"errors"
	"fmt"

	"github.com/foodios/appview/pkg/encoder"
	"github.com/foodios/appview/pkg/storage"
)

var (
	// ErrViewerRequired when a route needs an authenticated viewer.
	ErrViewerRequired = errors.New("viewer required")
	// ErrUnknownAlgorithm when a timeline request names no known algorithm.
	ErrUnknownAlgorithm = errors.New("unknown feed algorithm")
)

// Timeline algorithms.
const (
	AlgorithmFollowing  = "following"
	AlgorithmEverything = "everything"
)

// feedSkeleton is the common skeleton shape: one page of refs plus the
// serialized (pre-encoding) continuation cursor.
type feedSkeleton struct {
	items  []storage.FeedItemRow
	cursor string
}

// decodeCursor unwraps the opaque request cursor into the serialized form the
// datastore understands. An undecodable cursor is a client error.
func decodeCursor(enc encoder.Encoder, cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := enc.Decode(cursor)
	if err != nil {
		return "", storage.ErrInvalidCursor
	}
	return string(decoded), nil
}

// encodeCursor wraps a serialized continuation cursor for the response.
func encodeCursor(enc encoder.Encoder, cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	out, err := enc.Encode([]byte(cursor))
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return out, nil
}
