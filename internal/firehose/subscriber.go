// Package firehose subscribes to a Jetstream-style repo event stream and
// feeds commit events into the indexing layer.
package firehose

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/foodios/appview/internal/indexing"
	"github.com/foodios/appview/pkg/aturi"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/records"
)

// wantedCollections is the set of collection NSIDs requested from the stream.
var wantedCollections = []string{
	aturi.CollectionPost,
	aturi.CollectionRepost,
	aturi.CollectionLike,
	aturi.CollectionFollow,
	aturi.CollectionBlock,
	aturi.CollectionRecipePost,
	aturi.CollectionRecipeRevision,
	aturi.CollectionReviewRating,
}

// Subscriber consumes the event stream and applies commits through the
// indexer. It reconnects with exponential backoff until the context ends.
type Subscriber struct {
	url     string
	indexer *indexing.Indexer
	logger  logger.Logger

	cursor int64
}

// NewSubscriber builds a Subscriber for the stream at streamURL.
func NewSubscriber(streamURL string, indexer *indexing.Indexer, l logger.Logger) *Subscriber {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Subscriber{
		url:     streamURL,
		indexer: indexer,
		logger:  l,
	}
}

// Run consumes the stream until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	policy.MaxInterval = time.Minute

	for {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := policy.NextBackOff()
		s.logger.Warn("stream connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) buildURL() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if s.cursor > 0 {
		q.Set("cursor", strconv.FormatInt(s.cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	wsURL, err := s.buildURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	s.logger.InfoWithContext(ctx, "connected to event stream", zap.String("url", s.url))

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := ParseEvent(message)
		if err != nil {
			s.logger.Warn("dropping unparseable event", zap.Error(err))
			continue
		}
		if event.TimeUS > s.cursor {
			s.cursor = event.TimeUS
		}
		if event.Kind != "commit" || event.Commit == nil {
			continue
		}

		if err := s.handleCommit(ctx, event); err != nil {
			s.logger.Warn("failed to index commit",
				zap.String("did", event.DID),
				zap.String("collection", event.Commit.Collection),
				zap.String("rkey", event.Commit.RKey),
				zap.Error(err))
		}
	}
}

func (s *Subscriber) handleCommit(ctx context.Context, event *Event) error {
	commit := event.Commit
	if records.KindForCollection(commit.Collection) == records.KindUnknown {
		return nil
	}

	uri := aturi.Make(event.DID, commit.Collection, commit.RKey)

	switch commit.Operation {
	case OperationCreate, OperationUpdate:
		if len(commit.Record) == 0 {
			return nil
		}
		return s.indexer.IndexRecord(ctx, uri, commit.CID, commit.Record, time.Now())
	case OperationDelete:
		return s.indexer.DeleteRecord(ctx, uri)
	}
	return nil
}
