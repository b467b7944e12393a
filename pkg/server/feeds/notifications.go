package feeds

import (
	"context"

	"github.com/foodios/appview/internal/views"
	"github.com/foodios/appview/pkg/encoder"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/storage"
)

// ListNotificationsRequest parameterizes one notifications page.
type ListNotificationsRequest struct {
	DID    string
	Limit  int
	Cursor string
}

// ListNotificationsResponse is one rendered notifications page.
type ListNotificationsResponse struct {
	Notifications []*views.NotificationView
	Cursor        string
}

// ListNotificationsQuery serves an actor's notification list.
type ListNotificationsQuery struct {
	datastore storage.Datastore
	encoder   encoder.Encoder
	logger    logger.Logger
}

// ListNotificationsQueryOption applies an option to a ListNotificationsQuery.
type ListNotificationsQueryOption func(*ListNotificationsQuery)

// WithListNotificationsQueryEncoder overrides the cursor encoder.
func WithListNotificationsQueryEncoder(e encoder.Encoder) ListNotificationsQueryOption {
	return func(q *ListNotificationsQuery) {
		q.encoder = e
	}
}

// WithListNotificationsQueryLogger overrides the logger.
func WithListNotificationsQueryLogger(l logger.Logger) ListNotificationsQueryOption {
	return func(q *ListNotificationsQuery) {
		q.logger = l
	}
}

// NewListNotificationsQuery builds a ListNotificationsQuery.
func NewListNotificationsQuery(datastore storage.Datastore, opts ...ListNotificationsQueryOption) *ListNotificationsQuery {
	q := &ListNotificationsQuery{
		datastore: datastore,
		encoder:   encoder.NewBase64Encoder(),
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Execute lists one page of notifications for the requesting actor.
func (q *ListNotificationsQuery) Execute(ctx context.Context, req *ListNotificationsRequest) (*ListNotificationsResponse, error) {
	if req.DID == "" {
		return nil, ErrViewerRequired
	}

	from, err := decodeCursor(q.encoder, req.Cursor)
	if err != nil {
		return nil, err
	}

	rows, cursor, err := q.datastore.ListNotifications(ctx, req.DID, storage.NewPageOptions(req.Limit, from))
	if err != nil {
		return nil, err
	}

	notifs := make([]*views.NotificationView, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, views.RenderNotification(row))
	}

	encoded, err := encodeCursor(q.encoder, cursor)
	if err != nil {
		return nil, err
	}
	return &ListNotificationsResponse{Notifications: notifs, Cursor: encoded}, nil
}
