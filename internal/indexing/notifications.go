package indexing

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"
)

// insertNotification records a notification for the recipient. Self-directed
// and recipient-less events are dropped.
func (i *Indexer) insertNotification(ctx context.Context, tx *sql.Tx, meta recordMeta, recipientDID, reason, reasonSubject string) error {
	if recipientDID == "" || recipientDID == meta.did {
		return nil
	}

	now := i.clock().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	var subject interface{}
	if reasonSubject != "" {
		subject = reasonSubject
	}

	_, err := i.builder(tx).
		Insert("notification").
		Columns("id", "did", "author_did", "record_uri", "record_cid", "reason", "reason_subject", "sort_at", "created_at").
		Values(id, recipientDID, meta.did, meta.uri, meta.cid, reason, subject, meta.sortAt, meta.indexedAt).
		ExecContext(ctx)
	if err != nil {
		return i.dbInfo.HandleError(err)
	}
	return nil
}

// deleteNotifications unwinds the notifications generated by a record.
func (i *Indexer) deleteNotifications(ctx context.Context, tx *sql.Tx, recordURI string) error {
	_, err := i.builder(tx).
		Delete("notification").
		Where(sq.Eq{"record_uri": recordURI}).
		ExecContext(ctx)
	if err != nil {
		return i.dbInfo.HandleError(err)
	}
	return nil
}
