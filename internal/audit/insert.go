package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts over a pool or an open transaction so entries can be written
// inside the same transaction as the state change they describe.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertTx appends one entry using the supplied pool or transaction.
func InsertTx(ctx context.Context, db DB, e Entry) error {
	if e.Kind == "" || e.RecordID == "" {
		return errors.New("audit: kind and record id required")
	}
	if e.Action == "" {
		return errors.New("audit: action required")
	}
	if e.ActorName == "" {
		return errors.New("audit: actor name required")
	}
	oldJSON, err := json.Marshal(e.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(e.NewValue)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = db.Exec(ctx, `INSERT INTO audit_log (kind, record_id, action, old_value, new_value, actor_id, actor_name, batch_id, client_addr, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.Kind, e.RecordID, string(e.Action), oldJSON, newJSON, e.ActorID, e.ActorName, e.BatchID, e.ClientAddr, at)
	return err
}
