package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tovus.net/evalflow/internal/tracking"
)

// Ledger keeps the per-document tracking records and the raw event log.
type Ledger struct {
	db *sql.DB
}

// Record appends evt to the event log and folds it into the document's record.
func (l *Ledger) Record(ctx context.Context, evt tracking.Event) error {
	if evt.DocumentID == "" {
		return fmt.Errorf("tracking: event without document")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		rec  tracking.Record
		body []byte
	)
	err = tx.QueryRowContext(ctx, `select body from tracking_records where document_id=$1 for update`, evt.DocumentID).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("decode tracking record: %w", err)
		}
	}
	rec.Apply(evt)
	if body, err = json.Marshal(rec); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into tracking_events(id, document_id, action, ledger_status, payload, at)
		values ($1,$2,$3,$4,$5,$6)
	`, evt.ID, evt.DocumentID, string(evt.Action), evt.LedgerStatus, payload, evt.At); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into tracking_records(document_id, ledger_status, body, updated_at)
		values ($1,$2,$3,$4)
		on conflict (document_id) do update set
			ledger_status=excluded.ledger_status, body=excluded.body, updated_at=excluded.updated_at
	`, rec.DocumentID, rec.LedgerStatus, body, rec.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) Get(ctx context.Context, documentID string) (tracking.Record, error) {
	var body []byte
	err := l.db.QueryRowContext(ctx, `select body from tracking_records where document_id=$1`, documentID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Record{}, tracking.ErrNotFound
	}
	if err != nil {
		return tracking.Record{}, err
	}
	var rec tracking.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return tracking.Record{}, fmt.Errorf("decode tracking record: %w", err)
	}
	return rec, nil
}

// List returns records newest first; an empty status lists all.
func (l *Ledger) List(ctx context.Context, ledgerStatus string) ([]tracking.Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		select body from tracking_records
		where ($1 = '' or ledger_status = $1)
		order by updated_at desc
	`, ledgerStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []tracking.Record{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec tracking.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decode tracking record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
