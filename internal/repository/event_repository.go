package repository

import (
	"context"
	"database/sql"
	"time"

	"ordersync/internal/domain/event"
	ordersync_errors "ordersync/pkg/errors"
)

type eventRepository struct {
	db DBTX
}

func NewEventRepository(db DBTX) EventRepository {
	return &eventRepository{db: db}
}

const processingColumns = `event_id, partition_key, status, attempts, last_error, next_retry_at, lock_owner, lock_expires_at, created_at, updated_at`

func (r *eventRepository) Record(ctx context.Context, e *event.InboundEvent, partitionKey string) (bool, error) {
	isNew := false
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO inbound_events (id, merchant_id, event_type, raw_payload, signature_valid, event_timestamp, received_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (id) DO NOTHING
        `,
			e.ID,
			e.MerchantID,
			e.Type,
			[]byte(e.RawPayload),
			e.SignatureValid,
			e.Timestamp,
			e.ReceivedAt,
		)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// Duplicate delivery; ledger already holds this event id.
			return nil
		}
		isNew = true

		_, err = tx.ExecContext(ctx, `
            INSERT INTO processing_records (event_id, partition_key, status, attempts, created_at, updated_at)
            VALUES ($1,$2,$3,0,$4,$4)
        `, e.ID, partitionKey, event.StatusQueued, e.ReceivedAt)
		return err
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

func (r *eventRepository) GetEvent(ctx context.Context, eventID string) (event.InboundEvent, error) {
	var e event.InboundEvent
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
        SELECT id, merchant_id, event_type, raw_payload, signature_valid, event_timestamp, received_at
        FROM inbound_events
        WHERE id = $1
    `, eventID).Scan(&e.ID, &e.MerchantID, &e.Type, &raw, &e.SignatureValid, &e.Timestamp, &e.ReceivedAt)
	if err == sql.ErrNoRows {
		return event.InboundEvent{}, ordersync_errors.ErrNotFound
	}
	if err != nil {
		return event.InboundEvent{}, err
	}
	e.RawPayload = raw
	return e, nil
}

func (r *eventRepository) GetProcessing(ctx context.Context, eventID string) (event.ProcessingRecord, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+processingColumns+`
        FROM processing_records
        WHERE event_id = $1
    `, eventID)
	return scanProcessing(row)
}

// ClaimDue leases due records to lockOwner. A record is due when it is
// QUEUED, FAILED past next_retry_at, or PROCESSING with an expired
// lease. The NOT EXISTS guard holds back any record whose partition
// still has an older non-terminal record, so events for one external
// order are always handled in receipt order. FOR UPDATE SKIP LOCKED
// keeps concurrent claimers from contending on the same rows.
func (r *eventRepository) ClaimDue(ctx context.Context, lockOwner string, lease time.Duration, limit int) ([]event.ProcessingRecord, error) {
	now := time.Now().UTC()
	rows, err := r.db.QueryContext(ctx, `
        UPDATE processing_records
        SET status = $1, attempts = attempts + 1, lock_owner = $2, lock_expires_at = $3, updated_at = $4
        WHERE event_id IN (
            SELECT p.event_id
            FROM processing_records p
            WHERE (
                    (p.status IN ($5, $6) AND (p.next_retry_at IS NULL OR p.next_retry_at <= $4))
                 OR (p.status = $1 AND p.lock_expires_at <= $4)
                  )
              AND NOT EXISTS (
                    SELECT 1 FROM processing_records q
                    WHERE q.partition_key = p.partition_key
                      AND q.partition_key <> ''
                      AND q.created_at < p.created_at
                      AND q.status NOT IN ($7, $8)
              )
            ORDER BY p.created_at ASC
            LIMIT $9
            FOR UPDATE SKIP LOCKED
        )
        RETURNING `+processingColumns+`
    `,
		event.StatusProcessing,
		lockOwner,
		now.Add(lease),
		now,
		event.StatusQueued,
		event.StatusFailed,
		event.StatusCompleted,
		event.StatusDeadLetter,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []event.ProcessingRecord
	for rows.Next() {
		rec, err := scanProcessingRows(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	return claimed, rows.Err()
}

func (r *eventRepository) MarkCompleted(ctx context.Context, eventID, lockOwner string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE processing_records
        SET status = $1, lock_owner = NULL, lock_expires_at = NULL, last_error = NULL, next_retry_at = NULL, updated_at = $2
        WHERE event_id = $3 AND status = $4 AND lock_owner = $5
    `, event.StatusCompleted, time.Now().UTC(), eventID, event.StatusProcessing, lockOwner)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *eventRepository) MarkFailed(ctx context.Context, eventID, lockOwner, lastError string, nextRetryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE processing_records
        SET status = $1, lock_owner = NULL, lock_expires_at = NULL, last_error = $2, next_retry_at = $3, updated_at = $4
        WHERE event_id = $5 AND status = $6 AND lock_owner = $7
    `, event.StatusFailed, lastError, nextRetryAt, time.Now().UTC(), eventID, event.StatusProcessing, lockOwner)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *eventRepository) MarkDeadLetter(ctx context.Context, eventID, lockOwner, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE processing_records
        SET status = $1, lock_owner = NULL, lock_expires_at = NULL, last_error = $2, next_retry_at = NULL, updated_at = $3
        WHERE event_id = $4 AND status = $5 AND lock_owner = $6
    `, event.StatusDeadLetter, lastError, time.Now().UTC(), eventID, event.StatusProcessing, lockOwner)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *eventRepository) ForceFail(ctx context.Context, eventID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE processing_records
        SET status = $1, lock_owner = NULL, lock_expires_at = NULL, last_error = $2, next_retry_at = NULL, updated_at = $3
        WHERE event_id = $4 AND status NOT IN ($5, $6)
    `, event.StatusFailed, reason, time.Now().UTC(), eventID, event.StatusCompleted, event.StatusDeadLetter)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ordersync_errors.ErrNotFound
	}
	return nil
}

func (r *eventRepository) Requeue(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE processing_records
        SET status = $1, attempts = 0, last_error = NULL, next_retry_at = NULL, updated_at = $2
        WHERE event_id = $3 AND status = $4
    `, event.StatusQueued, time.Now().UTC(), eventID, event.StatusDeadLetter)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ordersync_errors.ErrNotFound
	}
	return nil
}

func (r *eventRepository) ListDeadLetters(ctx context.Context, limit int) ([]event.ProcessingRecord, error) {
	return r.listByStatus(ctx, event.StatusDeadLetter, limit)
}

func (r *eventRepository) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]event.ProcessingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+processingColumns+`
        FROM processing_records
        WHERE status = $1 AND updated_at < $2
        ORDER BY updated_at ASC
        LIMIT $3
    `, event.StatusProcessing, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProcessing(rows)
}

func (r *eventRepository) CountByStatus(ctx context.Context) (map[event.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM processing_records GROUP BY status
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[event.Status]int)
	for rows.Next() {
		var status event.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *eventRepository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM processing_records
        WHERE status IN ($1, $2) AND updated_at < $3
    `, event.StatusCompleted, event.StatusDeadLetter, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *eventRepository) PaymentEventsForOrder(ctx context.Context, externalOrderID string) ([]event.InboundEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT ie.id, ie.merchant_id, ie.event_type, ie.raw_payload, ie.signature_valid, ie.event_timestamp, ie.received_at
        FROM inbound_events ie
        JOIN processing_records pr ON pr.event_id = ie.id
        WHERE pr.partition_key = $1 AND ie.event_type IN ($2, $3)
        ORDER BY ie.received_at ASC
    `, externalOrderID, event.TypePaymentCreated, event.TypePaymentUpdated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.InboundEvent
	for rows.Next() {
		var e event.InboundEvent
		var raw []byte
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.Type, &raw, &e.SignatureValid, &e.Timestamp, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.RawPayload = raw
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *eventRepository) listByStatus(ctx context.Context, status event.Status, limit int) ([]event.ProcessingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+processingColumns+`
        FROM processing_records
        WHERE status = $1
        ORDER BY updated_at DESC
        LIMIT $2
    `, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProcessing(rows)
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ordersync_errors.ErrLeaseLost
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInto(s rowScanner) (event.ProcessingRecord, error) {
	var rec event.ProcessingRecord
	err := s.Scan(
		&rec.EventID,
		&rec.PartitionKey,
		&rec.Status,
		&rec.Attempts,
		&rec.LastError,
		&rec.NextRetryAt,
		&rec.LockOwner,
		&rec.LockExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func scanProcessing(row *sql.Row) (event.ProcessingRecord, error) {
	rec, err := scanInto(row)
	if err == sql.ErrNoRows {
		return event.ProcessingRecord{}, ordersync_errors.ErrNotFound
	}
	return rec, err
}

func scanProcessingRows(rows *sql.Rows) (event.ProcessingRecord, error) {
	return scanInto(rows)
}

func collectProcessing(rows *sql.Rows) ([]event.ProcessingRecord, error) {
	var out []event.ProcessingRecord
	for rows.Next() {
		rec, err := scanProcessingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
