package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/reconciliation"
)

type findingRepository struct {
	db DBTX
}

func NewFindingRepository(db DBTX) FindingRepository {
	return &findingRepository{db: db}
}

func (r *findingRepository) Create(ctx context.Context, f *reconciliation.Finding) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO reconciliation_findings (id, sweep_id, finding_type, entity_id, detail, action, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, f.ID, f.SweepID, f.Type, f.EntityID, f.Detail, f.Action, f.CreatedAt)
	return err
}

func (r *findingRepository) ListBySweep(ctx context.Context, sweepID uuid.UUID) ([]reconciliation.Finding, error) {
	return r.list(ctx, `
        SELECT id, sweep_id, finding_type, entity_id, detail, action, created_at
        FROM reconciliation_findings
        WHERE sweep_id = $1
        ORDER BY created_at ASC
    `, sweepID)
}

func (r *findingRepository) ListRecent(ctx context.Context, limit int) ([]reconciliation.Finding, error) {
	return r.list(ctx, `
        SELECT id, sweep_id, finding_type, entity_id, detail, action, created_at
        FROM reconciliation_findings
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
}

func (r *findingRepository) list(ctx context.Context, query string, args ...interface{}) ([]reconciliation.Finding, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconciliation.Finding
	for rows.Next() {
		var f reconciliation.Finding
		if err := rows.Scan(&f.ID, &f.SweepID, &f.Type, &f.EntityID, &f.Detail, &f.Action, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
