package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/order"
	ordersync_errors "ordersync/pkg/errors"
)

type orderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `id, external_order_id, status, payment_status, fulfillment, total_amount, currency, customer_name, customer_email, line_items, stub, version, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 1

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO orders (id, external_order_id, status, payment_status, fulfillment, total_amount, currency, customer_name, customer_email, line_items, stub, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
    `,
		o.ID,
		o.ExternalOrderID,
		o.Status,
		o.PaymentStatus,
		o.Fulfillment,
		o.TotalAmount,
		o.Currency,
		o.CustomerName,
		o.CustomerEmail,
		o.LineItems,
		o.Stub,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ordersync_errors.ErrAlreadyExists
	}
	return err
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (order.Order, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+orderColumns+` FROM orders WHERE id = $1
    `, id)
	return scanOrder(row)
}

func (r *orderRepository) GetByExternalID(ctx context.Context, externalID string) (order.Order, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+orderColumns+` FROM orders WHERE external_order_id = $1
    `, externalID)
	return scanOrder(row)
}

// Update is conditional on o.Version; a concurrent writer bumps the
// version and this call reports ErrInvalidTransition so the caller can
// re-read and re-apply.
func (r *orderRepository) Update(ctx context.Context, o order.Order) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET external_order_id = $1, status = $2, payment_status = $3, fulfillment = $4,
            total_amount = $5, currency = $6, customer_name = $7, customer_email = $8,
            line_items = $9, stub = $10, version = version + 1, updated_at = $11
        WHERE id = $12 AND version = $13
    `,
		o.ExternalOrderID,
		o.Status,
		o.PaymentStatus,
		o.Fulfillment,
		o.TotalAmount,
		o.Currency,
		o.CustomerName,
		o.CustomerEmail,
		o.LineItems,
		o.Stub,
		time.Now().UTC(),
		o.ID,
		o.Version,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ordersync_errors.ErrInvalidTransition
	}
	return nil
}

func (r *orderRepository) UpsertPayment(ctx context.Context, p *order.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO payments (id, order_id, external_payment_id, status, amount, currency, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (external_payment_id) DO UPDATE
        SET status = EXCLUDED.status, amount = EXCLUDED.amount, currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at
    `,
		p.ID,
		p.OrderID,
		p.ExternalPaymentID,
		p.Status,
		p.Amount,
		p.Currency,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *orderRepository) PaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]order.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, order_id, external_payment_id, status, amount, currency, created_at, updated_at
        FROM payments
        WHERE order_id = $1
        ORDER BY created_at ASC
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Payment
	for rows.Next() {
		var p order.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.ExternalPaymentID, &p.Status, &p.Amount, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *orderRepository) Scan(ctx context.Context, afterID uuid.UUID, limit int) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE id > $1
        ORDER BY id ASC
        LIMIT $2
    `, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *orderRepository) ListRecentWithExternalID(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE external_order_id IS NOT NULL
        ORDER BY updated_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func scanOrder(row *sql.Row) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID,
		&o.ExternalOrderID,
		&o.Status,
		&o.PaymentStatus,
		&o.Fulfillment,
		&o.TotalAmount,
		&o.Currency,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.LineItems,
		&o.Stub,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return order.Order{}, ordersync_errors.ErrNotFound
	}
	return o, err
}

func collectOrders(rows *sql.Rows) ([]order.Order, error) {
	var out []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(
			&o.ID,
			&o.ExternalOrderID,
			&o.Status,
			&o.PaymentStatus,
			&o.Fulfillment,
			&o.TotalAmount,
			&o.Currency,
			&o.CustomerName,
			&o.CustomerEmail,
			&o.LineItems,
			&o.Stub,
			&o.Version,
			&o.CreatedAt,
			&o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
