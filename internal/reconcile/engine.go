// Package reconcile periodically compares local order and payment
// state against the processing ledger and the provider's authoritative
// records, correcting drift where the fix is unambiguous.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/event"
	"ordersync/internal/domain/order"
	"ordersync/internal/domain/reconciliation"
	"ordersync/internal/metrics"
	"ordersync/internal/provider"
	"ordersync/internal/webhook"
	ordersync_errors "ordersync/pkg/errors"
	"ordersync/pkg/logger"
)

// EventStore is the ledger slice the sweep reads and repairs.
type EventStore interface {
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]event.ProcessingRecord, error)
	ForceFail(ctx context.Context, eventID, reason string) error
	PaymentEventsForOrder(ctx context.Context, externalOrderID string) ([]event.InboundEvent, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrderStore is the order repository slice the sweep needs.
type OrderStore interface {
	Scan(ctx context.Context, afterID uuid.UUID, limit int) ([]order.Order, error)
	Update(ctx context.Context, o order.Order) error
	UpsertPayment(ctx context.Context, p *order.Payment) error
	PaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]order.Payment, error)
	ListRecentWithExternalID(ctx context.Context, limit int) ([]order.Order, error)
}

type FindingStore interface {
	Create(ctx context.Context, f *reconciliation.Finding) error
}

// OrderLookup fetches authoritative order state from the provider.
type OrderLookup interface {
	GetOrder(ctx context.Context, externalOrderID string) (provider.OrderSnapshot, error)
}

// ErrSweepInProgress is returned when a sweep is requested while
// another one is still running.
var ErrSweepInProgress = ordersync_errors.New(ordersync_errors.KindValidation, "reconciliation sweep already in progress")

// SweepHook observes every finished sweep, manually triggered ones
// included.
type SweepHook func(ctx context.Context, stats reconciliation.SweepStats)

type EngineConfig struct {
	Interval        time.Duration
	StuckThreshold  time.Duration
	DriftSampleSize int
	RetentionDays   int
	ScanBatch       int
}

// Engine runs the sweep. A sweep is cancellable mid-run; the scan
// cursor survives so the next sweep resumes where this one stopped.
// Every correction is an optimistic update, so racing a live worker
// loses cleanly instead of overwriting. At most one sweep runs at a
// time; the admin trigger gets ErrSweepInProgress while the periodic
// sweep holds the lock, and vice versa.
type Engine struct {
	events   EventStore
	orders   OrderStore
	findings FindingStore
	lookup   OrderLookup
	cfg      EngineConfig
	clock    func() time.Time

	onSweep SweepHook

	mu     sync.Mutex // held for the duration of a sweep
	cursor uuid.UUID  // last order id the scan finished
}

func NewEngine(events EventStore, orders OrderStore, findings FindingStore, lookup OrderLookup, cfg EngineConfig) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = time.Hour
	}
	if cfg.DriftSampleSize <= 0 {
		cfg.DriftSampleSize = 20
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 200
	}
	return &Engine{
		events:   events,
		orders:   orders,
		findings: findings,
		lookup:   lookup,
		cfg:      cfg,
		clock:    time.Now,
	}
}

// Run sweeps on the configured interval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := e.Sweep(ctx)
			if err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
				logger.GetGlobalLogger().Errorf("reconcile: sweep failed: %v", err)
			}
		}
	}
}

// SetSweepHook registers a callback invoked with each finished
// sweep's stats. Must be called before Run.
func (e *Engine) SetSweepHook(h SweepHook) {
	e.onSweep = h
}

// Sweep performs one full pass. Also invoked directly by the admin
// trigger endpoint; a second caller is rejected with
// ErrSweepInProgress rather than interleaving two scans.
func (e *Engine) Sweep(ctx context.Context) (reconciliation.SweepStats, error) {
	if !e.mu.TryLock() {
		return reconciliation.SweepStats{}, ErrSweepInProgress
	}
	defer e.mu.Unlock()

	stats := reconciliation.SweepStats{
		SweepID:       uuid.New(),
		StartedAt:     e.clock().UTC(),
		ResumedFromID: e.cursor.String(),
	}
	log := logger.GetGlobalLogger()
	log.Infof("reconcile: sweep %s starting", stats.SweepID)

	e.forceFailStuck(ctx, &stats)
	e.scanOrders(ctx, &stats)
	e.sampleDrift(ctx, &stats)
	e.purgeRetention(ctx)

	stats.FinishedAt = e.clock().UTC()
	stats.Cancelled = ctx.Err() != nil
	metrics.ReconciliationSweepDuration.Observe(stats.FinishedAt.Sub(stats.StartedAt).Seconds())
	log.Infof("reconcile: sweep %s done: scanned=%d stuck=%d corrected=%d reported=%d cancelled=%v",
		stats.SweepID, stats.OrdersScanned, stats.StuckForced, stats.Corrected, stats.Reported, stats.Cancelled)
	if e.onSweep != nil {
		e.onSweep(ctx, stats)
	}
	return stats, ctx.Err()
}

// forceFailStuck fails processing records whose lease expired long ago
// and were never resettled, unblocking anything polling on them.
func (e *Engine) forceFailStuck(ctx context.Context, stats *reconciliation.SweepStats) {
	olderThan := e.clock().Add(-e.cfg.StuckThreshold)
	records, err := e.events.ListStuckProcessing(ctx, olderThan, e.cfg.ScanBatch)
	if err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: list stuck: %v", err)
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		reason := fmt.Sprintf("stuck in PROCESSING beyond %s, forced by reconciliation", e.cfg.StuckThreshold)
		if err := e.events.ForceFail(ctx, rec.EventID, reason); err != nil {
			logger.GetGlobalLogger().Errorf("reconcile: force-fail %s: %v", rec.EventID, err)
			continue
		}
		stats.StuckForced++
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingStuckProcessing,
			EntityID: rec.EventID,
			Detail:   reason,
			Action:   reconciliation.ActionCorrected,
		})
	}
}

// scanOrders pages through orders checking paid-flag consistency. The
// cursor advances only past fully processed pages, so a canceled sweep
// resumes without skipping orders; corrections are idempotent, so
// revisiting one is harmless.
func (e *Engine) scanOrders(ctx context.Context, stats *reconciliation.SweepStats) {
	start := e.cursor
	cursor := start
	wrapped := false

	for {
		if ctx.Err() != nil {
			e.cursor = cursor
			return
		}
		page, err := e.orders.Scan(ctx, cursor, e.cfg.ScanBatch)
		if err != nil {
			logger.GetGlobalLogger().Errorf("reconcile: scan orders: %v", err)
			e.cursor = cursor
			return
		}
		if len(page) == 0 {
			// End of table. A sweep that began mid-table wraps once so
			// it still covers the orders before its starting cursor.
			if wrapped || start == (uuid.UUID{}) {
				e.cursor = uuid.UUID{}
				return
			}
			cursor = uuid.UUID{}
			wrapped = true
			continue
		}
		for _, o := range page {
			if ctx.Err() != nil {
				e.cursor = cursor
				return
			}
			if wrapped && o.ID.String() > start.String() {
				// Back where this sweep began.
				e.cursor = uuid.UUID{}
				return
			}
			e.checkOrder(ctx, stats, o)
			stats.OrdersScanned++
			cursor = o.ID
		}
	}
}

func (e *Engine) checkOrder(ctx context.Context, stats *reconciliation.SweepStats, o order.Order) {
	payments, err := e.orders.PaymentsByOrder(ctx, o.ID)
	if err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: payments for %s: %v", o.ID, err)
		return
	}

	hasPaid := false
	for _, p := range payments {
		if p.Status == order.PaymentPaid {
			hasPaid = true
			break
		}
	}

	switch {
	case o.PaymentStatus == order.PaymentPaid && !hasPaid:
		e.repairOrphanedPaid(ctx, stats, o)
	case hasPaid && o.Status == order.StatusPending:
		// Confirmed payment but the order never advanced; a handler
		// failed after the payment upsert. Safe to fix.
		o.Status = order.StatusProcessing
		if o.PaymentStatus == order.PaymentPending {
			o.PaymentStatus = order.PaymentPaid
		}
		if err := e.orders.Update(ctx, o); err != nil {
			// Lost to a concurrent writer; the next sweep re-checks.
			return
		}
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingStalledPending,
			EntityID: o.ID.String(),
			Detail:   "order had a PAID payment but was still PENDING, advanced to PROCESSING",
			Action:   reconciliation.ActionCorrected,
		})
	case o.Stub && e.clock().Sub(o.CreatedAt) > e.cfg.StuckThreshold:
		// A stub this old means order.created never arrived. Merging
		// requires data we do not have, so report only.
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingStubOrder,
			EntityID: o.ID.String(),
			Detail:   fmt.Sprintf("stub order for external id %s older than %s, order.created never arrived", o.ExternalOrderID.String, e.cfg.StuckThreshold),
			Action:   reconciliation.ActionReported,
		})
	}
}

// repairOrphanedPaid re-derives missing payment records from retained
// payment events in the ledger. When the ledger has nothing, the
// inconsistency is ambiguous and only reported.
func (e *Engine) repairOrphanedPaid(ctx context.Context, stats *reconciliation.SweepStats, o order.Order) {
	if !o.ExternalOrderID.Valid {
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingOrphanedPaid,
			EntityID: o.ID.String(),
			Detail:   "order marked PAID with no payment records and no external id to re-derive from",
			Action:   reconciliation.ActionReported,
		})
		return
	}

	events, err := e.events.PaymentEventsForOrder(ctx, o.ExternalOrderID.String)
	if err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: ledger lookup for %s: %v", o.ExternalOrderID.String, err)
		return
	}

	recovered := 0
	for _, ev := range events {
		env, err := webhook.ParseEnvelope(ev.RawPayload)
		if err != nil {
			continue
		}
		obj, err := webhook.ExtractPayment(env.Data)
		if err != nil || obj.ID == "" {
			continue
		}
		if order.MapExternalPaymentStatus(obj.Status) != order.PaymentPaid {
			continue
		}
		p := &order.Payment{
			ID:                uuid.New(),
			OrderID:           o.ID,
			ExternalPaymentID: obj.ID,
			Status:            order.PaymentPaid,
			Amount:            obj.AmountMoney.Amount,
			Currency:          obj.AmountMoney.Currency,
		}
		if err := e.orders.UpsertPayment(ctx, p); err != nil {
			logger.GetGlobalLogger().Errorf("reconcile: recover payment %s: %v", obj.ID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingOrphanedPaid,
			EntityID: o.ID.String(),
			Detail:   fmt.Sprintf("re-derived %d payment record(s) from the event ledger", recovered),
			Action:   reconciliation.ActionCorrected,
		})
		return
	}
	e.record(ctx, stats, reconciliation.Finding{
		Type:     reconciliation.FindingOrphanedPaid,
		EntityID: o.ID.String(),
		Detail:   "order marked PAID but the ledger holds no paid payment event",
		Action:   reconciliation.ActionReported,
	})
}

// sampleDrift re-fetches a sample of recent orders from the provider
// and diffs. Forward state differences are corrected; anything else is
// reported.
func (e *Engine) sampleDrift(ctx context.Context, stats *reconciliation.SweepStats) {
	if e.lookup == nil {
		return
	}
	sample, err := e.orders.ListRecentWithExternalID(ctx, e.cfg.DriftSampleSize)
	if err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: drift sample: %v", err)
		return
	}
	for _, o := range sample {
		if ctx.Err() != nil {
			return
		}
		snap, err := e.lookup.GetOrder(ctx, o.ExternalOrderID.String)
		if err != nil {
			if ordersync_errors.KindOf(err) == ordersync_errors.KindTransientExternal {
				return // provider unhealthy, stop hammering it
			}
			logger.GetGlobalLogger().Warnf("reconcile: drift fetch %s: %v", o.ExternalOrderID.String, err)
			continue
		}

		external := order.MapExternalOrderState(snap.State)
		if external == o.Status {
			continue
		}
		if order.Advances(o.Status, external) {
			o.Status = external
			if err := e.orders.Update(ctx, o); err != nil {
				continue
			}
			e.record(ctx, stats, reconciliation.Finding{
				Type:     reconciliation.FindingExternalDrift,
				EntityID: o.ID.String(),
				Detail:   fmt.Sprintf("provider reports %s, local was behind, advanced to %s", snap.State, external),
				Action:   reconciliation.ActionCorrected,
			})
			continue
		}
		// Local is ahead of the provider or the states diverge
		// sideways. Correcting would regress local state.
		e.record(ctx, stats, reconciliation.Finding{
			Type:     reconciliation.FindingExternalDrift,
			EntityID: o.ID.String(),
			Detail:   fmt.Sprintf("provider reports %s but local is %s", snap.State, o.Status),
			Action:   reconciliation.ActionReported,
		})
	}
}

func (e *Engine) purgeRetention(ctx context.Context) {
	if e.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := e.clock().AddDate(0, 0, -e.cfg.RetentionDays)
	n, err := e.events.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: retention purge: %v", err)
		return
	}
	if n > 0 {
		logger.GetGlobalLogger().Infof("reconcile: purged %d terminal records older than %s", n, cutoff.Format(time.RFC3339))
	}
}

func (e *Engine) record(ctx context.Context, stats *reconciliation.SweepStats, f reconciliation.Finding) {
	f.ID = uuid.New()
	f.SweepID = stats.SweepID
	f.CreatedAt = e.clock().UTC()

	switch f.Action {
	case reconciliation.ActionCorrected:
		stats.Corrected++
	case reconciliation.ActionReported:
		stats.Reported++
	}
	metrics.ReconciliationFindingsTotal.WithLabelValues(string(f.Type)).Inc()

	if err := e.findings.Create(ctx, &f); err != nil {
		logger.GetGlobalLogger().Errorf("reconcile: persist finding: %v", err)
	}
}
