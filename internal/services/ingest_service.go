package services

import (
	"context"
	"time"

	"ordersync/config"
	"ordersync/internal/domain/event"
	"ordersync/internal/metrics"
	"ordersync/internal/webhook"
	ordersync_errors "ordersync/pkg/errors"
	"ordersync/pkg/logger"
)

// EventRecorder is the ledger slice the ingest path writes.
type EventRecorder interface {
	Record(ctx context.Context, e *event.InboundEvent, partitionKey string) (bool, error)
}

// ReplayChecker reports whether a (signature, timestamp) pair is fresh.
type ReplayChecker interface {
	FirstUse(ctx context.Context, signature, timestamp string) (bool, error)
}

// IngestResult tells the transport layer how to respond.
type IngestResult struct {
	EventID   string
	Duplicate bool
	// Queued is false for duplicates and for event types nobody
	// handles; both are acked so the provider stops redelivering.
	Queued bool
}

// IngestService is the synchronous half of the pipeline: verify,
// dedup, persist, ack. Everything after the ack happens on the queue.
type IngestService struct {
	verifier *webhook.Verifier
	replay   ReplayChecker
	events   EventRecorder
	policy   string
	clock    func() time.Time
}

func NewIngestService(verifier *webhook.Verifier, replay ReplayChecker, events EventRecorder, policy string) *IngestService {
	if policy == "" {
		policy = config.SignaturePolicyPermissive
	}
	return &IngestService{
		verifier: verifier,
		replay:   replay,
		events:   events,
		policy:   policy,
		clock:    time.Now,
	}
}

// Ingest verifies and durably queues one webhook delivery. A nil error
// means the delivery may be acked with 2xx; any error maps to a
// rejection at the endpoint.
func (s *IngestService) Ingest(ctx context.Context, rawBody []byte, signature, timestamp string) (IngestResult, error) {
	log := logger.GetGlobalLogger()

	ok, reason := s.verifier.Verify(rawBody, signature, timestamp)
	switch {
	case ok:
		// fall through to replay check
	case reason == webhook.ReasonMissingSignature:
		if s.policy == config.SignaturePolicyStrict {
			metrics.WebhooksReceivedTotal.WithLabelValues("rejected_unsigned").Inc()
			return IngestResult{}, ordersync_errors.New(ordersync_errors.KindAuthentication, "missing signature")
		}
		// The provider has been observed to omit signature headers.
		// Permissive mode accepts these but counts them loudly so a
		// spike is visible.
		metrics.WebhooksUnsignedAccepted.Inc()
		log.Warnf("ingest: accepting unsigned webhook under permissive policy")
	case reason == webhook.ReasonMalformedTimestamp:
		metrics.WebhooksReceivedTotal.WithLabelValues("rejected_invalid").Inc()
		return IngestResult{}, ordersync_errors.New(ordersync_errors.KindValidation, "malformed timestamp header")
	default:
		metrics.WebhooksReceivedTotal.WithLabelValues("rejected_invalid").Inc()
		return IngestResult{}, ordersync_errors.New(ordersync_errors.KindAuthentication, "signature verification failed: "+string(reason))
	}

	if ok && s.replay != nil {
		fresh, err := s.replay.FirstUse(ctx, signature, timestamp)
		if err != nil {
			log.Warnf("ingest: replay guard unavailable, allowing: %v", err)
		} else if !fresh {
			metrics.WebhooksReceivedTotal.WithLabelValues("rejected_replay").Inc()
			return IngestResult{}, ordersync_errors.New(ordersync_errors.KindAuthentication, "signature replay detected")
		}
	}

	env, err := webhook.ParseEnvelope(rawBody)
	if err != nil {
		metrics.WebhooksReceivedTotal.WithLabelValues("rejected_invalid").Inc()
		return IngestResult{}, err
	}

	if !webhook.Supported(env.Type) {
		// Ack unsupported types; rejecting makes the provider redeliver
		// something we will never handle.
		metrics.WebhooksReceivedTotal.WithLabelValues("ignored_type").Inc()
		log.Infof("ingest: ignoring unsupported event type %q (event %s)", env.Type, env.EventID)
		return IngestResult{EventID: env.EventID}, nil
	}

	e := &event.InboundEvent{
		ID:             env.EventID,
		MerchantID:     env.MerchantID,
		Type:           env.Type,
		RawPayload:     rawBody,
		SignatureValid: ok,
		Timestamp:      env.CreatedAt,
		ReceivedAt:     s.clock().UTC(),
	}

	isNew, err := s.events.Record(ctx, e, webhook.PartitionKey(env))
	if err != nil {
		// The provider retries non-2xx, which is exactly what we want
		// when the store is down.
		metrics.WebhooksReceivedTotal.WithLabelValues("store_error").Inc()
		return IngestResult{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "record event", err)
	}
	if !isNew {
		metrics.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
		log.Infof("ingest: duplicate delivery of event %s dropped", env.EventID)
		return IngestResult{EventID: env.EventID, Duplicate: true}, nil
	}

	metrics.WebhooksReceivedTotal.WithLabelValues("accepted").Inc()
	return IngestResult{EventID: env.EventID, Queued: true}, nil
}
