package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/our-edu/sqs-messaging/internal/idempotency"
	"github.com/our-edu/sqs-messaging/internal/metrics"
)

// longRunningVisibilityTimeout is the one-shot visibility extension applied
// to messages whose event_type is configured as long-running, giving their
// listener more than the default 30s to finish before the queue service
// would otherwise consider the message abandoned and redeliver it.
const longRunningVisibilityTimeout = 120

// CycleResult summarizes one ConsumerLoop.RunCycle call.
type CycleResult struct {
	Received int
	Acked    int
	Left     int
}

// ConsumerLoop implements the per-message state machine (C5): decode,
// validate, dedup, claim, dispatch, commit, ack — or leave the message for
// native redelivery when the outcome is transient or unrecognized.
type ConsumerLoop struct {
	logicalQueue string
	resolver     *Resolver
	transport    Transport
	idempotency  *idempotency.Store
	listeners    ListenerRegistry
	notifier     Notifier
	concurrency  int
	log          zerolog.Logger

	longRunningEvents map[string]bool

	validationErrorRateThreshold float64
	transientErrorRateThreshold  float64

	validationErrors atomic.Int64
	transientErrors  atomic.Int64
	totalProcessed   atomic.Int64
}

// ConsumerConfig configures a ConsumerLoop.
type ConsumerConfig struct {
	LogicalQueue string
	Concurrency  int
	// ValidationErrorRateThreshold and TransientErrorRateThreshold, if
	// non-zero, raise a warning alert once the respective rate over this
	// cycle's received messages crosses them.
	ValidationErrorRateThreshold float64
	TransientErrorRateThreshold  float64
	// LongRunningEvents lists event types eligible for a one-shot visibility
	// extension to 120s before dispatch.
	LongRunningEvents []string
}

// NewConsumerLoop constructs a ConsumerLoop for a single logical queue.
func NewConsumerLoop(cfg ConsumerConfig, resolver *Resolver, transport Transport, store *idempotency.Store, listeners ListenerRegistry, notifier Notifier, log zerolog.Logger) *ConsumerLoop {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	longRunning := make(map[string]bool, len(cfg.LongRunningEvents))
	for _, eventType := range cfg.LongRunningEvents {
		longRunning[eventType] = true
	}
	return &ConsumerLoop{
		logicalQueue:                 cfg.LogicalQueue,
		resolver:                     resolver,
		transport:                    transport,
		idempotency:                  store,
		listeners:                    listeners,
		notifier:                     notifier,
		concurrency:                  concurrency,
		log:                          log,
		longRunningEvents:            longRunning,
		validationErrorRateThreshold: cfg.ValidationErrorRateThreshold,
		transientErrorRateThreshold:  cfg.TransientErrorRateThreshold,
	}
}

// RunCycle receives one batch of messages and processes them concurrently,
// bounded by the loop's configured concurrency, returning once every
// received message has reached a terminal state for this cycle.
func (c *ConsumerLoop) RunCycle(ctx context.Context) (CycleResult, error) {
	url, err := c.resolver.Resolve(ctx, c.logicalQueue)
	if err != nil {
		return CycleResult{}, fmt.Errorf("resolve queue %s: %w", c.logicalQueue, err)
	}

	out, err := c.transport.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            url,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return CycleResult{}, fmt.Errorf("receive from %s: %w", c.logicalQueue, err)
	}

	metrics.CycleMessagesReceived.WithLabelValues(c.logicalQueue).Set(float64(len(out.Messages)))

	result := CycleResult{Received: len(out.Messages)}
	if len(out.Messages) == 0 {
		return result, nil
	}

	validationErrorsBefore := c.validationErrors.Load()
	transientErrorsBefore := c.transientErrors.Load()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, c.concurrency)
	)

	for _, msg := range out.Messages {
		wg.Add(1)
		sem <- struct{}{}
		go func(m sqsReceivedMessage) {
			defer wg.Done()
			defer func() { <-sem }()

			acked := c.processMessage(ctx, url, m)

			mu.Lock()
			if acked {
				result.Acked++
			} else {
				result.Left++
			}
			mu.Unlock()
		}(msg)
	}

	wg.Wait()
	c.checkRates(ctx, result.Received,
		c.validationErrors.Load()-validationErrorsBefore,
		c.transientErrors.Load()-transientErrorsBefore)
	return result, nil
}

// checkRates implements the per-cycle rate alerting: once a batch has been
// fully processed, the validation- and transient-error counts observed
// during it are compared against the configured thresholds and reported to
// the Notifier sink if either is breached. validationErrors/transientErrors
// are the deltas observed during this cycle, not the running totals.
func (c *ConsumerLoop) checkRates(ctx context.Context, received int, validationErrors, transientErrors int64) {
	if received == 0 {
		return
	}

	validationRate := float64(validationErrors) / float64(received)
	if c.validationErrorRateThreshold > 0 && validationRate > c.validationErrorRateThreshold {
		c.notifier.Notify(ctx, AlertWarning, "validation error rate exceeded threshold", map[string]any{
			"queue":     c.logicalQueue,
			"count":     validationErrors,
			"total":     received,
			"rate":      validationRate,
			"threshold": c.validationErrorRateThreshold,
		})
	}

	transientRate := float64(transientErrors) / float64(received)
	if c.transientErrorRateThreshold > 0 && transientRate > c.transientErrorRateThreshold {
		c.notifier.Notify(ctx, AlertWarning, "transient error rate exceeded threshold", map[string]any{
			"queue":     c.logicalQueue,
			"count":     transientErrors,
			"total":     received,
			"rate":      transientRate,
			"threshold": c.transientErrorRateThreshold,
		})
	}
}

// processMessage runs DECODE -> VALIDATE -> DEDUP -> CLAIM -> EXTEND_VIS? ->
// DISPATCH -> COMMIT -> ACK. It returns true if the message was acked
// (deleted from the queue), false if it was left for native redelivery.
func (c *ConsumerLoop) processMessage(ctx context.Context, queueURL string, m sqsReceivedMessage) bool {
	start := time.Now()

	var envelope Envelope
	if err := json.Unmarshal([]byte(m.Body), &envelope); err != nil {
		c.recordValidationError()
		c.log.Error().Err(err).Str("queue", c.logicalQueue).Str("message_id", m.MessageID).Msg("decode failed, discarding")
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "validation_error").Inc()
		c.ackDiscard(ctx, queueURL, m, "decode_error")
		return true
	}

	if ok, missing := Validate(envelope); !ok {
		c.recordValidationError()
		c.log.Error().Str("queue", c.logicalQueue).Str("message_id", m.MessageID).Str("missing_field", missing).Msg("envelope validation failed, discarding")
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "validation_error").Inc()
		c.ackDiscard(ctx, queueURL, m, "validation_error")
		return true
	}

	processed, err := c.idempotency.IsProcessed(ctx, envelope.IdempotencyKey)
	if err != nil {
		c.recordTransientError()
		c.log.Error().Err(err).Str("queue", c.logicalQueue).Msg("idempotency check failed, leaving for redelivery")
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "transient_error").Inc()
		return c.leave(ctx, queueURL, m)
	}
	if processed {
		c.log.Info().Str("queue", c.logicalQueue).Str("idempotency_key", envelope.IdempotencyKey).Msg("duplicate event, discarding")
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "success").Inc()
		c.ackDiscard(ctx, queueURL, m, "duplicate")
		return true
	}

	if err := c.idempotency.Claim(ctx, envelope.IdempotencyKey); err != nil {
		if !errors.Is(err, idempotency.ErrAlreadyClaimed) {
			c.recordTransientError()
			c.log.Error().Err(err).Str("queue", c.logicalQueue).Msg("idempotency claim failed, leaving for redelivery")
			metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "transient_error").Inc()
			return c.leave(ctx, queueURL, m)
		}
		c.log.Info().Str("queue", c.logicalQueue).Str("idempotency_key", envelope.IdempotencyKey).Msg("already claimed, discarding")
		c.ackDiscard(ctx, queueURL, m, "duplicate")
		return true
	}

	listener, ok := c.listeners.Lookup(envelope.EventType)
	if !ok {
		c.log.Warn().Str("queue", c.logicalQueue).Str("event_type", envelope.EventType).Msg("no listener registered for event type")
		c.notifier.Notify(ctx, AlertWarning, "unmapped event type", map[string]any{"queue": c.logicalQueue, "event_type": envelope.EventType})
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "permanent_error").Inc()
		c.idempotency.Release(ctx, envelope.IdempotencyKey)
		c.ackDiscard(ctx, queueURL, m, "unmapped_event")
		return true
	}

	if c.longRunningEvents[envelope.EventType] {
		c.extendVisibility(ctx, queueURL, m.ReceiptHandle)
	}

	err = listener.Handle(ctx, envelope.Payload)

	metrics.MessageProcessingDuration.WithLabelValues(c.logicalQueue, envelope.EventType).Observe(time.Since(start).Seconds())
	c.totalProcessed.Add(1)

	if err == nil {
		if commitErr := c.idempotency.Commit(ctx, envelope.IdempotencyKey, envelope.EventType, envelope.Service); commitErr != nil {
			c.log.Error().Err(commitErr).Str("queue", c.logicalQueue).Msg("commit failed, leaving for redelivery")
			c.idempotency.Release(ctx, envelope.IdempotencyKey)
			c.recordTransientError()
			metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "transient_error").Inc()
			return c.leave(ctx, queueURL, m)
		}
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "success").Inc()
		c.ackDiscard(ctx, queueURL, m, "success")
		return true
	}

	c.idempotency.Release(ctx, envelope.IdempotencyKey)

	switch Classify(err) {
	case KindPermanent:
		c.log.Error().Err(err).Str("queue", c.logicalQueue).Str("event_type", envelope.EventType).Msg("permanent error, discarding")
		c.notifier.Notify(ctx, AlertCritical, "permanent listener error", map[string]any{"queue": c.logicalQueue, "event_type": envelope.EventType, "error": err.Error()})
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "permanent_error").Inc()
		c.ackDiscard(ctx, queueURL, m, "permanent_error")
		return true
	default:
		c.recordTransientError()
		c.log.Warn().Err(err).Str("queue", c.logicalQueue).Str("event_type", envelope.EventType).Msg("transient or unknown error, leaving for redelivery")
		metrics.MessagesProcessedTotal.WithLabelValues(c.logicalQueue, "transient_error").Inc()
		return c.leave(ctx, queueURL, m)
	}
}

// extendVisibility performs the EXTEND_VIS step: a one-shot extension to
// longRunningVisibilityTimeout for messages whose event_type is configured
// as long-running, called once before DISPATCH.
func (c *ConsumerLoop) extendVisibility(ctx context.Context, queueURL, receiptHandle string) {
	if err := c.transport.ChangeMessageVisibility(ctx, &sqsChangeVisibilityInput{
		QueueURL:          queueURL,
		ReceiptHandle:     receiptHandle,
		VisibilityTimeout: longRunningVisibilityTimeout,
	}); err != nil {
		c.log.Warn().Err(err).Str("queue", c.logicalQueue).Msg("failed to extend message visibility")
	}
}

// ackDiscard deletes a message from the queue: the terminal outcome for
// decode errors, validation errors, duplicates, unmapped events, permanent
// errors, and successful dispatch.
func (c *ConsumerLoop) ackDiscard(ctx context.Context, queueURL string, m sqsReceivedMessage, outcome string) {
	if err := c.transport.DeleteMessage(ctx, &sqsDeleteInput{QueueURL: queueURL, ReceiptHandle: m.ReceiptHandle}); err != nil {
		c.log.Error().Err(err).Str("queue", c.logicalQueue).Str("outcome", outcome).Msg("failed to delete acked message")
	}
}

// leave deliberately does not delete the message, letting SQS's own
// visibility-timeout expiry and redrive policy handle retry and eventual
// dead-lettering. This is the redesigned behavior: the message is never
// force-deleted on a transient or unknown outcome.
func (c *ConsumerLoop) leave(_ context.Context, _ string, _ sqsReceivedMessage) bool {
	return false
}

func (c *ConsumerLoop) recordValidationError() {
	c.validationErrors.Add(1)
}

func (c *ConsumerLoop) recordTransientError() {
	c.transientErrors.Add(1)
}

// Stats reports the loop's running error counters for threshold alerting by
// the supervising process.
type Stats struct {
	TotalProcessed   int64
	ValidationErrors int64
	TransientErrors  int64
}

// Stats returns the loop's current counters.
func (c *ConsumerLoop) Stats() Stats {
	return Stats{
		TotalProcessed:   c.totalProcessed.Load(),
		ValidationErrors: c.validationErrors.Load(),
		TransientErrors:  c.transientErrors.Load(),
	}
}
