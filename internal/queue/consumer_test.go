package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-edu/sqs-messaging/internal/idempotency"
)

func newTestConsumer(t *testing.T, listeners ListenerRegistry, notifier Notifier) (*ConsumerLoop, *fakeTransport, *Resolver) {
	t.Helper()
	transport := newFakeTransport()
	resolver := NewResolver(transport, newTestRedis(t), "local")
	store := idempotency.NewStore(newTestRedis(t), nil, idempotency.Config{
		ProcessingTTL: time.Minute,
		ProcessedTTL:  time.Hour,
	})
	loop := NewConsumerLoop(ConsumerConfig{LogicalQueue: "payments", Concurrency: 4}, resolver, transport, store, listeners, notifier, zerolog.Nop())
	return loop, transport, resolver
}

var seedCounter int

func seedEnvelope(t *testing.T, transport *fakeTransport, resolver *Resolver, body string) string {
	t.Helper()
	url, err := resolver.Resolve(context.Background(), "payments")
	require.NoError(t, err)

	seedCounter++
	handle := fmt.Sprintf("receipt-seed-%d", seedCounter)
	transport.messages[url] = append(transport.messages[url], sqsReceivedMessage{
		MessageID:     fmt.Sprintf("msg-seed-%d", seedCounter),
		ReceiptHandle: handle,
		Body:          body,
	})
	return handle
}

func validEnvelopeJSON(eventType string) string {
	return `{"event_type":"` + eventType + `","service":"orders-service","payload":{"amount":5},"idempotency_key":"0000000000000000000000000000000000000000000000000000000000000001","trace_id":"t-1","timestamp":"2026-01-01T00:00:00Z","version":"1.0"}`
}

func TestConsumerLoop_DecodeError_AcksAndDiscards(t *testing.T) {
	loop, transport, resolver := newTestConsumer(t, ListenerRegistry{}, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, `not json`)

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Received)
	assert.Equal(t, 1, result.Acked)
	assert.Equal(t, 0, result.Left)
	assert.True(t, transport.wasDeleted(handle))
}

func TestConsumerLoop_ValidationError_AcksAndDiscards(t *testing.T) {
	loop, transport, resolver := newTestConsumer(t, ListenerRegistry{}, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, `{"event_type":"","service":"","payload":{}}`)

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(handle))
	assert.Equal(t, int64(1), loop.Stats().ValidationErrors)
}

func TestConsumerLoop_UnmappedEventType_AcksAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	loop, transport, resolver := newTestConsumer(t, ListenerRegistry{}, notifier)
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(handle))
	assert.Equal(t, 1, notifier.count())
	alert, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, AlertWarning, alert.Level)
}

func TestConsumerLoop_SuccessfulDispatch_CommitsAndAcks(t *testing.T) {
	var handled map[string]any
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			handled = payload
			return nil
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(handle))
	assert.NotNil(t, handled)
	assert.Equal(t, int64(1), loop.Stats().TotalProcessed)
}

func TestConsumerLoop_PermanentError_AcksAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return ErrPermanent
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, notifier)
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(handle))
	assert.Equal(t, 1, notifier.count())
	alert, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, AlertCritical, alert.Level)
}

func TestConsumerLoop_TransientError_LeavesMessage(t *testing.T) {
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return errors.New("connection refused")
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Acked)
	assert.Equal(t, 1, result.Left)
	assert.False(t, transport.wasDeleted(handle))
	assert.Equal(t, int64(1), loop.Stats().TransientErrors)
}

func TestConsumerLoop_UnknownError_LeavesMessage(t *testing.T) {
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return errors.New("invalid payload shape")
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Acked)
	assert.Equal(t, 1, result.Left)
	assert.False(t, transport.wasDeleted(handle))
}

func TestConsumerLoop_DuplicateEvent_AcksAndDiscards(t *testing.T) {
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return nil
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, &fakeNotifier{})

	first := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))
	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(first))

	second := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))
	result, err = loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)
	assert.True(t, transport.wasDeleted(second))
}

func TestConsumerLoop_ValidationErrorRate_AlertsAboveThreshold(t *testing.T) {
	notifier := &fakeNotifier{}
	transport := newFakeTransport()
	resolver := NewResolver(transport, newTestRedis(t), "local")
	store := idempotency.NewStore(newTestRedis(t), nil, idempotency.Config{
		ProcessingTTL: time.Minute,
		ProcessedTTL:  time.Hour,
	})
	loop := NewConsumerLoop(ConsumerConfig{
		LogicalQueue:                 "payments",
		Concurrency:                  4,
		ValidationErrorRateThreshold: 0.01,
	}, resolver, transport, store, ListenerRegistry{}, notifier, zerolog.Nop())

	seedEnvelope(t, transport, resolver, `not json`)
	seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Received)

	found := false
	for _, a := range notifier.alerts {
		if a.Message == "validation error rate exceeded threshold" {
			found = true
		}
	}
	assert.True(t, found, "expected a validation error rate alert")
}

func TestConsumerLoop_ValidationErrorRate_NoAlertBelowThreshold(t *testing.T) {
	notifier := &fakeNotifier{}
	transport := newFakeTransport()
	resolver := NewResolver(transport, newTestRedis(t), "local")
	store := idempotency.NewStore(newTestRedis(t), nil, idempotency.Config{
		ProcessingTTL: time.Minute,
		ProcessedTTL:  time.Hour,
	})
	loop := NewConsumerLoop(ConsumerConfig{
		LogicalQueue:                 "payments",
		Concurrency:                  4,
		ValidationErrorRateThreshold: 0.5,
	}, resolver, transport, store, ListenerRegistry{}, notifier, zerolog.Nop())

	seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.nomatch"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Received)

	for _, a := range notifier.alerts {
		assert.NotEqual(t, "validation error rate exceeded threshold", a.Message)
	}
}

func TestConsumerLoop_LongRunningEvent_ExtendsVisibilityOnceTo120s(t *testing.T) {
	listeners := ListenerRegistry{
		"report.generate": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return nil
		}),
	}

	transport := newFakeTransport()
	resolver := NewResolver(transport, newTestRedis(t), "local")
	store := idempotency.NewStore(newTestRedis(t), nil, idempotency.Config{
		ProcessingTTL: time.Minute,
		ProcessedTTL:  time.Hour,
	})
	loop := NewConsumerLoop(ConsumerConfig{
		LogicalQueue:      "payments",
		Concurrency:       4,
		LongRunningEvents: []string{"report.generate"},
	}, resolver, transport, store, listeners, &fakeNotifier{}, zerolog.Nop())

	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("report.generate"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)

	timeout, extended := transport.wasExtended(handle)
	require.True(t, extended)
	assert.Equal(t, int32(120), timeout)
}

func TestConsumerLoop_RegularEvent_DoesNotExtendVisibility(t *testing.T) {
	listeners := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return nil
		}),
	}

	loop, transport, resolver := newTestConsumer(t, listeners, &fakeNotifier{})
	handle := seedEnvelope(t, transport, resolver, validEnvelopeJSON("payment.paid"))

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Acked)

	_, extended := transport.wasExtended(handle)
	assert.False(t, extended)
}

func TestConsumerLoop_EmptyCycle_NoMessages(t *testing.T) {
	loop, _, _ := newTestConsumer(t, ListenerRegistry{}, &fakeNotifier{})

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Received)
	assert.Equal(t, 0, result.Acked)
	assert.Equal(t, 0, result.Left)
}
