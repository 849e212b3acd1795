package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/our-edu/sqs-messaging/internal/metrics"
)

// maxBatchEntries is the transport's per-request batch limit. PublishBatch
// sends each entry in its own request, so it never builds a request larger
// than this and publishes batches of any size in full.
const maxBatchEntries = 10

// BatchEntry is one logical message within a PublishBatch call.
type BatchEntry struct {
	EventType string
	Payload   map[string]any
	Attrs     map[string]string
}

// BatchFailure describes a single entry that failed within a PublishBatch call.
type BatchFailure struct {
	Entry BatchEntry
	Err   error
}

// Publisher wraps envelope construction, queue resolution, and message send
// for the Managed driver.
type Publisher struct {
	resolver  *Resolver
	transport Transport
	service   string
	log       zerolog.Logger
}

// NewPublisher constructs a Publisher. service identifies the origin service
// attached to every envelope this publisher wraps.
func NewPublisher(resolver *Resolver, transport Transport, service string, log zerolog.Logger) *Publisher {
	return &Publisher{resolver: resolver, transport: transport, service: service, log: log}
}

// Publish wraps payload in an Envelope, resolves logicalQueue's URL, and
// sends the serialized envelope with an EventType transport attribute plus
// any caller-supplied attrs.
func (p *Publisher) Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	start := time.Now()
	id, err := p.publishOne(ctx, logicalQueue, eventType, payload, attrs)
	metrics.PublishDuration.WithLabelValues("Managed").Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		p.log.Error().Err(err).Str("queue", logicalQueue).Str("event_type", eventType).Msg("publish failed")
	}
	metrics.PublishTotal.WithLabelValues("Managed", outcome).Inc()

	return id, err
}

func (p *Publisher) publishOne(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	envelope := Wrap(eventType, payload, p.service)

	url, err := p.resolver.Resolve(ctx, logicalQueue)
	if err != nil {
		return "", fmt.Errorf("resolve queue %s: %w", logicalQueue, err)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	sendAttrs := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		sendAttrs[k] = v
	}
	sendAttrs["EventType"] = eventType

	out, err := p.transport.SendMessage(ctx, &sqsSendInput{
		QueueURL:    url,
		MessageBody: string(body),
		Attributes:  sendAttrs,
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	return out.MessageID, nil
}

// PublishBatch publishes each entry independently against logicalQueue,
// returning how many succeeded. The succeeded entries are not separately
// reported — only failures are, since callers only need to know what to
// retry.
func (p *Publisher) PublishBatch(ctx context.Context, logicalQueue string, entries []BatchEntry) (successful int, failed []BatchFailure) {
	for _, entry := range entries {
		if _, err := p.Publish(ctx, logicalQueue, entry.EventType, entry.Payload, entry.Attrs); err != nil {
			failed = append(failed, BatchFailure{Entry: entry, Err: err})
			continue
		}
		successful++
	}

	return successful, failed
}
