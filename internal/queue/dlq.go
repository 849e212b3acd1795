package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/our-edu/sqs-messaging/internal/metrics"
)

// DefaultDLQAlertThreshold is used by Monitor when the caller does not
// supply one.
const DefaultDLQAlertThreshold = 10

// DLQMessage is one message inspected from a dead-letter queue.
type DLQMessage struct {
	MessageID     string
	ReceiptHandle string
	Envelope      Envelope
	DecodeError   string
}

// ReplayResult summarizes a Replay call.
type ReplayResult struct {
	Replayed int
	Failed   int
}

// DLQ implements the operator inspect/replay/monitor tooling (C7); each call
// acts on the dead-letter sibling of the logical queue it names.
type DLQ struct {
	resolver  *Resolver
	transport Transport
	publisher *Publisher
	notifier  Notifier
	log       zerolog.Logger
}

// NewDLQ constructs a DLQ toolset.
func NewDLQ(resolver *Resolver, transport Transport, publisher *Publisher, notifier Notifier, log zerolog.Logger) *DLQ {
	return &DLQ{resolver: resolver, transport: transport, publisher: publisher, notifier: notifier, log: log}
}

func (d *DLQ) dlqURL(ctx context.Context, logicalQueue string) (string, error) {
	effectiveName := d.resolver.EffectiveName(logicalQueue)
	dlqName := d.resolver.dlqName(effectiveName)
	url, err := d.transport.GetQueueUrl(ctx, dlqName)
	if err != nil {
		return "", fmt.Errorf("resolve dlq for %s: %w", logicalQueue, err)
	}
	return url, nil
}

// Inspect reads up to limit messages off logicalQueue's DLQ without deleting
// them, decoding each into an Envelope where possible.
func (d *DLQ) Inspect(ctx context.Context, logicalQueue string, limit int) ([]DLQMessage, error) {
	url, err := d.dlqURL(ctx, logicalQueue)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 10 {
		limit = 10
	}

	out, err := d.transport.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            url,
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     0,
		VisibilityTimeout:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("receive from dlq %s: %w", logicalQueue, err)
	}

	messages := make([]DLQMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := DLQMessage{MessageID: m.MessageID, ReceiptHandle: m.ReceiptHandle}
		var envelope Envelope
		if err := json.Unmarshal([]byte(m.Body), &envelope); err != nil {
			msg.DecodeError = err.Error()
		} else {
			msg.Envelope = envelope
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Replay re-publishes up to limit messages from logicalQueue's DLQ back onto
// the main queue, deleting each from the DLQ once it is safely republished.
// Messages that fail to decode as an Envelope are dropped from the DLQ and
// counted as failed rather than replayed blind.
func (d *DLQ) Replay(ctx context.Context, logicalQueue string, limit int) (ReplayResult, error) {
	url, err := d.dlqURL(ctx, logicalQueue)
	if err != nil {
		return ReplayResult{}, err
	}

	if limit <= 0 || limit > 10 {
		limit = 10
	}

	out, err := d.transport.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            url,
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     0,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return ReplayResult{}, fmt.Errorf("receive from dlq %s: %w", logicalQueue, err)
	}

	var result ReplayResult
	for _, m := range out.Messages {
		var envelope Envelope
		if err := json.Unmarshal([]byte(m.Body), &envelope); err != nil {
			d.log.Error().Err(err).Str("queue", logicalQueue).Str("message_id", m.MessageID).Msg("dropping undecodable dlq message")
			d.deleteFromDLQ(ctx, url, m.ReceiptHandle, logicalQueue)
			result.Failed++
			metrics.DLQMessagesTotal.WithLabelValues(logicalQueue, "replay_failed").Inc()
			continue
		}

		if _, err := d.publisher.Publish(ctx, logicalQueue, envelope.EventType, envelope.Payload, nil); err != nil {
			d.log.Error().Err(err).Str("queue", logicalQueue).Str("message_id", m.MessageID).Msg("dlq replay publish failed")
			result.Failed++
			metrics.DLQMessagesTotal.WithLabelValues(logicalQueue, "replay_failed").Inc()
			continue
		}

		d.deleteFromDLQ(ctx, url, m.ReceiptHandle, logicalQueue)
		result.Replayed++
		metrics.DLQMessagesTotal.WithLabelValues(logicalQueue, "replayed").Inc()
	}

	return result, nil
}

func (d *DLQ) deleteFromDLQ(ctx context.Context, url, receiptHandle, logicalQueue string) {
	if err := d.transport.DeleteMessage(ctx, &sqsDeleteInput{QueueURL: url, ReceiptHandle: receiptHandle}); err != nil {
		d.log.Error().Err(err).Str("queue", logicalQueue).Msg("failed to delete replayed dlq message")
	}
}

// Monitor reads logicalQueue's DLQ depth and raises a critical alert through
// notifier if it exceeds threshold. threshold <= 0 uses
// DefaultDLQAlertThreshold.
func (d *DLQ) Monitor(ctx context.Context, logicalQueue string, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = DefaultDLQAlertThreshold
	}

	url, err := d.dlqURL(ctx, logicalQueue)
	if err != nil {
		return 0, err
	}

	attrs, err := d.transport.GetQueueAttributes(ctx, url, []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages})
	if err != nil {
		return 0, fmt.Errorf("read dlq attributes for %s: %w", logicalQueue, err)
	}

	depth := 0
	fmt.Sscanf(attrs[string(types.QueueAttributeNameApproximateNumberOfMessages)], "%d", &depth)
	metrics.DLQDepth.WithLabelValues(logicalQueue).Set(float64(depth))

	if depth > threshold {
		d.notifier.Notify(ctx, AlertCritical, "dlq depth threshold breached", map[string]any{
			"queue":     logicalQueue,
			"depth":     depth,
			"threshold": threshold,
		})
	}

	return depth, nil
}
