package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
)

const resolverCacheTTL = 30 * 24 * time.Hour

// Queue attribute values fixed by the wire contract (§6).
const (
	visibilityTimeoutSeconds    = "30"
	receiveWaitTimeSeconds      = "20"
	messageRetentionSeconds     = "1209600" // 14 days
	dlqMaxReceiveCount          = 5
)

// Resolver maps a logical queue name to its transport URL, creating the
// queue and its sibling DLQ on first use. URL lookups are cached in Redis
// with a 30-day TTL; the cache is shared with the idempotency store's fast
// tier since both are read-mostly, TTL-keyed lookups against the same Redis
// instance.
type Resolver struct {
	transport Transport
	cache     *redis.Client
	prefix    string
}

// NewResolver constructs a Resolver for the given environment prefix.
func NewResolver(transport Transport, cache *redis.Client, prefix string) *Resolver {
	return &Resolver{transport: transport, cache: cache, prefix: prefix}
}

// EffectiveName returns the remote queue name for a logical name, per the
// `{prefix}-{logicalName}` convention.
func (r *Resolver) EffectiveName(logicalName string) string {
	return fmt.Sprintf("%s-%s", r.prefix, logicalName)
}

func (r *Resolver) dlqName(effectiveName string) string {
	return effectiveName + "-dlq"
}

func (r *Resolver) cacheKey(effectiveName string) string {
	return "queue-url:" + effectiveName
}

// Resolve returns the transport URL for logicalName, creating the queue (and
// its DLQ) if it does not already exist. Results are cached for 30 days.
func (r *Resolver) Resolve(ctx context.Context, logicalName string) (string, error) {
	effectiveName := r.EffectiveName(logicalName)

	if r.cache != nil {
		if url, err := r.cache.Get(ctx, r.cacheKey(effectiveName)).Result(); err == nil {
			return url, nil
		}
	}

	url, err := r.transport.GetQueueUrl(ctx, effectiveName)
	if errors.Is(err, ErrQueueNotFound) {
		url, err = r.createQueue(ctx, effectiveName)
		if err != nil {
			return "", fmt.Errorf("create queue %s: %w", effectiveName, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("resolve queue %s: %w", effectiveName, err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, r.cacheKey(effectiveName), url, resolverCacheTTL)
	}

	return url, nil
}

// QueueExists reports whether logicalName's effective queue is already
// provisioned. It never creates a queue; any error (not-found or otherwise)
// is treated conservatively as "does not exist".
func (r *Resolver) QueueExists(ctx context.Context, logicalName string) bool {
	effectiveName := r.EffectiveName(logicalName)
	_, err := r.transport.GetQueueUrl(ctx, effectiveName)
	return err == nil
}

// createQueue provisions the DLQ, then the main queue with a redrive policy
// pointing at it. Any step failing aborts the whole resolution; queue
// creation is idempotent by name so a retry is safe even if the DLQ was
// already created on a prior failed attempt.
func (r *Resolver) createQueue(ctx context.Context, effectiveName string) (string, error) {
	dlqName := r.dlqName(effectiveName)

	dlqURL, err := r.transport.CreateQueue(ctx, dlqName, map[string]string{
		"MessageRetentionPeriod": messageRetentionSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("create dlq %s: %w", dlqName, err)
	}

	attrs, err := r.transport.GetQueueAttributes(ctx, dlqURL, []types.QueueAttributeName{types.QueueAttributeNameQueueArn})
	if err != nil {
		return "", fmt.Errorf("read dlq arn for %s: %w", dlqName, err)
	}
	dlqARN := attrs[string(types.QueueAttributeNameQueueArn)]

	redrivePolicy := fmt.Sprintf(`{"deadLetterTargetArn":%q,"maxReceiveCount":%d}`, dlqARN, dlqMaxReceiveCount)

	mainURL, err := r.transport.CreateQueue(ctx, effectiveName, map[string]string{
		"VisibilityTimeout":             visibilityTimeoutSeconds,
		"ReceiveMessageWaitTimeSeconds": receiveWaitTimeSeconds,
		"MessageRetentionPeriod":        messageRetentionSeconds,
		"RedrivePolicy":                 redrivePolicy,
	})
	if err != nil {
		return "", fmt.Errorf("create main queue %s: %w", effectiveName, err)
	}

	return mainURL, nil
}
