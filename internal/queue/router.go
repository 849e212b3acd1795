package queue

import (
	"context"

	"github.com/rs/zerolog"
)

// Driver is a transport capable of publishing an envelope onto a logical
// queue. Managed (SQS) and Legacy (Redis Streams) both satisfy it, letting
// MessagingService switch or combine them without knowing which is which.
type Driver interface {
	Name() string
	Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error)
	IsAvailable(ctx context.Context) bool
}

// ManagedDriver adapts a Publisher (SQS-backed) to the Driver interface.
type ManagedDriver struct {
	publisher *Publisher
	resolver  *Resolver
}

// NewManagedDriver constructs a ManagedDriver.
func NewManagedDriver(publisher *Publisher, resolver *Resolver) *ManagedDriver {
	return &ManagedDriver{publisher: publisher, resolver: resolver}
}

// Name implements Driver.
func (d *ManagedDriver) Name() string { return "Managed" }

// Publish implements Driver.
func (d *ManagedDriver) Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	return d.publisher.Publish(ctx, logicalQueue, eventType, payload, attrs)
}

// IsAvailable implements Driver. The resolver's cache/transport being
// reachable is treated as availability; a genuine outage surfaces as a
// publish error instead, which the router already handles.
func (d *ManagedDriver) IsAvailable(_ context.Context) bool { return true }

// QueueExists reports whether logicalQueue is already provisioned on this
// driver, used by MessagingService's fallback pre-check.
func (d *ManagedDriver) QueueExists(ctx context.Context, logicalQueue string) bool {
	return d.resolver.QueueExists(ctx, logicalQueue)
}

// RouterConfig controls MessagingService's dual-write/fallback policy.
type RouterConfig struct {
	// DualWrite, when true, publishes on both drivers and prefers the
	// Managed driver's result.
	DualWrite bool
	// FallbackToLegacy, when true and Driver is Managed, routes to Legacy
	// when the target queue does not yet exist, and on Managed publish error.
	FallbackToLegacy bool
}

// MessagingService is the single publish entry point (C4). It implements the
// dual-write / fallback-pre-check / primary-attempt-with-fallback policy: see
// the component design for the exact decision order.
type MessagingService struct {
	primary  Driver
	fallback Driver
	cfg      RouterConfig
	log      zerolog.Logger
}

// NewMessagingService constructs a MessagingService. fallback may be nil if
// FallbackToLegacy and DualWrite are both false.
func NewMessagingService(primary, fallback Driver, cfg RouterConfig, log zerolog.Logger) *MessagingService {
	return &MessagingService{primary: primary, fallback: fallback, cfg: cfg, log: log}
}

// Publish routes a single event according to policy:
//  1. Dual-write: attempt both drivers, preferring the primary's result.
//  2. Fallback pre-check: if the primary is Managed, the target queue
//     doesn't exist yet, and the fallback reports itself available, route
//     straight to the fallback rather than paying for a doomed lazy-create
//     race.
//  3. Primary attempt with fallback-on-error.
func (s *MessagingService) Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	if s.cfg.DualWrite && s.fallback != nil {
		return s.dualWrite(ctx, logicalQueue, eventType, payload, attrs)
	}

	if s.cfg.FallbackToLegacy && s.fallback != nil {
		if managed, ok := s.primary.(*ManagedDriver); ok && !managed.QueueExists(ctx, logicalQueue) && s.fallback.IsAvailable(ctx) {
			s.log.Warn().Str("queue", logicalQueue).Msg("routing to legacy driver: managed queue not yet provisioned")
			return s.fallback.Publish(ctx, logicalQueue, eventType, payload, attrs)
		}
	}

	id, err := s.primary.Publish(ctx, logicalQueue, eventType, payload, attrs)
	if err == nil {
		return id, nil
	}

	if s.cfg.FallbackToLegacy && s.fallback != nil {
		s.log.Error().Err(err).Str("queue", logicalQueue).Msg("primary driver publish failed, falling back to legacy")
		return s.fallback.Publish(ctx, logicalQueue, eventType, payload, attrs)
	}

	return "", err
}

func (s *MessagingService) dualWrite(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	primaryID, primaryErr := s.primary.Publish(ctx, logicalQueue, eventType, payload, attrs)
	fallbackID, fallbackErr := s.fallback.Publish(ctx, logicalQueue, eventType, payload, attrs)

	if fallbackErr != nil {
		s.log.Warn().Err(fallbackErr).Str("queue", logicalQueue).Msg("dual-write: legacy leg failed")
	} else {
		s.log.Info().Str("queue", logicalQueue).Str("message_id", fallbackID).Msg("dual-write: legacy leg succeeded")
	}

	if primaryErr != nil {
		s.log.Warn().Err(primaryErr).Str("queue", logicalQueue).Msg("dual-write: managed leg failed")
		if fallbackErr == nil {
			return fallbackID, nil
		}
		return "", primaryErr
	}

	s.log.Info().Str("queue", logicalQueue).Str("message_id", primaryID).Msg("dual-write: managed leg succeeded")
	return primaryID, nil
}
