package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the initial wire schema version for Envelope.
const EnvelopeVersion = "1.0"

// canonicalStrippedKeys are removed at every nesting depth before an
// idempotency key is derived from a payload, so that two publishes of the
// same logical event produce the same key regardless of bookkeeping fields.
var canonicalStrippedKeys = map[string]bool{
	"timestamp":  true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
	"trace_id":   true,
}

// Envelope is the wire format every message on the bus carries: routing and
// idempotency metadata wrapped around an application payload.
type Envelope struct {
	EventType      string         `json:"event_type"`
	Service        string         `json:"service"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	TraceID        string         `json:"trace_id"`
	Timestamp      string         `json:"timestamp"`
	Version        string         `json:"version"`
}

// Wrap builds an Envelope around payload, computing its deterministic
// idempotency key from eventType and the canonicalized payload.
func Wrap(eventType string, payload map[string]any, service string) Envelope {
	return Envelope{
		EventType:      eventType,
		Service:        service,
		Payload:        payload,
		IdempotencyKey: deriveIdempotencyKey(eventType, payload),
		TraceID:        uuid.New().String(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Version:        EnvelopeVersion,
	}
}

// Unwrap returns the envelope's application payload.
func Unwrap(e Envelope) map[string]any {
	return e.Payload
}

// Validate reports whether every required Envelope field is present. On
// failure it returns the name of the first missing field for logging.
func Validate(e Envelope) (bool, string) {
	switch {
	case e.EventType == "":
		return false, "event_type"
	case e.Service == "":
		return false, "service"
	case e.Payload == nil:
		return false, "payload"
	case len(e.IdempotencyKey) != 64:
		return false, "idempotency_key"
	case e.TraceID == "":
		return false, "trace_id"
	case e.Timestamp == "":
		return false, "timestamp"
	case e.Version == "":
		return false, "version"
	}
	return true, ""
}

func deriveIdempotencyKey(eventType string, payload map[string]any) string {
	canonical := canonicalize(payload)
	body, err := json.Marshal(canonical)
	if err != nil {
		// Payload is always built from already-decoded JSON, so this is
		// unreachable in practice; fall back to the event type alone rather
		// than panicking on a malformed caller-constructed map.
		body = []byte("{}")
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", eventType, body)))
	return hex.EncodeToString(sum[:])
}

// canonicalize strips bookkeeping keys at every depth and returns a value
// whose JSON marshaling is stable: map keys in Go's json package are already
// emitted in sorted order, so recursive key-stripping is sufficient to
// satisfy the "sort remaining mappings lexicographically" requirement.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if canonicalStrippedKeys[k] {
				continue
			}
			out[k] = canonicalize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = canonicalize(child)
		}
		return out
	default:
		return val
	}
}
