package queue

import (
	"errors"
	"strings"
)

// Kind is the closed set of error classifications applied on the consume path.
type Kind int

const (
	// KindTransient covers connectivity/timeout/throttle failures: the
	// message is left for native redelivery.
	KindTransient Kind = iota
	// KindPermanent covers declared business-rule failures and durable
	// unique-constraint violations: the message is ack-discarded and alerted.
	KindPermanent
	// KindUnknown covers anything not recognized by a declared error value
	// or message-substring heuristic. Treated the same as Transient.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient_error"
	case KindPermanent:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// Sentinel errors a listener may wrap to receive a precise classification
// instead of falling back to substring heuristics.
var (
	// ErrTransient marks a failure as transient: network/timeout/throttle/
	// connectivity conditions that are expected to succeed on redelivery.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks a failure as permanent: a declared business-rule
	// violation that will not succeed no matter how many times it's retried.
	ErrPermanent = errors.New("permanent failure")
)

// transientSubstrings is the last-resort fallback for opaque upstream
// errors (AWS SDK, Redis, pgx) that do not carry a typed classification.
var transientSubstrings = []string{
	"connection",
	"timeout",
	"temporarily unavailable",
	"throttl",
}

// Classify maps a listener error to a Kind. Declared sentinel errors take
// precedence; message-substring heuristics are the fallback for opaque
// errors; anything unrecognized classifies as Unknown (treated as
// Transient by the caller, preferring redelivery over silent loss).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTransient):
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(msg, substr) {
			return KindTransient
		}
	}

	return KindUnknown
}
