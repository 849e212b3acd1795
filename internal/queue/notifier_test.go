package queue

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLogNotifier_Notify_Warning(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	notifier := NewLogNotifier(log)

	notifier.Notify(context.Background(), AlertWarning, "unmapped event type", map[string]any{"queue": "payments"})

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "unmapped event type")
	assert.Contains(t, buf.String(), "payments")
}

func TestLogNotifier_Notify_Critical(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	notifier := NewLogNotifier(log)

	notifier.Notify(context.Background(), AlertCritical, "dlq depth threshold breached", map[string]any{"depth": 42})

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "dlq depth threshold breached")
}
