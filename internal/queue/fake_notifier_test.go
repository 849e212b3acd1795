package queue

import (
	"context"
	"sync"
)

// fakeNotifier records every alert raised, shared by dlq_test.go and
// consumer_test.go.
type fakeNotifier struct {
	mu     sync.Mutex
	alerts []fakeAlert
}

type fakeAlert struct {
	Level   AlertLevel
	Message string
	Fields  map[string]any
}

func (f *fakeNotifier) Notify(_ context.Context, level AlertLevel, message string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, fakeAlert{Level: level, Message: message, Fields: fields})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeNotifier) last() (fakeAlert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) == 0 {
		return fakeAlert{}, false
	}
	return f.alerts[len(f.alerts)-1], true
}
