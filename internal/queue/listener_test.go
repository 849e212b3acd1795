package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerRegistry_Lookup(t *testing.T) {
	called := false
	registry := ListenerRegistry{
		"payment.paid": ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			called = true
			return nil
		}),
	}

	listener, ok := registry.Lookup("payment.paid")
	assert.True(t, ok)

	err := listener.Handle(context.Background(), map[string]any{})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestListenerRegistry_Lookup_Missing(t *testing.T) {
	registry := ListenerRegistry{}
	_, ok := registry.Lookup("unregistered.event")
	assert.False(t, ok)
}

func TestListenerFunc_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	var listener Listener = ListenerFunc(func(ctx context.Context, payload map[string]any) error {
		return wantErr
	})

	err := listener.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, wantErr)
}
