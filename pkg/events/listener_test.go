package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNotifyListener(t *testing.T) {
	manager := NewConnectionManager(&fakeCatchup{}, 0)
	listener := NewNotifyListener("host=localhost dbname=test", manager)

	assert.NotNil(t, listener)
	assert.Equal(t, manager, listener.manager)
	assert.False(t, listener.isListening("chat:s1"))
}

func TestNotifyListener_WithoutConnection(t *testing.T) {
	manager := NewConnectionManager(&fakeCatchup{}, 0)
	listener := NewNotifyListener("host=localhost dbname=test", manager)

	t.Run("subscribe before Start returns error", func(t *testing.T) {
		err := listener.Subscribe(t.Context(), "chat:s1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not established")
	})

	t.Run("unsubscribe of unknown channel is a no-op", func(t *testing.T) {
		assert.NoError(t, listener.Unsubscribe(t.Context(), "chat:s1"))
	})

	t.Run("stop before Start is safe", func(t *testing.T) {
		assert.NotPanics(t, func() { listener.Stop(t.Context()) })
	})
}
