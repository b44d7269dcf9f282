package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/woozymasta/maintsync/internal/message"
)

// fakeTransport records published messages in memory.
type fakeTransport struct {
	err       error
	published []message.Message
	mu        sync.Mutex
	connected bool
}

func (f *fakeTransport) Publish(_ context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeTransport) Subscribe(Handler) error { return nil }
func (f *fakeTransport) IsConnected() bool { return f.connected }
func (f *fakeTransport) Close() error { return nil }

func TestBroadcaster(t *testing.T) {
	ctx := context.Background()

	t.Run("nil broadcaster is a no-op", func(t *testing.T) {
		var b *Broadcaster
		b.Send(ctx, message.WhitelistCleared, nil)
		assert.False(t, b.Connected())
		assert.Empty(t, b.Node())
	})

	t.Run("without transport", func(t *testing.T) {
		b := NewBroadcaster(nil, "a")
		b.Send(ctx, message.WhitelistCleared, nil)
		assert.False(t, b.Connected())
	})

	t.Run("stamps origin", func(t *testing.T) {
		ft := &fakeTransport{connected: true}
		b := NewBroadcaster(ft, "lobby-1")
		b.Send(ctx, message.MaintenanceDisabled, map[string]string{message.KeyDuration: "5"})

		if assert.Len(t, ft.published, 1) {
			assert.Equal(t, "lobby-1", ft.published[0].Origin)
			assert.Equal(t, message.MaintenanceDisabled, ft.published[0].Type)
			assert.Equal(t, "5", ft.published[0].Data[message.KeyDuration])
		}
	})

	t.Run("swallows publish errors", func(t *testing.T) {
		ft := &fakeTransport{connected: true, err: errors.New("boom")}
		assert.NotPanics(t, func() {
			NewBroadcaster(ft, "a").Send(ctx, message.WhitelistCleared, nil)
		})
	})

	t.Run("recovers after failed publish", func(t *testing.T) {
		ft := &fakeTransport{err: errors.New("connection refused")}
		b := NewBroadcaster(ft, "a")
		b.Send(ctx, message.WhitelistCleared, nil)
		assert.Empty(t, ft.published)

		ft.mu.Lock()
		ft.err = nil
		ft.mu.Unlock()

		b.Send(ctx, message.ConfigReload, nil)
		if assert.Len(t, ft.published, 1) {
			assert.Equal(t, message.ConfigReload, ft.published[0].Type)
		}
	})
}
