package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	m := New(MaintenanceEnabled, "lobby-1", map[string]string{KeyMode: "GLOBAL", KeyReason: "patch"})

	payload, err := Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"server":"lobby-1"`)

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "unknown type", payload: `{"type":"PING","server":"a","timestamp":1,"data":{}}`, wantErr: ErrUnknownType},
		{name: "missing type", payload: `{"server":"a","timestamp":1}`, wantErr: ErrMissingField},
		{name: "missing origin", payload: `{"type":"CONFIG_RELOAD","timestamp":1}`, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := Decode([]byte("not json"))
		require.Error(t, err)
	})

	t.Run("nil data becomes empty map", func(t *testing.T) {
		m, err := Decode([]byte(`{"type":"WHITELIST_CLEARED","server":"a","timestamp":1}`))
		require.NoError(t, err)
		assert.NotNil(t, m.Data)
	})
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(Message{Type: "BOGUS", Origin: "a"})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestFields(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	m := New(TimerScheduled, "a", map[string]string{KeyStart: FormatMillis(at), KeyEnd: "soon"})

	got, err := m.Millis(KeyStart)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))

	_, err = m.Millis(KeyEnd)
	require.Error(t, err)

	_, err = m.Get(KeyUUID)
	require.ErrorIs(t, err, ErrMissingField)
}
