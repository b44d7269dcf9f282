// Package message defines the sync message exchanged between nodes and its JSON wire format.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Type identifies the event carried by a Message.
type Type string

// Known message types.
const (
	MaintenanceEnabled  Type = "MAINTENANCE_ENABLED"
	MaintenanceDisabled Type = "MAINTENANCE_DISABLED"
	WhitelistAdded      Type = "WHITELIST_ADDED"
	WhitelistRemoved    Type = "WHITELIST_REMOVED"
	WhitelistCleared    Type = "WHITELIST_CLEARED"
	TimerScheduled      Type = "TIMER_SCHEDULED"
	TimerCancelled      Type = "TIMER_CANCELLED"
	ConfigReload        Type = "CONFIG_RELOAD"
)

// Data keys used by the known message types.
const (
	KeyMode      = "mode"
	KeyReason    = "reason"
	KeyStartedAt = "started_at"
	KeyStartedBy = "started_by"
	KeyDuration  = "duration"
	KeyUUID      = "uuid"
	KeyName      = "name"
	KeyStart     = "start"
	KeyEnd       = "end"
)

var (
	// ErrUnknownType is returned when a payload carries a type this node does not know.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned when a payload or data map lacks a required field.
	ErrMissingField = errors.New("missing message field")
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case MaintenanceEnabled, MaintenanceDisabled,
		WhitelistAdded, WhitelistRemoved, WhitelistCleared,
		TimerScheduled, TimerCancelled, ConfigReload:
		return true
	}
	return false
}

// Message is one sync event. Origin is the name of the node that published it.
type Message struct {
	Data      map[string]string `json:"data"`
	Type      Type              `json:"type"`
	Origin    string            `json:"server"`
	Timestamp int64             `json:"timestamp"`
}

// New builds a message stamped with the current time.
func New(t Type, origin string, data map[string]string) Message {
	if data == nil {
		data = map[string]string{}
	}
	return Message{
		Type:      t,
		Origin:    origin,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// Time returns the publish timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Get returns the value for key, or ErrMissingField when absent.
func (m Message) Get(key string) (string, error) {
	v, ok := m.Data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

// Millis parses the value for key as epoch milliseconds.
func (m Message) Millis(key string) (time.Time, error) {
	v, err := m.Get(key)
	if err != nil {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

// FormatMillis encodes t for a data map.
func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Encode serializes m to its wire form.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return json.Marshal(m)
}

// Decode parses a wire payload. Payloads with an unknown type or without an origin are rejected.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: type", ErrMissingField)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.Origin == "" {
		return Message{}, fmt.Errorf("%w: server", ErrMissingField)
	}
	if m.Data == nil {
		m.Data = map[string]string{}
	}

	return m, nil
}
