package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
)

// EnvelopeVersion tags the current stored format.
const EnvelopeVersion = "1"

// Envelope is the unit persisted in every tier.
// Timestamp (ms since epoch) is the last-writer-wins authority.
type Envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
	UserID    string          `json:"userId,omitempty"`
}

// StoredKind distinguishes envelope-wrapped payloads from legacy bare values.
type StoredKind string

const (
	KindEnvelope StoredKind = "envelope"
	KindBare     StoredKind = "bare"
)

// StoredValue is the result of decoding raw bytes read from a tier.
type StoredValue struct {
	Kind     StoredKind
	Envelope Envelope
}

// NewEnvelope wraps data with the given write time.
func NewEnvelope(data json.RawMessage, at time.Time, userID string) Envelope {
	return Envelope{
		Data:      append(json.RawMessage(nil), data...),
		Timestamp: at.UnixMilli(),
		Version:   EnvelopeVersion,
		UserID:    userID,
	}
}

// Time returns the envelope timestamp as UTC time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// VisibleTo reports whether a reader scoped to userID may see this envelope.
// Envelopes without an owner belong to the shared slot.
func (e Envelope) VisibleTo(userID string) bool {
	return e.UserID == "" || e.UserID == userID
}

// DecodeStored attempts a structured envelope decode first and falls back to
// treating the raw payload as a bare value. Only an object that carries both
// "data" and "timestamp" members counts as an envelope.
func DecodeStored(raw []byte) (StoredValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return StoredValue{}, fmt.Errorf("decode stored value: %w", domainerrors.ErrSerialization)
	}

	if trimmed[0] == '{' {
		var probe struct {
			Data      json.RawMessage `json:"data"`
			Timestamp *int64          `json:"timestamp"`
			Version   string          `json:"version"`
			UserID    string          `json:"userId"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.Data != nil && probe.Timestamp != nil {
			return StoredValue{
				Kind: KindEnvelope,
				Envelope: Envelope{
					Data:      probe.Data,
					Timestamp: *probe.Timestamp,
					Version:   probe.Version,
					UserID:    probe.UserID,
				},
			}, nil
		}
	}

	return StoredValue{
		Kind:     KindBare,
		Envelope: Envelope{Data: append(json.RawMessage(nil), trimmed...)},
	}, nil
}
