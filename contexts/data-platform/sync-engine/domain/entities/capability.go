package entities

import "time"

// CapabilityStatus is a point-in-time snapshot of which tiers are usable.
// It is process-local and never persisted.
type CapabilityStatus struct {
	LocalStoreUsable   bool      `json:"local_store_usable"`
	RemoteAuthUsable   bool      `json:"remote_auth_usable"`
	RemoteBlobUsable   bool      `json:"remote_blob_usable"`
	RemoteTablesUsable bool      `json:"remote_tables_usable"`
	UserID             string    `json:"user_id,omitempty"`
	Errors             []string  `json:"errors"`
	Hints              []string  `json:"hints"`
	CheckedAt          time.Time `json:"checked_at"`
}

// RemoteReachable reports whether any remote tier accepted the last probe.
func (s CapabilityStatus) RemoteReachable() bool {
	return s.RemoteBlobUsable || s.RemoteTablesUsable
}

// Fresh reports whether the snapshot is still inside its TTL window.
func (s CapabilityStatus) Fresh(now time.Time, ttl time.Duration) bool {
	if s.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(s.CheckedAt) < ttl
}

// Clone copies the slices so callers cannot mutate a cached snapshot.
func (s CapabilityStatus) Clone() CapabilityStatus {
	s.Errors = append([]string(nil), s.Errors...)
	s.Hints = append([]string(nil), s.Hints...)
	return s
}
