package entities

import (
	"encoding/json"
	"time"
)

type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// PendingOperation is a mutation recorded while the remote tiers were
// unreachable. An empty ItemID on an update means the payload is the whole
// collection for Key.
type PendingOperation struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Kind      OperationKind   `json:"kind"`
	ItemID    string          `json:"item_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UserID    string          `json:"user_id,omitempty"`
	Attempts  int             `json:"attempts"`
}

// IsCollection reports whether the operation re-asserts a whole collection.
func (o PendingOperation) IsCollection() bool {
	return o.ItemID == "" && o.Kind == OperationUpdate
}
