package httptransport

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StatusResponse struct {
	LocalStoreUsable   bool       `json:"local_store_usable"`
	RemoteAuthUsable   bool       `json:"remote_auth_usable"`
	RemoteBlobUsable   bool       `json:"remote_blob_usable"`
	RemoteTablesUsable bool       `json:"remote_tables_usable"`
	UserID             string     `json:"user_id,omitempty"`
	Errors             []string   `json:"errors"`
	Hints              []string   `json:"hints"`
	CheckedAt          time.Time  `json:"checked_at"`
	Online             bool       `json:"online"`
	PendingOperations  int        `json:"pending_operations"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
}

type CollectionResponse struct {
	Key   string           `json:"key"`
	Items []map[string]any `json:"items"`
}

type SetCollectionRequest struct {
	Items []map[string]any `json:"items"`
}

type WriteResponse struct {
	Local  bool `json:"local"`
	Remote bool `json:"remote"`
	Queued bool `json:"queued"`
}

type ItemResponse struct {
	Key  string         `json:"key"`
	Item map[string]any `json:"item"`
}

type PendingOperationDTO struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	ItemID    string    `json:"item_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id,omitempty"`
	Attempts  int       `json:"attempts"`
}

type QueueResponse struct {
	Online bool                  `json:"online"`
	Items  []PendingOperationDTO `json:"items"`
}

type DrainResponse struct {
	Attempted   int       `json:"attempted"`
	Replayed    int       `json:"replayed"`
	Requeued    int       `json:"requeued"`
	Dropped     int       `json:"dropped"`
	Pushed      int       `json:"pushed"`
	Remaining   int       `json:"remaining"`
	CompletedAt time.Time `json:"completed_at"`
}

type MigrateResponse struct {
	UserID   string `json:"user_id"`
	Migrated int    `json:"migrated"`
	Pulled   int    `json:"pulled"`
}
