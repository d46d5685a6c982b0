package errors

import "errors"

var (
	// ErrTransportUnavailable covers unreachable services, timeouts and any
	// remote failure that is not more specifically classified.
	ErrTransportUnavailable = errors.New("remote transport unavailable")
	// ErrSchemaMissing marks a remote table/relation that is not provisioned.
	ErrSchemaMissing = errors.New("remote relation does not exist")
	ErrNotFound      = errors.New("record not found")
	ErrSerialization = errors.New("stored payload could not be decoded")
	// ErrAuthRequired is the only error allowed to leave the engine.
	ErrAuthRequired       = errors.New("signed-in user required")
	ErrRemoteUnconfigured = errors.New("remote store is not configured")
	ErrValueTooLarge      = errors.New("value exceeds local store quota")
	ErrInvalidItem        = errors.New("item must be a JSON object with an id")
	ErrUnknownEntity      = errors.New("unknown entity")
)
