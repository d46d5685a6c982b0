package workers

import (
	"context"
	"log/slog"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
)

// Puller is implemented by *persistence.Manager.
type Puller interface {
	Status(ctx context.Context, force bool) entities.CapabilityStatus
	PullRemote(ctx context.Context, userID string) int
}

// RemotePuller brings rows written by other devices down into the local
// tier for the signed-in user.
type RemotePuller struct {
	Persistence Puller
	Logger      *slog.Logger
}

func (p RemotePuller) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(p.Logger)
	status := p.Persistence.Status(ctx, false)
	if !status.RemoteBlobUsable || status.UserID == "" {
		logger.Debug("remote pull skipped",
			"event", "sync_engine_pull_skipped",
			"module", application.Module,
			"layer", "worker",
			"remote_blob_usable", status.RemoteBlobUsable,
		)
		return nil
	}

	refreshed := p.Persistence.PullRemote(ctx, status.UserID)
	logger.Info("remote pull completed",
		"event", "sync_engine_pull_completed",
		"module", application.Module,
		"layer", "worker",
		"user_id", status.UserID,
		"refreshed_count", refreshed,
	)
	return nil
}
