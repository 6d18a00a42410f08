package farm

import (
	"context"

	"github.com/fourdrec/fourdrec/internal/models"
)

// SyncState is the publication status reported to the studio's cloud bridge
// so remote reviewers can follow a job without farm access.
type SyncState string

const (
	// SyncRunning means the chain was queued and workers will report in.
	SyncRunning SyncState = "RUNNING"
	// SyncCompleted means the chain finished and the roll is uploadable.
	SyncCompleted SyncState = "COMPLETED"
	// SyncFailed means the chain was aborted or a stage errored out.
	SyncFailed SyncState = "FAILED"
)

// Notifier publishes job lifecycle changes to the cloud bridge. Calls run on
// the submit and poll paths, so implementations must return promptly.
type Notifier interface {
	Notify(ctx context.Context, state SyncState, job *models.Job) error
}

// NopNotifier discards notifications. It stands in when no cloud bridge is
// configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, SyncState, *models.Job) error { return nil }
