package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile compares live batches with the inventory log.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	defaultRetention = 7 * 24 * time.Hour
)

// ReconcilePayload scopes a reconcile run. An empty ItemIDs checks every
// (item, GD) pair; GDID 0 spans all GDs.
type ReconcilePayload struct {
	ItemIDs []string `json:"item_ids,omitempty"`
	GDID    int64    `json:"gd_id,omitempty"`
}

// CleanupPayload configures how old a key must be before it is purged.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReconcileTask constructs an Asynq task for ledger reconciliation.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewCleanupTask constructs an Asynq task purging idempotency keys older than
// retention. Non-positive retention falls back to seven days.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
