package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditLifecycleSweep re-tiers, compresses and expires audit records.
	TaskAuditLifecycleSweep = "audit:lifecycle_sweep"
	// TaskAuditCleanup deletes audit records past a retention horizon.
	TaskAuditCleanup = "audit:cleanup"
)

// LifecycleSweepPayload tunes a sweep run. Zero values take defaults.
type LifecycleSweepPayload struct {
	// BatchSize bounds how many records are inspected per page.
	BatchSize int `json:"batch_size,omitempty"`
	// MaxBatches bounds total pages per run; leftovers wait for the next run.
	MaxBatches int `json:"max_batches,omitempty"`
}

// NewLifecycleSweepTask constructs an Asynq task.
func NewLifecycleSweepTask(payload LifecycleSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditLifecycleSweep, data), nil
}

// CleanupPayload carries the retention horizon for an explicit cleanup run.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewCleanupTask constructs an Asynq task.
func NewCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditCleanup, data), nil
}
