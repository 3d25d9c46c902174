package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity triggers the nightly lot-versus-ledger reconciliation.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
	// TaskPriceWarmup pre-populates the active-price cache.
	TaskPriceWarmup = "pricing:warmup"
)

// LedgerIntegrityPayload carries scheduling metadata for the reconciliation scan.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	BranchID     int64     `json:"branch_id,omitempty"`
}

// NewLedgerIntegrityTask constructs the reconciliation task.
func NewLedgerIntegrityTask(at time.Time, branchID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at, BranchID: branchID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// PriceWarmupPayload carries scheduling metadata for the cache warmup.
type PriceWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewPriceWarmupTask constructs the warmup task.
func NewPriceWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(PriceWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceWarmup, body, asynq.Queue(QueueDefault)), nil
}
