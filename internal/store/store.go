package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a worker record is not found.
var ErrNotFound = errors.New("worker record not found")

// WorkerRecord is the persisted audit row for one worker. The in-memory
// registry stays the source of truth; records exist for history and stats.
type WorkerRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	State         string     `json:"state"`
	TaskType      string     `json:"task_type"`
	Deployment    string     `json:"deployment,omitempty"`
	PID           int        `json:"pid,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	ParentID      string     `json:"parent_id,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Error         string     `json:"error,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// WorkerStats holds aggregate spawn statistics.
type WorkerStats struct {
	Total           int            `json:"total"`
	CountByState    map[string]int `json:"count_by_state"`
	CountByTaskType map[string]int `json:"count_by_task_type"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for worker history.
type Store interface {
	RecordSpawn(ctx context.Context, rec *WorkerRecord) error
	RecordTerminal(ctx context.Context, id, state string, exitCode *int, errMsg string, durationMS int64) error
	GetWorker(ctx context.Context, id string) (*WorkerRecord, error)
	ListWorkers(ctx context.Context, limit, offset int) ([]*WorkerRecord, int, error)
	Stats(ctx context.Context) (*WorkerStats, error)
	Close() error
}
