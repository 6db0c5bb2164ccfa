package worker

import (
	"time"

	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/proc"
)

// Worker is one tracked unit of execution. The registry owns the Worker
// record; the Worker exclusively owns its process handle while active
// and releases it on any terminal transition.
type Worker struct {
	ID        string
	Name      string
	Config    model.SpawnConfig
	ParentID  string
	CreatedAt time.Time
	Tags      []string

	state  State
	handle *proc.Handle
}

// New creates a worker in the Planned state.
func New(cfg model.SpawnConfig) *Worker {
	return &Worker{
		ID:        model.NewID(),
		Name:      cfg.Name,
		Config:    cfg,
		CreatedAt: time.Now(),
		Tags:      cfg.Tags,
		state:     Planned{Config: cfg, PlannedAt: time.Now().UTC()},
	}
}

// NewChild creates a worker with a parent worker ID recorded.
func NewChild(cfg model.SpawnConfig, parentID string) *Worker {
	w := New(cfg)
	w.ParentID = parentID
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// PID returns the OS process ID, defined only while Running or Finishing.
func (w *Worker) PID() (int, bool) {
	return PID(w.state)
}

// IsActive reports whether the worker is spawning, running, or finishing.
func (w *Worker) IsActive() bool {
	return IsActive(w.state)
}

// IsTerminal reports whether the worker has terminated or failed.
func (w *Worker) IsTerminal() bool {
	return IsTerminal(w.state)
}

// Age returns the time since the worker was created.
func (w *Worker) Age() time.Duration {
	return time.Since(w.CreatedAt)
}

// Progress returns the task progress: the Running value, 1 when
// terminated, 0 otherwise.
func (w *Worker) Progress() float64 {
	switch st := w.state.(type) {
	case Running:
		return st.Progress
	case Terminated:
		return 1
	default:
		return 0
	}
}

// UpdateProgress clamps p to [0, 1] and records it. It is a no-op unless
// the worker is currently Running.
func (w *Worker) UpdateProgress(p float64) {
	st, ok := w.state.(Running)
	if !ok {
		return
	}
	st.Progress = min(max(p, 0), 1)
	w.state = st
}

func (w *Worker) toSpawning() {
	w.state = Spawning{StartedAt: time.Now().UTC()}
}

func (w *Worker) toRunning(handle *proc.Handle, correlationID string) {
	w.handle = handle
	w.state = Running{
		PID:           handle.PID(),
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
	}
}

// toFinishing records a result while the process is still alive.
// Reserved for coordination traffic from the worker itself.
func (w *Worker) toFinishing(result *TaskResult) {
	st, ok := w.state.(Running)
	if !ok {
		return
	}
	w.state = Finishing{PID: st.PID, Result: result, StartedAt: time.Now().UTC()}
}

// toTerminated records the exit and releases the process handle. The
// duration is wall-clock time since creation.
func (w *Worker) toTerminated(exitCode int, result *TaskResult) {
	w.handle = nil
	w.state = Terminated{
		ExitCode:     exitCode,
		Duration:     time.Since(w.CreatedAt),
		Result:       result,
		TerminatedAt: time.Now().UTC(),
	}
}

// toFailed records an irrecoverable error and releases the process handle.
func (w *Worker) toFailed(errMsg string) {
	w.handle = nil
	w.state = Failed{Error: errMsg, FailedAt: time.Now().UTC()}
}
