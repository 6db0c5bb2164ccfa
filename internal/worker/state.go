package worker

import (
	"time"

	"github.com/tbracken/foundry/internal/model"
)

// State name constants.
const (
	StatePlanned    = "planned"
	StateSpawning   = "spawning"
	StateRunning    = "running"
	StateFinishing  = "finishing"
	StateTerminated = "terminated"
	StateFailed     = "failed"
)

// State is the sealed lifecycle state of a worker. Each stage is its own
// variant carrying only the data valid for that stage, so combinations
// like a pid without a running process cannot be represented. Transitions
// are one-way: Planned → Spawning → Running → (Finishing →) Terminated,
// with Failed reachable from any active state.
type State interface {
	Name() string
	sealed()
}

// Planned is the initial state: the worker exists but nothing has been
// launched yet.
type Planned struct {
	Config    model.SpawnConfig
	PlannedAt time.Time
}

// Spawning means the launch is in flight.
type Spawning struct {
	StartedAt time.Time
}

// Running means the child process (or container) is alive.
type Running struct {
	PID           int
	CorrelationID string
	StartedAt     time.Time
	Progress      float64
}

// Finishing means the task reported a result but the process has not
// exited yet.
type Finishing struct {
	PID       int
	Result    *TaskResult
	StartedAt time.Time
}

// Terminated is the normal terminal state.
type Terminated struct {
	ExitCode     int
	Duration     time.Duration
	Result       *TaskResult
	TerminatedAt time.Time
}

// Failed is the error terminal state: the worker could not be spawned or
// its process could no longer be observed.
type Failed struct {
	Error    string
	FailedAt time.Time
}

func (Planned) Name() string    { return StatePlanned }
func (Spawning) Name() string   { return StateSpawning }
func (Running) Name() string    { return StateRunning }
func (Finishing) Name() string  { return StateFinishing }
func (Terminated) Name() string { return StateTerminated }
func (Failed) Name() string     { return StateFailed }

func (Planned) sealed()    {}
func (Spawning) sealed()   {}
func (Running) sealed()    {}
func (Finishing) sealed()  {}
func (Terminated) sealed() {}
func (Failed) sealed()     {}

// IsActive reports whether the state is Spawning, Running, or Finishing.
func IsActive(s State) bool {
	switch s.(type) {
	case Spawning, Running, Finishing:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is Terminated or Failed.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Terminated, Failed:
		return true
	default:
		return false
	}
}

// PID returns the process ID carried by the state. Only Running and
// Finishing have one.
func PID(s State) (int, bool) {
	switch st := s.(type) {
	case Running:
		return st.PID, true
	case Finishing:
		return st.PID, true
	default:
		return 0, false
	}
}
