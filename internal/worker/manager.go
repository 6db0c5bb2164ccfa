package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/store"
)

// DefaultWaitTimeout bounds Wait when no explicit timeout is given.
const DefaultWaitTimeout = time.Hour

// pollInterval is the sleep between status checks in the wait loop.
// There is no push-based exit notification: completion is detected by
// polling the process handle.
const pollInterval = 100 * time.Millisecond

// Manager owns the registry of all workers. Reads take a shared lock and
// see consistent snapshots; all mutations are serialized by the write lock.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*Worker

	spawner    *Spawner
	maxWorkers int
	history    store.Store
	logger     *slog.Logger
}

// NewManager creates a manager. history may be nil to disable the audit
// trail; the in-memory registry is always the source of truth.
func NewManager(spawner *Spawner, maxWorkers int, history store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		workers:    make(map[string]*Worker),
		spawner:    spawner,
		maxWorkers: maxWorkers,
		history:    history,
		logger:     logger,
	}
}

// Spawn admits, spawns, and registers a new worker, returning its ID.
// On any error nothing is registered.
func (m *Manager) Spawn(ctx context.Context, cfg model.SpawnConfig) (string, error) {
	if m.ActiveCount() >= m.maxWorkers {
		spawnsTotal.WithLabelValues("limit_reached").Inc()
		return "", &LimitReachedError{Limit: m.maxWorkers}
	}

	w, err := m.spawner.Spawn(ctx, cfg)
	if err != nil {
		spawnsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	m.mu.Lock()
	m.workers[w.ID] = w
	m.syncActiveGauge()
	rec := m.spawnRecord(w)
	m.mu.Unlock()

	spawnsTotal.WithLabelValues("ok").Inc()
	m.recordSpawn(rec)

	return w.ID, nil
}

// Get returns the projection of one worker.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return Info{}, false
	}
	return infoFromWorker(w), true
}

// List returns projections of all registered workers.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.workers))
	for _, w := range m.workers {
		infos = append(infos, infoFromWorker(w))
	}
	return infos
}

// Active returns projections of workers in an active state.
func (m *Manager) Active() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []Info
	for _, w := range m.workers {
		if w.IsActive() {
			infos = append(infos, infoFromWorker(w))
		}
	}
	return infos
}

// ActiveCount counts workers in an active state.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, w := range m.workers {
		if w.IsActive() {
			n++
		}
	}
	return n
}

// Terminate stops a worker. It is idempotent: terminating an already
// terminal worker succeeds without touching it. Kill failures are
// swallowed; termination is best effort.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if w.IsTerminal() {
		return nil
	}

	m.killLocked(w)
	return nil
}

// TerminateAll stops every non-terminal worker and returns their IDs.
func (m *Manager) TerminateAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terminated []string
	for id, w := range m.workers {
		if !w.IsTerminal() {
			m.killLocked(w)
			terminated = append(terminated, id)
		}
	}
	return terminated
}

// killLocked kills the process if one exists and transitions the worker
// to Terminated with a sentinel exit code and no result.
func (m *Manager) killLocked(w *Worker) {
	if w.handle != nil {
		if err := w.handle.Kill(); err != nil {
			m.logger.Debug("kill worker process", "worker_id", w.ID, "error", err)
		}
	}
	w.toTerminated(-1, nil)
	m.recordTerminal(w)
	m.syncActiveGauge()
}

// Wait blocks until the worker completes, with the default timeout.
func (m *Manager) Wait(ctx context.Context, id string) (TaskResult, error) {
	return m.WaitTimeout(ctx, id, DefaultWaitTimeout)
}

// WaitTimeout blocks until the worker reaches a terminal state, polling
// the process in between. On timeout it returns a TimeoutError and
// leaves the worker untouched; callers that want it stopped must call
// Terminate themselves.
func (m *Manager) WaitTimeout(ctx context.Context, id string, timeout time.Duration) (TaskResult, error) {
	start := time.Now()

	for {
		if time.Since(start) > timeout {
			return TaskResult{}, &TimeoutError{Timeout: timeout}
		}

		res, done, err := m.terminalResult(id)
		if err != nil {
			return TaskResult{}, err
		}
		if done {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return TaskResult{}, ctx.Err()
		case <-time.After(pollInterval):
		}

		if err := m.CheckProcessStatus(id); err != nil {
			return TaskResult{}, err
		}
	}
}

// terminalResult inspects the worker state once under a read lock.
func (m *Manager) terminalResult(id string) (TaskResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[id]
	if !ok {
		return TaskResult{}, false, &NotFoundError{ID: id}
	}

	switch st := w.state.(type) {
	case Terminated:
		if st.Result == nil {
			return TaskResult{}, false, ErrNoResult
		}
		return *st.Result, true, nil
	case Failed:
		return TaskResult{}, false, &FailedError{Reason: st.Error}
	default:
		return TaskResult{}, false, nil
	}
}

// CheckProcessStatus probes the worker's process without blocking. An
// observed exit synthesizes a TaskResult from the captured output and
// transitions the worker to Terminated; a probe failure transitions it
// to Failed rather than surfacing to the caller that happened to poll.
func (m *Manager) CheckProcessStatus(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if w.handle == nil {
		return nil
	}

	status, exited := w.handle.Poll()
	if !exited {
		return nil
	}

	if status.Err != nil {
		m.logger.Warn("process check failed", "worker_id", w.ID, "error", status.Err)
		w.toFailed("process check failed: " + status.Err.Error())
	} else {
		result := NewResult(status.ExitCode, status.Stdout, status.Stderr, w.Age())
		w.toTerminated(status.ExitCode, &result)
	}
	m.recordTerminal(w)
	m.syncActiveGauge()

	return nil
}

// Cleanup removes workers that are both terminal and older than maxAge,
// returning how many were removed. Nothing else ever deletes registry
// entries.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, w := range m.workers {
		if w.IsTerminal() && w.Age() > maxAge {
			delete(m.workers, id)
			removed++
		}
	}
	return removed
}

// UpdateProgress forwards a progress report to the worker.
func (m *Manager) UpdateProgress(id string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	w.UpdateProgress(progress)
	return nil
}

// syncActiveGauge refreshes the active-workers metric. Callers hold the
// write lock.
func (m *Manager) syncActiveGauge() {
	workersActive.Set(float64(m.activeCountLocked()))
}

// spawnRecord snapshots the registration row while the caller holds the
// write lock. The worker state may change the moment the lock is
// released, so nothing here can be read later.
func (m *Manager) spawnRecord(w *Worker) *store.WorkerRecord {
	if m.history == nil {
		return nil
	}

	rec := &store.WorkerRecord{
		ID:         w.ID,
		Name:       w.Name,
		State:      w.state.Name(),
		TaskType:   w.Config.Task.TypeName(),
		Deployment: w.Config.Deployment,
		ParentID:   w.ParentID,
		Tags:       w.Tags,
		CreatedAt:  w.CreatedAt.UTC(),
	}
	if pid, ok := w.PID(); ok {
		rec.PID = pid
	}
	if st, ok := w.state.(Running); ok {
		rec.CorrelationID = st.CorrelationID
	}
	return rec
}

// recordSpawn writes a snapshotted registration row to the history
// store. The SQL insert deliberately happens outside the registry lock.
func (m *Manager) recordSpawn(rec *store.WorkerRecord) {
	if rec == nil {
		return
	}
	if err := m.history.RecordSpawn(context.Background(), rec); err != nil {
		m.logger.Error("record spawn", "worker_id", rec.ID, "error", err)
	}
}

// recordTerminal updates the history row after a terminal transition.
func (m *Manager) recordTerminal(w *Worker) {
	if m.history == nil {
		return
	}

	var (
		exitCode *int
		errMsg   string
		duration time.Duration
	)
	switch st := w.state.(type) {
	case Terminated:
		code := st.ExitCode
		exitCode = &code
		duration = st.Duration
	case Failed:
		errMsg = st.Error
		duration = w.Age()
	default:
		return
	}

	err := m.history.RecordTerminal(
		context.Background(), w.ID, w.state.Name(), exitCode, errMsg, duration.Milliseconds(),
	)
	if err != nil {
		m.logger.Error("record terminal state", "worker_id", w.ID, "error", err)
	}
}
