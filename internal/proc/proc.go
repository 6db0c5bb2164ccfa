// Package proc wraps a child process behind a handle that supports
// non-blocking status polling. The standard library only offers a
// blocking Wait, so the handle reaps the process from a dedicated
// goroutine and callers poll the recorded outcome.
package proc

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
)

// Status is the observed outcome of an exited process.
type Status struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Err is set when reaping failed for a reason other than a non-zero
	// exit, e.g. an I/O error on the pipes.
	Err error
}

// Handle owns a running child process. A Handle is created by Start and
// belongs to exactly one worker; it must not be shared.
type Handle struct {
	cmd *exec.Cmd
	pid int

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   bool
	status Status
}

// Start launches the command with stdin disconnected and stdout/stderr
// captured, then reaps it in the background.
func Start(cmd *exec.Cmd) (*Handle, error) {
	h := &Handle{cmd: cmd}

	cmd.Stdin = nil
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	h.pid = cmd.Process.Pid

	go h.reap()

	return h, nil
}

// reap blocks on the process exit and records the outcome. Wait also
// flushes the output buffers, so they are complete once done is set.
func (h *Handle) reap() {
	err := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.done = true
	h.status.Stdout = h.stdout.String()
	h.status.Stderr = h.stderr.String()

	switch e := err.(type) {
	case nil:
		h.status.ExitCode = h.cmd.ProcessState.ExitCode()
	case *exec.ExitError:
		h.status.ExitCode = e.ExitCode()
	default:
		h.status.ExitCode = -1
		h.status.Err = err
	}
}

// PID returns the OS process ID.
func (h *Handle) PID() int {
	return h.pid
}

// Poll reports whether the process has exited and, if so, its status.
// It never blocks.
func (h *Handle) Poll() (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		return Status{}, false
	}
	return h.status, true
}

// Kill forcibly terminates the process. Killing an already-exited
// process returns an error which callers are expected to ignore.
func (h *Handle) Kill() error {
	return h.cmd.Process.Kill()
}
