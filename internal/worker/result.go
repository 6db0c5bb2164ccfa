package worker

import (
	"encoding/json"
	"time"
)

// TaskResult is the outcome of a completed task.
type TaskResult struct {
	Success  bool            `json:"success"`
	ExitCode int             `json:"exit_code"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	Data     json.RawMessage `json:"data,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// NewResult builds a result from an observed exit; success mirrors a
// zero exit code.
func NewResult(exitCode int, stdout, stderr string, duration time.Duration) TaskResult {
	return TaskResult{
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: duration,
	}
}

// FailureResult builds a result for a task that never produced an exit
// code of its own.
func FailureResult(errMsg string, duration time.Duration) TaskResult {
	return TaskResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   errMsg,
		Duration: duration,
	}
}

// WithData attaches a structured payload to the result.
func (r TaskResult) WithData(data json.RawMessage) TaskResult {
	r.Data = data
	return r
}
