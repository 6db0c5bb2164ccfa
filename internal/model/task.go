package model

import "encoding/json"

// Task kind constants.
const (
	TaskIdle     = "idle"
	TaskTest     = "test"
	TaskBuild    = "build"
	TaskOptimize = "optimize"
	TaskAnalyze  = "analyze"
	TaskCommand  = "command"
	TaskCustom   = "custom"
)

// Task describes a unit of work for a worker. It is pure data: the
// translation to a command line happens in the spawner and never here.
type Task struct {
	Kind string `json:"kind"`

	// Test fields.
	Package string `json:"package,omitempty"`
	Filter  string `json:"filter,omitempty"`

	// Build and optimize fields.
	Target     string `json:"target,omitempty"`
	Release    bool   `json:"release,omitempty"`
	Iterations int    `json:"iterations,omitempty"`

	// Analyze fields.
	Path         string `json:"path,omitempty"`
	AnalysisType string `json:"analysis_type,omitempty"`

	// Command fields.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Custom payload, passed through opaquely.
	Data json.RawMessage `json:"data,omitempty"`
}

// IdleTask returns a task that does nothing until terminated.
func IdleTask() Task {
	return Task{Kind: TaskIdle}
}

// TestTask returns a task that runs the test suite for a package.
func TestTask(pkg string) Task {
	return Task{Kind: TaskTest, Package: pkg}
}

// CommandTask returns a task that executes an arbitrary command.
func CommandTask(command string, args ...string) Task {
	return Task{Kind: TaskCommand, Command: command, Args: args}
}

// TypeName returns the task kind for display, defaulting to idle.
func (t Task) TypeName() string {
	if t.Kind == "" {
		return TaskIdle
	}
	return t.Kind
}
