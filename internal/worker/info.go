package worker

// Info is the read-only projection of a worker exposed outside the
// manager. Raw process handles never escape the registry.
type Info struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	State      string   `json:"state"`
	PID        int      `json:"pid,omitempty"`
	TaskType   string   `json:"task_type"`
	Progress   float64  `json:"progress"`
	AgeSecs    int64    `json:"age_secs"`
	Tags       []string `json:"tags,omitempty"`
	IsTerminal bool     `json:"is_terminal"`
}

func infoFromWorker(w *Worker) Info {
	pid, _ := w.PID()
	return Info{
		ID:         w.ID,
		Name:       w.Name,
		State:      w.state.Name(),
		PID:        pid,
		TaskType:   w.Config.Task.TypeName(),
		Progress:   w.Progress(),
		AgeSecs:    int64(w.Age().Seconds()),
		Tags:       w.Tags,
		IsTerminal: w.IsTerminal(),
	}
}
