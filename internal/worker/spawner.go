package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tbracken/foundry/internal/config"
	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/probe"
	"github.com/tbracken/foundry/internal/proc"
)

// Environment variables set on every worker.
const (
	EnvWorkerID   = "FOUNDRY_WORKER_ID"
	EnvWorkerMode = "FOUNDRY_WORKER_MODE"
	EnvParentID   = "FOUNDRY_PARENT_ID"
	EnvTask       = "FOUNDRY_TASK"
)

// Spawner creates workers according to policy. It is stateless per call:
// each Spawn either returns a Running worker or an error, never a
// half-spawned record.
type Spawner struct {
	policy  config.Policy
	prober  probe.Prober
	selfExe string
	logger  *slog.Logger

	// Inherited env is resolved once at construction, not per spawn.
	inheritedEnv map[string]string
}

// NewSpawner creates a spawner bound to the given policy and prober.
func NewSpawner(pol config.Policy, prober probe.Prober, logger *slog.Logger) (*Spawner, error) {
	selfExe, err := os.Executable()
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("resolve current executable: %v", err)}
	}

	return &Spawner{
		policy:       pol,
		prober:       prober,
		selfExe:      selfExe,
		logger:       logger,
		inheritedEnv: inheritEnv(pol.InheritPrefixes()),
	}, nil
}

// inheritEnv snapshots the parent environment, keeping only variables
// matching one of the configured prefixes.
func inheritEnv(prefixes []string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(k, prefix) {
				env[k] = v
				break
			}
		}
	}
	return env
}

// Spawn applies policy and admission checks, then launches one worker
// via the deployment strategy the config asks for. On success the
// returned worker is Running; on error no worker exists.
func (s *Spawner) Spawn(ctx context.Context, cfg model.SpawnConfig) (*Worker, error) {
	if s.policy.Approval == config.ApprovalDisabled {
		return nil, ErrSpawnDisabled
	}

	name := cfg.Template.TemplateName()
	if !s.policy.IsTemplateAllowed(name) {
		return nil, &TemplateNotAllowedError{Template: name}
	}

	ok, err := s.prober.CanSpawn(ctx, cfg.Requirements())
	if err != nil {
		return nil, &ResourceError{Err: fmt.Errorf("check resources: %w", err)}
	}
	if !ok {
		return nil, ErrInsufficientResources
	}

	w := New(cfg)

	switch cfg.Deployment {
	case model.DeploymentLocal, model.DeploymentAny, "":
		err = s.spawnProcess(w)
	case model.DeploymentIsolated:
		top, terr := s.prober.Topology(ctx)
		if terr != nil {
			return nil, &ResourceError{Err: fmt.Errorf("probe topology: %w", terr)}
		}
		if top.HasContainerRuntime() {
			err = s.spawnContainer(w, top.ContainerRuntime)
		} else {
			// No runtime on the host; a plain process is the fallback.
			s.logger.Warn("no container runtime found, spawning as process", "worker_id", w.ID)
			err = s.spawnProcess(w)
		}
	case model.DeploymentDistributed:
		return nil, &UnsupportedDeploymentError{
			Deployment: model.DeploymentDistributed,
			Reason:     "cluster scheduling is not implemented; use local or isolated",
		}
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown deployment option %q", cfg.Deployment)}
	}
	if err != nil {
		return nil, err
	}

	pid, _ := w.PID()
	s.logger.Info("worker spawned",
		"worker_id", w.ID,
		"template", name,
		"task_type", cfg.Task.TypeName(),
		"deployment", cfg.Deployment,
		"pid", pid,
	)

	return w, nil
}

// spawnProcess launches the worker as a plain child process.
func (s *Spawner) spawnProcess(w *Worker) error {
	w.toSpawning()

	executable, args, err := s.buildCommand(w.Config)
	if err != nil {
		return err
	}

	env := make(map[string]string, len(s.inheritedEnv)+len(w.Config.Environment)+4)
	for k, v := range s.inheritedEnv {
		env[k] = v
	}
	for k, v := range w.Config.Environment {
		env[k] = v
	}
	env[EnvWorkerID] = w.ID
	env[EnvWorkerMode] = "true"
	if w.ParentID != "" {
		env[EnvParentID] = w.ParentID
	}
	if taskJSON, err := json.Marshal(w.Config.Task); err == nil {
		env[EnvTask] = string(taskJSON)
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = flattenEnv(env)
	if w.Config.WorkingDir != "" {
		cmd.Dir = w.Config.WorkingDir
	}

	handle, err := proc.Start(cmd)
	if err != nil {
		return &ProcessError{Err: err}
	}

	w.toRunning(handle, model.NewCorrelationID())
	return nil
}

// spawnContainer launches the worker inside a container using the
// detected runtime binary.
func (s *Spawner) spawnContainer(w *Worker, runtimeBin string) error {
	w.toSpawning()

	handle, err := proc.Start(exec.Command(runtimeBin, s.containerArgs(w)...))
	if err != nil {
		return &ProcessError{Err: fmt.Errorf("spawn container: %w", err)}
	}

	w.toRunning(handle, model.NewCorrelationID())
	return nil
}

// containerArgs builds the runtime invocation for a container worker.
// Like taskArgs it only produces data and never executes anything.
func (s *Spawner) containerArgs(w *Worker) []string {
	var container *model.ContainerConfig
	if w.Config.Template.Kind == model.TemplateCustom && w.Config.Template.App != nil {
		container = w.Config.Template.App.Container
	}

	image := container.ImageRef()
	if image == model.DefaultImage && s.policy.ContainerImage != "" {
		image = s.policy.ContainerImage
	}

	args := []string{"run", "--rm"}

	if cpus := w.Config.Resources.MaxCPUCores; cpus != nil {
		args = append(args, fmt.Sprintf("--cpus=%g", *cpus))
	}
	if mem := w.Config.Resources.MaxMemoryMB; mem != nil {
		args = append(args, fmt.Sprintf("--memory=%dm", *mem))
	}

	for k, v := range w.Config.Environment {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, "-e", EnvWorkerID+"="+w.ID)
	args = append(args, "-e", EnvWorkerMode+"=true")
	if w.ParentID != "" {
		args = append(args, "-e", EnvParentID+"="+w.ParentID)
	}
	if taskJSON, err := json.Marshal(w.Config.Task); err == nil {
		args = append(args, "-e", EnvTask+"="+string(taskJSON))
	}

	if container != nil {
		for _, vol := range container.Volumes {
			mount := vol.HostPath + ":" + vol.ContainerPath
			if vol.ReadOnly {
				mount += ":ro"
			}
			args = append(args, "-v", mount)
		}
		for _, port := range container.Ports {
			args = append(args, "-p", fmt.Sprintf("%d:%d", port.HostPort, port.ContainerPort))
		}
	}

	args = append(args, image)
	return append(args, taskArgs(w.Config.Task)...)
}

// buildCommand resolves the executable and argv for a spawn config.
func (s *Spawner) buildCommand(cfg model.SpawnConfig) (string, []string, error) {
	switch cfg.Template.Kind {
	case model.TemplateSelf, "":
		return s.selfExe, taskArgs(cfg.Task), nil
	case model.TemplateNamed:
		args := []string{"--template", cfg.Template.Name}
		args = append(args, taskArgs(cfg.Task)...)
		return s.selfExe, args, nil
	case model.TemplateCustom:
		app := cfg.Template.App
		if app == nil || app.Executable == "" {
			return "", nil, &ConfigurationError{Reason: "custom template has no executable"}
		}
		args := append([]string{}, app.Args...)
		args = append(args, taskArgs(cfg.Task)...)
		return app.Executable, args, nil
	default:
		return "", nil, &ConfigurationError{Reason: fmt.Sprintf("unknown template kind %q", cfg.Template.Kind)}
	}
}

// taskArgs maps a task to its command line. It is a pure function: it
// only produces data and never executes anything.
func taskArgs(t model.Task) []string {
	switch t.Kind {
	case model.TaskIdle, "":
		return []string{"--idle"}
	case model.TaskTest:
		args := []string{"test", "-p", t.Package}
		if t.Filter != "" {
			args = append(args, "--", t.Filter)
		}
		return args
	case model.TaskBuild:
		args := []string{"build"}
		if t.Release {
			args = append(args, "--release")
		}
		return append(args, "--target", t.Target)
	case model.TaskOptimize:
		return []string{
			"optimize",
			"--target", t.Target,
			"--iterations", strconv.Itoa(t.Iterations),
		}
	case model.TaskAnalyze:
		return []string{
			"analyze",
			"--path", t.Path,
			"--type", strings.ToLower(t.AnalysisType),
		}
	case model.TaskCommand:
		args := []string{"exec", "--", t.Command}
		return append(args, t.Args...)
	case model.TaskCustom:
		return []string{"custom", "--data", string(t.Data)}
	default:
		return []string{"custom", "--kind", t.Kind}
	}
}

// flattenEnv converts an env map to the KEY=VALUE slice exec.Cmd expects.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
