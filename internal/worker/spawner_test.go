package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/tbracken/foundry/internal/config"
	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/probe"
)

// fakeProber is a configurable Prober for spawner tests.
type fakeProber struct {
	canSpawn bool
	err      error
	topology probe.Topology
	topoErr  error
}

func (f *fakeProber) CanSpawn(_ context.Context, _ probe.Requirements) (bool, error) {
	return f.canSpawn, f.err
}

func (f *fakeProber) Topology(_ context.Context) (probe.Topology, error) {
	return f.topology, f.topoErr
}

func admitAll() *fakeProber {
	return &fakeProber{canSpawn: true}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestSpawner(t *testing.T, pol config.Policy, p probe.Prober) *Spawner {
	t.Helper()
	s, err := NewSpawner(pol, p, discardLogger())
	if err != nil {
		t.Fatalf("NewSpawner: %v", err)
	}
	return s
}

// shellConfig builds a config that runs sh with the given script, so
// tests exercise the real process path without relaunching the test
// binary.
func shellConfig(script string) model.SpawnConfig {
	return model.NewSpawnConfig(model.IdleTask()).
		WithTemplate(model.CustomTemplate(model.AppTemplate{
			Name:       "sh",
			Executable: "/bin/sh",
			Args:       []string{"-c", script},
		})).
		WithDeployment(model.DeploymentLocal)
}

func terminateWorker(t *testing.T, w *Worker) {
	t.Helper()
	if w.handle != nil {
		_ = w.handle.Kill()
	}
}

func TestSpawnDisabledByPolicy(t *testing.T) {
	pol := config.DefaultPolicy()
	pol.Approval = config.ApprovalDisabled
	s := newTestSpawner(t, pol, admitAll())

	_, err := s.Spawn(context.Background(), shellConfig("exit 0"))
	if !errors.Is(err, ErrSpawnDisabled) {
		t.Fatalf("err = %v, want ErrSpawnDisabled", err)
	}
}

func TestSpawnTemplateNotAllowed(t *testing.T) {
	pol := config.DefaultPolicy()
	pol.BannedTemplates = []string{"dangerous"}
	s := newTestSpawner(t, pol, admitAll())

	cfg := model.NewSpawnConfig(model.IdleTask()).
		WithTemplate(model.NamedTemplate("dangerous"))

	_, err := s.Spawn(context.Background(), cfg)
	var templateErr *TemplateNotAllowedError
	if !errors.As(err, &templateErr) {
		t.Fatalf("err = %v, want TemplateNotAllowedError", err)
	}
	if templateErr.Template != "dangerous" {
		t.Errorf("template = %q, want dangerous", templateErr.Template)
	}
}

func TestSpawnInsufficientResources(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), &fakeProber{canSpawn: false})

	_, err := s.Spawn(context.Background(), shellConfig("exit 0"))
	if !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("err = %v, want ErrInsufficientResources", err)
	}
}

func TestSpawnProberError(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), &fakeProber{err: errors.New("probe broke")})

	_, err := s.Spawn(context.Background(), shellConfig("exit 0"))
	var resourceErr *ResourceError
	if !errors.As(err, &resourceErr) {
		t.Fatalf("err = %v, want ResourceError", err)
	}
}

func TestSpawnDistributedUnsupported(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), admitAll())

	cfg := shellConfig("exit 0").WithDeployment(model.DeploymentDistributed)
	_, err := s.Spawn(context.Background(), cfg)
	var deploymentErr *UnsupportedDeploymentError
	if !errors.As(err, &deploymentErr) {
		t.Fatalf("err = %v, want UnsupportedDeploymentError", err)
	}
}

func TestSpawnProcessRuns(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), admitAll())

	w, err := s.Spawn(context.Background(), shellConfig("sleep 60"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer terminateWorker(t, w)

	st, ok := w.State().(Running)
	if !ok {
		t.Fatalf("state = %q, want running", w.State().Name())
	}
	if st.PID <= 0 {
		t.Errorf("pid = %d, want > 0", st.PID)
	}
	if st.CorrelationID == "" {
		t.Error("running worker should carry a correlation id")
	}
	if w.handle == nil {
		t.Error("running worker should own a process handle")
	}
}

func TestSpawnIsolatedFallsBackToProcess(t *testing.T) {
	// Topology without a container runtime: isolated must silently fall
	// back to a plain process.
	prober := &fakeProber{canSpawn: true, topology: probe.Topology{CPUCores: 4}}
	s := newTestSpawner(t, config.DefaultPolicy(), prober)

	cfg := shellConfig("sleep 60").WithDeployment(model.DeploymentIsolated)
	w, err := s.Spawn(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer terminateWorker(t, w)

	if _, ok := w.State().(Running); !ok {
		t.Fatalf("state = %q, want running", w.State().Name())
	}
}

func TestSpawnProcessFailureLeavesError(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), admitAll())

	cfg := model.NewSpawnConfig(model.IdleTask()).
		WithTemplate(model.CustomTemplate(model.AppTemplate{
			Name:       "missing",
			Executable: "/nonexistent/binary",
		})).
		WithDeployment(model.DeploymentLocal)

	_, err := s.Spawn(context.Background(), cfg)
	var processErr *ProcessError
	if !errors.As(err, &processErr) {
		t.Fatalf("err = %v, want ProcessError", err)
	}
}

// hasFlagValue reports whether args contains the flag immediately
// followed by the value.
func hasFlagValue(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestContainerArgs(t *testing.T) {
	cpus := 1.5
	mem := 512

	containerCfg := func(image string) model.SpawnConfig {
		cfg := model.NewSpawnConfig(model.IdleTask()).
			WithTemplate(model.CustomTemplate(model.AppTemplate{
				Name:       "job",
				Executable: "/usr/bin/job",
				Container: &model.ContainerConfig{
					Image: image,
					Volumes: []model.VolumeMount{
						{HostPath: "/data", ContainerPath: "/mnt/data", ReadOnly: true},
						{HostPath: "/scratch", ContainerPath: "/mnt/scratch"},
					},
					Ports: []model.PortMapping{{HostPort: 8080, ContainerPort: 80}},
				},
			})).
			WithDeployment(model.DeploymentIsolated)
		cfg.Resources = model.ResourceLimits{MaxCPUCores: &cpus, MaxMemoryMB: &mem}
		cfg.Environment = map[string]string{"JOB_ENV": "prod"}
		return cfg
	}

	t.Run("full invocation shape", func(t *testing.T) {
		s := newTestSpawner(t, config.DefaultPolicy(), admitAll())
		w := New(containerCfg("example/job:v1"))

		args := s.containerArgs(w)

		if args[0] != "run" || args[1] != "--rm" {
			t.Fatalf("args = %v, want run --rm prefix", args)
		}
		if !contains(args, "--cpus=1.5") {
			t.Errorf("args %v missing --cpus=1.5", args)
		}
		if !contains(args, "--memory=512m") {
			t.Errorf("args %v missing --memory=512m", args)
		}
		if !hasFlagValue(args, "-e", "JOB_ENV=prod") {
			t.Errorf("args %v missing config env", args)
		}
		if !hasFlagValue(args, "-e", EnvWorkerID+"="+w.ID) {
			t.Errorf("args %v missing worker id env", args)
		}
		if !hasFlagValue(args, "-e", EnvWorkerMode+"=true") {
			t.Errorf("args %v missing worker mode env", args)
		}
		if !hasFlagValue(args, "-v", "/data:/mnt/data:ro") {
			t.Errorf("args %v missing read-only volume", args)
		}
		if !hasFlagValue(args, "-v", "/scratch:/mnt/scratch") {
			t.Errorf("args %v missing read-write volume", args)
		}
		if !hasFlagValue(args, "-p", "8080:80") {
			t.Errorf("args %v missing port mapping", args)
		}

		// Image comes right before the task argv.
		if args[len(args)-2] != "example/job:v1" || args[len(args)-1] != "--idle" {
			t.Errorf("args tail = %v, want image then argv", args[len(args)-2:])
		}
	})

	t.Run("parent id env", func(t *testing.T) {
		s := newTestSpawner(t, config.DefaultPolicy(), admitAll())
		parent := New(containerCfg("example/job:v1"))
		w := NewChild(containerCfg("example/job:v1"), parent.ID)

		args := s.containerArgs(w)
		if !hasFlagValue(args, "-e", EnvParentID+"="+parent.ID) {
			t.Errorf("args %v missing parent id env", args)
		}
	})

	t.Run("policy image replaces default", func(t *testing.T) {
		pol := config.DefaultPolicy()
		pol.ContainerImage = "registry.example.com/foundry:prod"
		s := newTestSpawner(t, pol, admitAll())
		w := New(containerCfg(""))

		args := s.containerArgs(w)
		if !contains(args, "registry.example.com/foundry:prod") {
			t.Errorf("args %v should use the policy image", args)
		}
		if contains(args, model.DefaultImage) {
			t.Errorf("args %v should not carry the default image", args)
		}
	})

	t.Run("explicit image wins over policy", func(t *testing.T) {
		pol := config.DefaultPolicy()
		pol.ContainerImage = "registry.example.com/foundry:prod"
		s := newTestSpawner(t, pol, admitAll())
		w := New(containerCfg("example/job:v1"))

		args := s.containerArgs(w)
		if !contains(args, "example/job:v1") {
			t.Errorf("args %v should keep the template image", args)
		}
	})

	t.Run("no limits or container config", func(t *testing.T) {
		s := newTestSpawner(t, config.DefaultPolicy(), admitAll())
		w := New(model.NewSpawnConfig(model.IdleTask()))

		args := s.containerArgs(w)
		for _, a := range args {
			if a == "-v" || a == "-p" {
				t.Errorf("args %v should carry no mounts or ports", args)
			}
		}
		if !contains(args, model.DefaultImage) {
			t.Errorf("args %v should fall back to the default image", args)
		}
	})
}

func TestBuildCommand(t *testing.T) {
	s := newTestSpawner(t, config.DefaultPolicy(), admitAll())

	t.Run("self", func(t *testing.T) {
		exe, args, err := s.buildCommand(model.NewSpawnConfig(model.IdleTask()))
		if err != nil {
			t.Fatalf("buildCommand: %v", err)
		}
		if exe != s.selfExe {
			t.Errorf("executable = %q, want self", exe)
		}
		if len(args) != 1 || args[0] != "--idle" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("named adds indirection flag", func(t *testing.T) {
		cfg := model.NewSpawnConfig(model.TestTask("core")).
			WithTemplate(model.NamedTemplate("builder"))
		_, args, err := s.buildCommand(cfg)
		if err != nil {
			t.Fatalf("buildCommand: %v", err)
		}
		if args[0] != "--template" || args[1] != "builder" {
			t.Errorf("args = %v, want --template builder prefix", args)
		}
	})

	t.Run("custom without executable", func(t *testing.T) {
		cfg := model.NewSpawnConfig(model.IdleTask()).
			WithTemplate(model.CustomTemplate(model.AppTemplate{Name: "x"}))
		_, _, err := s.buildCommand(cfg)
		var configErr *ConfigurationError
		if !errors.As(err, &configErr) {
			t.Fatalf("err = %v, want ConfigurationError", err)
		}
	})
}
