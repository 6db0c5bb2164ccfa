package main

import (
	"encoding/json"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/tbracken/foundry/internal/api"
	"github.com/tbracken/foundry/internal/config"
	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/probe"
	"github.com/tbracken/foundry/internal/store"
	"github.com/tbracken/foundry/internal/worker"
)

func main() {
	// Children spawned from the self template re-enter this binary with
	// the worker-mode flag set.
	if os.Getenv(worker.EnvWorkerMode) == "true" {
		os.Exit(runWorker())
	}

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load policy: %v", err)
	}
	if policy.MaxWorkers > 0 {
		cfg.MaxWorkers = policy.MaxWorkers
	}

	logger.Info("foundry: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_workers", cfg.MaxWorkers,
		"approval", policy.Approval,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	spawner, err := worker.NewSpawner(policy, probe.NewSystemProbe(), logger)
	if err != nil {
		log.Fatalf("failed to create spawner: %v", err)
	}

	manager := worker.NewManager(spawner, cfg.MaxWorkers, db, logger)

	// Reap terminal workers periodically so the registry stays bounded.
	stopCleanup := make(chan struct{})
	go cleanupLoop(manager, cfg.CleanupInterval, cfg.CleanupMaxAge, stopCleanup)
	defer close(stopCleanup)

	srv := api.NewServer(cfg.ListenAddr, manager, db, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cleanupLoop(mgr *worker.Manager, interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mgr.Cleanup(maxAge)
		}
	}
}

// runWorker executes the task delivered through the environment and
// returns the process exit code.
func runWorker() int {
	logger := config.NewLogger(os.Stderr, config.Load().LogLevel)

	var task model.Task
	if raw := os.Getenv(worker.EnvTask); raw != "" {
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			logger.Error("decode task", "error", err)
			return 1
		}
	}

	logger.Info("worker: starting",
		"worker_id", os.Getenv(worker.EnvWorkerID),
		"task_type", task.TypeName(),
	)

	switch task.TypeName() {
	case model.TaskIdle:
		// Idle workers block until terminated.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return 0
	case model.TaskCommand:
		cmd := exec.Command(task.Command, task.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode()
			}
			logger.Error("run command", "error", err)
			return 1
		}
		return 0
	default:
		// Build-system task kinds are acknowledged and reported back via
		// the exit code; their real implementations live in the toolchain
		// this orchestrator drives.
		logger.Info("worker: task acknowledged", "task_type", task.TypeName())
		return 0
	}
}
