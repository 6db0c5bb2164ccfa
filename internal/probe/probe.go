// Package probe provides resource admission checks consulted before a
// worker is spawned. The Prober interface is the seam between the spawner
// and the host: production code uses SystemProbe, tests inject fakes.
package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Requirements describes the resources a prospective worker asks for.
type Requirements struct {
	CPUCores float64 `json:"cpu_cores"`
	MemoryMB int     `json:"memory_mb"`
}

// Topology describes what the host can run workers on.
type Topology struct {
	CPUCores         int    `json:"cpu_cores"`
	TotalMemoryMB    int    `json:"total_memory_mb"`
	ContainerRuntime string `json:"container_runtime,omitempty"`
}

// HasContainerRuntime reports whether a container runtime was detected.
func (t Topology) HasContainerRuntime() bool {
	return t.ContainerRuntime != ""
}

// Prober answers admission and topology queries. Checks are advisory:
// they are consulted once at spawn time and not re-validated afterward.
type Prober interface {
	CanSpawn(ctx context.Context, req Requirements) (bool, error)
	Topology(ctx context.Context) (Topology, error)
}

// containerRuntimes lists runtime binaries in preference order.
var containerRuntimes = []string{"docker", "podman"}

// SystemProbe implements Prober against the local host.
type SystemProbe struct {
	meminfoPath string
}

// NewSystemProbe creates a probe that reads host resources from /proc.
func NewSystemProbe() *SystemProbe {
	return &SystemProbe{meminfoPath: "/proc/meminfo"}
}

// CanSpawn reports whether the host currently has enough headroom for the
// given requirements. Zero-valued requirements always pass.
func (p *SystemProbe) CanSpawn(ctx context.Context, req Requirements) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if req.CPUCores > float64(runtime.NumCPU()) {
		return false, nil
	}

	if req.MemoryMB > 0 {
		availMB, err := p.availableMemoryMB()
		if err != nil {
			return false, fmt.Errorf("read meminfo: %w", err)
		}
		if req.MemoryMB > availMB {
			return false, nil
		}
	}

	return true, nil
}

// Topology reports host CPU/memory capacity and whether a container
// runtime binary is on PATH.
func (p *SystemProbe) Topology(ctx context.Context) (Topology, error) {
	if err := ctx.Err(); err != nil {
		return Topology{}, err
	}

	t := Topology{CPUCores: runtime.NumCPU()}

	totalMB, err := p.memTotalMB()
	if err != nil {
		return Topology{}, fmt.Errorf("read meminfo: %w", err)
	}
	t.TotalMemoryMB = totalMB

	for _, rt := range containerRuntimes {
		if _, err := exec.LookPath(rt); err == nil {
			t.ContainerRuntime = rt
			break
		}
	}

	return t, nil
}

func (p *SystemProbe) availableMemoryMB() (int, error) {
	return p.meminfoField("MemAvailable")
}

func (p *SystemProbe) memTotalMB() (int, error) {
	return p.meminfoField("MemTotal")
}

// meminfoField extracts a kB-denominated field from /proc/meminfo and
// converts it to MB.
func (p *SystemProbe) meminfoField(field string) (int, error) {
	f, err := os.Open(p.meminfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field+":") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed meminfo line %q", line)
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", field, err)
		}
		return kb / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s not found in %s", field, p.meminfoPath)
}
