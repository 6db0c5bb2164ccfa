package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Spawn approval modes.
const (
	ApprovalDisabled  = "disabled"
	ApprovalAutomatic = "automatic"
	ApprovalManual    = "manual"
)

// defaultEnvPrefixes lists the environment variable prefixes workers
// inherit from the parent process.
var defaultEnvPrefixes = []string{
	"PATH", "HOME", "USER", "LANG", "TMPDIR",
	"GO", "FOUNDRY_", "AWS_", "ANTHROPIC_", "OPENAI_",
}

// Policy governs whether and what the spawner is allowed to spawn.
// It is loaded once at startup and treated as immutable afterward.
type Policy struct {
	// Approval controls spawning globally: disabled rejects everything,
	// automatic admits anything passing the other checks.
	Approval string `yaml:"approval"`

	// AllowedTemplates, when non-empty, is an exclusive allowlist.
	AllowedTemplates []string `yaml:"allowed_templates"`

	// BannedTemplates are rejected even if allowlisted.
	BannedTemplates []string `yaml:"banned_templates"`

	// MaxWorkers overrides the default concurrent worker cap when > 0.
	MaxWorkers int `yaml:"max_workers"`

	// ContainerImage overrides the default image for container workers.
	ContainerImage string `yaml:"container_image"`

	// EnvPrefixes replaces the default inheritance prefix list when set.
	EnvPrefixes []string `yaml:"env_prefixes"`
}

// DefaultPolicy returns a policy that admits everything.
func DefaultPolicy() Policy {
	return Policy{Approval: ApprovalAutomatic}
}

// LoadPolicy reads a YAML policy file. An empty path yields the default
// policy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	pol := DefaultPolicy()
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if pol.Approval == "" {
		pol.Approval = ApprovalAutomatic
	}
	return pol, nil
}

// IsTemplateAllowed reports whether a template name passes the ban list
// and, when present, the allowlist.
func (p Policy) IsTemplateAllowed(name string) bool {
	if slices.Contains(p.BannedTemplates, name) {
		return false
	}
	if len(p.AllowedTemplates) > 0 {
		return slices.Contains(p.AllowedTemplates, name)
	}
	return true
}

// InheritPrefixes returns the env-inheritance prefix list for this policy.
func (p Policy) InheritPrefixes() []string {
	if len(p.EnvPrefixes) > 0 {
		return p.EnvPrefixes
	}
	return defaultEnvPrefixes
}
