package model

import "github.com/tbracken/foundry/internal/probe"

// Deployment option constants.
const (
	DeploymentAny         = "any"
	DeploymentLocal       = "local"
	DeploymentIsolated    = "isolated"
	DeploymentDistributed = "distributed"
)

// Template kind constants.
const (
	TemplateSelf   = "self"
	TemplateNamed  = "named"
	TemplateCustom = "custom"
)

// DefaultImage is the container image used when a custom template does
// not specify one.
const DefaultImage = "foundry:latest"

// VolumeMount maps a host path into a container.
type VolumeMount struct {
	HostPath      string `json:"host_path" yaml:"host_path"`
	ContainerPath string `json:"container_path" yaml:"container_path"`
	ReadOnly      bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int `json:"host_port" yaml:"host_port"`
	ContainerPort int `json:"container_port" yaml:"container_port"`
}

// ContainerConfig holds the container-specific parts of a custom template.
type ContainerConfig struct {
	Image   string        `json:"image,omitempty" yaml:"image,omitempty"`
	Volumes []VolumeMount `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Ports   []PortMapping `json:"ports,omitempty" yaml:"ports,omitempty"`
}

// ImageRef returns the image reference, falling back to DefaultImage.
func (c *ContainerConfig) ImageRef() string {
	if c == nil || c.Image == "" {
		return DefaultImage
	}
	return c.Image
}

// AppTemplate describes a custom executable to spawn workers from.
type AppTemplate struct {
	Name       string           `json:"name" yaml:"name"`
	Executable string           `json:"executable" yaml:"executable"`
	Args       []string         `json:"args,omitempty" yaml:"args,omitempty"`
	Container  *ContainerConfig `json:"container,omitempty" yaml:"container,omitempty"`
}

// SpawnTemplate selects what executable a worker runs: the current binary
// (self), a named template resolved by the child, or a custom app.
type SpawnTemplate struct {
	Kind string       `json:"kind"`
	Name string       `json:"name,omitempty"`
	App  *AppTemplate `json:"app,omitempty"`
}

// SelfTemplate relaunches the current executable in worker mode.
func SelfTemplate() SpawnTemplate {
	return SpawnTemplate{Kind: TemplateSelf}
}

// NamedTemplate refers to a template by name.
func NamedTemplate(name string) SpawnTemplate {
	return SpawnTemplate{Kind: TemplateNamed, Name: name}
}

// CustomTemplate wraps a custom app definition.
func CustomTemplate(app AppTemplate) SpawnTemplate {
	return SpawnTemplate{Kind: TemplateCustom, App: &app}
}

// TemplateName returns the name used for allowlist checks and display.
func (t SpawnTemplate) TemplateName() string {
	switch t.Kind {
	case TemplateNamed:
		return t.Name
	case TemplateCustom:
		if t.App != nil {
			return t.App.Name
		}
		return TemplateCustom
	default:
		return TemplateSelf
	}
}

// ResourceLimits bounds what a worker may consume. Nil means unlimited.
type ResourceLimits struct {
	MaxCPUCores *float64 `json:"max_cpu_cores,omitempty" yaml:"max_cpu_cores,omitempty"`
	MaxMemoryMB *int     `json:"max_memory_mb,omitempty" yaml:"max_memory_mb,omitempty"`
}

// SpawnConfig describes what to spawn and how. It is consumed read-only
// by the spawner.
type SpawnConfig struct {
	Template    SpawnTemplate     `json:"template"`
	Task        Task              `json:"task"`
	Resources   ResourceLimits    `json:"resources,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Deployment  string            `json:"deployment,omitempty"`
	Name        string            `json:"name,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

// NewSpawnConfig returns a config for the given task with self-relaunch
// template and any-deployment defaults.
func NewSpawnConfig(task Task) SpawnConfig {
	return SpawnConfig{
		Template:   SelfTemplate(),
		Task:       task,
		Deployment: DeploymentAny,
	}
}

// WithName sets the display name.
func (c SpawnConfig) WithName(name string) SpawnConfig {
	c.Name = name
	return c
}

// WithTag appends a tag.
func (c SpawnConfig) WithTag(tag string) SpawnConfig {
	c.Tags = append(c.Tags, tag)
	return c
}

// WithTemplate sets the spawn template.
func (c SpawnConfig) WithTemplate(t SpawnTemplate) SpawnConfig {
	c.Template = t
	return c
}

// WithDeployment sets the deployment option.
func (c SpawnConfig) WithDeployment(d string) SpawnConfig {
	c.Deployment = d
	return c
}

// Requirements derives the admission-check requirements from the
// configured resource limits.
func (c SpawnConfig) Requirements() probe.Requirements {
	var req probe.Requirements
	if c.Resources.MaxCPUCores != nil {
		req.CPUCores = *c.Resources.MaxCPUCores
	}
	if c.Resources.MaxMemoryMB != nil {
		req.MemoryMB = *c.Resources.MaxMemoryMB
	}
	return req
}
