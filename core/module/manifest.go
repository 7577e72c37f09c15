// Package module implements the module system: signed packages, manifest
// validation, compiled-in definitions resolved through factories, and the
// manager that drives install, activate, deactivate and uninstall.
package module

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
)

// Manifest describes a module package: identity, version bounds against the
// core, requested permissions and an optional workflow graph.
type Manifest struct {
	Name           string            `yaml:"name"`
	Version        string            `yaml:"version"`
	Description    string            `yaml:"description,omitempty"`
	MinCoreVersion string            `yaml:"minCoreVersion"`
	MaxCoreVersion string            `yaml:"maxCoreVersion,omitempty"`
	Permissions    []string          `yaml:"permissions"`
	Graph          *graph.Definition `yaml:"graph,omitempty"`
	Checksum       string            `yaml:"checksum,omitempty"`
	Signature      string            `yaml:"signature,omitempty"`
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields and version syntax.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest: version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest: invalid version %q: %w", m.Version, err)
	}
	if m.MinCoreVersion == "" {
		return fmt.Errorf("manifest: minCoreVersion is required")
	}
	if _, err := semver.NewVersion(m.MinCoreVersion); err != nil {
		return fmt.Errorf("manifest: invalid minCoreVersion %q: %w", m.MinCoreVersion, err)
	}
	if m.MaxCoreVersion != "" {
		if _, err := semver.NewVersion(m.MaxCoreVersion); err != nil {
			return fmt.Errorf("manifest: invalid maxCoreVersion %q: %w", m.MaxCoreVersion, err)
		}
	}
	if m.Graph != nil {
		if err := m.Graph.Validate(); err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
	}
	return nil
}

// RequestedPermissions converts the manifest's permission strings.
func (m *Manifest) RequestedPermissions() []permission.Permission {
	out := make([]permission.Permission, len(m.Permissions))
	for i, p := range m.Permissions {
		out[i] = permission.Permission(p)
	}
	return out
}

// Tool is a named capability a module exports. InputSchema, when set, is a
// JSON Schema document validated against every invocation's input.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         func(ctx context.Context, sc *sandbox.Context, input map[string]any) (any, error)
}

// Definition is the compiled-in body of a module: its manifest defaults,
// exported tools and lifecycle hooks.
type Definition struct {
	Manifest     Manifest
	Tools        []Tool
	OnActivate   sandbox.Hook
	OnDeactivate sandbox.Hook
}

// Tool returns the exported tool with the given name.
func (d *Definition) Tool(name string) (*Tool, bool) {
	for i := range d.Tools {
		if d.Tools[i].Name == name {
			return &d.Tools[i], true
		}
	}
	return nil, false
}

// Package is the installable artifact: a manifest document, the payload the
// checksum and signature cover, and the detached signature.
type Package struct {
	ManifestYAML []byte
	Payload      []byte
	Signature    string
}
