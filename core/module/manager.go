package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/auth"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/metrics"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
)

const componentName = "module-manager"

// PromptFunc asks for approval before a module's requested permissions are
// granted at activation. A nil PromptFunc auto-approves.
type PromptFunc func(ctx context.Context, moduleID string, perms []permission.Permission) (bool, error)

type installed struct {
	def     *Definition
	sandbox *sandbox.Sandbox
	schemas map[string]*jsonschema.Schema
}

// Manager drives the module lifecycle. All state transitions go through it;
// it owns the sandbox of every active module.
type Manager struct {
	coreVersion *semver.Version
	loader      Loader
	verifier    *Verifier
	permissions *permission.Engine
	services    sandbox.Services
	bus         events.Bus
	prompt      PromptFunc

	mu      sync.RWMutex
	modules map[string]*installed
}

// Config wires a Manager's collaborators.
type Config struct {
	CoreVersion string
	Loader      Loader
	Verifier    *Verifier
	Permissions *permission.Engine
	Services    sandbox.Services
	Bus         events.Bus
	Prompt      PromptFunc
}

// NewManager creates a module manager. The manager installs itself as the
// sandbox tool invoker so modules can call each other's tools through their
// own capability checks.
func NewManager(cfg Config) (*Manager, error) {
	core, err := semver.NewVersion(cfg.CoreVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid core version %q: %w", cfg.CoreVersion, err)
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("permission engine is required")
	}
	m := &Manager{
		coreVersion: core,
		loader:      cfg.Loader,
		verifier:    cfg.Verifier,
		permissions: cfg.Permissions,
		services:    cfg.Services,
		bus:         cfg.Bus,
		prompt:      cfg.Prompt,
		modules:     make(map[string]*installed),
	}
	m.services.Permissions = cfg.Permissions
	m.services.Tools = m
	return m, nil
}

// Install verifies a package, checks version compatibility and resolves the
// module definition. The module is left inactive.
func (m *Manager) Install(ctx context.Context, pkg Package) (*Manifest, error) {
	manifest, err := ParseManifest(pkg.ManifestYAML)
	if err != nil {
		metrics.ModuleLifecycleCounter.WithLabelValues("unknown", "install", "error").Inc()
		return nil, errors.ModuleInstall("unknown", err)
	}

	if m.verifier != nil {
		if err := m.verifier.VerifyPackage(manifest, pkg); err != nil {
			m.lifecycleResult(ctx, manifest, "install", err)
			return nil, err
		}
	}
	if err := m.checkCoreCompatibility(manifest); err != nil {
		m.lifecycleResult(ctx, manifest, "install", err)
		return nil, err
	}

	def, err := m.loader.Load(ctx, manifest)
	if err != nil {
		m.lifecycleResult(ctx, manifest, "install", err)
		return nil, err
	}

	m.mu.Lock()
	m.modules[manifest.Name] = &installed{
		def:     def,
		schemas: compileToolSchemas(def),
	}
	m.mu.Unlock()

	m.lifecycleResult(ctx, manifest, "install", nil)
	m.publish(ctx, events.ModuleInstalledEventType, manifest)
	logger.Info(logger.WithComponentName(ctx, componentName), "module installed",
		zap.String("module", manifest.Name), zap.String("version", manifest.Version))
	return manifest, nil
}

// checkCoreCompatibility enforces the manifest's [min, max] bound against
// the running core version.
func (m *Manager) checkCoreCompatibility(manifest *Manifest) error {
	constraintStr := ">= " + manifest.MinCoreVersion
	if manifest.MaxCoreVersion != "" {
		constraintStr += ", <= " + manifest.MaxCoreVersion
	}
	c, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return errors.VersionIncompatible(manifest.Name,
			fmt.Sprintf("invalid core version bounds: %v", err))
	}
	if !c.Check(m.coreVersion) {
		return errors.VersionIncompatible(manifest.Name,
			fmt.Sprintf("core %s outside required range %s", m.coreVersion, constraintStr))
	}
	return nil
}

// compileToolSchemas compiles each tool's input schema once at install.
// A tool with a malformed schema runs without input validation.
func compileToolSchemas(def *Definition) map[string]*jsonschema.Schema {
	schemas := make(map[string]*jsonschema.Schema)
	for _, t := range def.Tools {
		if t.InputSchema == nil {
			continue
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", t.InputSchema); err != nil {
			continue
		}
		sch, err := compiler.Compile("schema.json")
		if err != nil {
			continue
		}
		schemas[t.Name] = sch
	}
	return schemas
}

// Activate grants the module's requested permissions, builds its sandbox and
// runs the activation hook. Activating an active module is a logged no-op.
// A failed hook rolls the grant back.
func (m *Manager) Activate(ctx context.Context, name string) error {
	m.mu.RLock()
	inst, ok := m.modules[name]
	m.mu.RUnlock()
	if !ok {
		return errors.ModuleNotFound(name)
	}
	if inst.sandbox != nil && inst.sandbox.Active() {
		logger.Info(logger.WithComponentName(ctx, componentName),
			"module already active", zap.String("module", name))
		return nil
	}

	perms := inst.def.Manifest.RequestedPermissions()
	if m.prompt != nil {
		approved, err := m.prompt(ctx, name, perms)
		if err != nil {
			return fmt.Errorf("permission prompt failed: %w", err)
		}
		if !approved {
			m.lifecycle(name, "activate", "denied")
			return errors.PermissionDenied(name, "permission grant declined")
		}
	}
	if len(perms) > 0 {
		if err := m.permissions.Grant(ctx, name, perms...); err != nil {
			return err
		}
	}

	sb := sandbox.New(name, m.services)
	err := m.safelyExecute(ctx, name, "OnActivate", func() error {
		return sb.Activate(ctx, inst.def.OnActivate)
	})
	if err != nil {
		// roll the grant back so a module that failed to boot holds nothing
		m.permissions.Revoke(ctx, name)
		m.lifecycle(name, "activate", "error")
		return fmt.Errorf("module %s activation failed: %w", name, err)
	}

	m.mu.Lock()
	inst.sandbox = sb
	m.mu.Unlock()

	m.lifecycle(name, "activate", "ok")
	m.publish(ctx, events.ModuleActivatedEventType, &inst.def.Manifest)
	logger.Info(logger.WithComponentName(ctx, componentName), "module activated",
		zap.String("module", name))
	return nil
}

// Deactivate runs the deactivation hook and tears the module down. A module
// that is not active fails with ModuleNotFound. Cleanup is unconditional:
// permissions are revoked and the sandbox destroyed even when the hook
// fails, and the hook's error is then reported.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	m.mu.RLock()
	inst, ok := m.modules[name]
	m.mu.RUnlock()
	if !ok {
		return errors.ModuleNotFound(name)
	}
	if inst.sandbox == nil || !inst.sandbox.Active() {
		return errors.ModuleNotFound(name)
	}

	hookErr := m.safelyExecute(ctx, name, "OnDeactivate", func() error {
		return inst.sandbox.Deactivate(ctx, inst.def.OnDeactivate)
	})

	m.permissions.Revoke(ctx, name)
	m.mu.Lock()
	inst.sandbox = nil
	m.mu.Unlock()

	status := "ok"
	if hookErr != nil {
		status = "error"
	}
	m.lifecycle(name, "deactivate", status)
	m.publish(ctx, events.ModuleDeactivatedEventType, &inst.def.Manifest)
	logger.Info(logger.WithComponentName(ctx, componentName), "module deactivated",
		zap.String("module", name), zap.Bool("hookFailed", hookErr != nil))
	return hookErr
}

// Uninstall deactivates the module if needed and removes it.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.mu.RLock()
	inst, ok := m.modules[name]
	m.mu.RUnlock()
	if !ok {
		return errors.ModuleNotFound(name)
	}

	if inst.sandbox != nil && inst.sandbox.Active() {
		if err := m.Deactivate(ctx, name); err != nil {
			logger.Warn(logger.WithComponentName(ctx, componentName),
				"deactivation during uninstall failed",
				zap.String("module", name), zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.modules, name)
	m.mu.Unlock()

	m.lifecycle(name, "uninstall", "ok")
	m.publish(ctx, events.ModuleUninstalledEventType, &inst.def.Manifest)
	return nil
}

// Installed returns the manifests of all installed modules, sorted by name.
func (m *Manager) Installed() []Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Manifest, 0, len(m.modules))
	for _, inst := range m.modules {
		out = append(out, inst.def.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active returns the names of modules with a live sandbox, sorted.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, inst := range m.modules {
		if inst.sandbox != nil && inst.sandbox.Active() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RunTool executes a module's tool. Module and tool are resolved before
// anything else, so a call to a nonexistent tool cannot activate the
// module; input is validated against the tool's schema; tool errors are
// logged and returned verbatim.
func (m *Manager) RunTool(ctx context.Context, moduleName, toolName string, input map[string]any) (any, error) {
	m.mu.RLock()
	inst, ok := m.modules[moduleName]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.ModuleNotFound(moduleName)
	}
	tool, ok := inst.def.Tool(toolName)
	if !ok {
		return nil, errors.ModuleNotFound(moduleName + "." + toolName)
	}

	if inst.sandbox == nil || !inst.sandbox.Active() {
		logger.Warn(logger.WithComponentName(ctx, componentName),
			"auto-activating module for tool call",
			zap.String("module", moduleName), zap.String("tool", toolName))
		if err := m.Activate(ctx, moduleName); err != nil {
			return nil, err
		}
	}

	if sch, hasSchema := inst.schemas[toolName]; hasSchema {
		if err := sch.Validate(anyMap(input)); err != nil {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("tool input rejected: %v", err), moduleName+"."+toolName)
		}
	}

	sc, err := inst.sandbox.Context()
	if err != nil {
		return nil, err
	}

	var result any
	err = m.safelyExecute(ctx, moduleName, "tool:"+toolName, func() error {
		var runErr error
		result, runErr = tool.Run(ctx, sc, input)
		return runErr
	})
	if err != nil {
		logger.Error(logger.WithComponentName(ctx, componentName), "tool execution failed",
			zap.String("module", moduleName), zap.String("tool", toolName), zap.Error(err))
		return nil, err
	}
	return result, nil
}

// InvokeTool implements sandbox.ToolInvoker for cross-module calls. The
// tool reference is "module.tool"; the caller's own permission check has
// already happened in its sandbox.
func (m *Manager) InvokeTool(ctx context.Context, callerID, tool string, input map[string]any) (any, error) {
	moduleName, toolName, ok := splitToolRef(tool)
	if !ok {
		return nil, errors.Validation("tool reference must be module.tool, got " + tool)
	}
	logger.Debug(logger.WithComponentName(ctx, componentName), "cross-module tool call",
		zap.String("caller", callerID), zap.String("tool", tool))
	return m.RunTool(ctx, moduleName, toolName, input)
}

func splitToolRef(ref string) (string, string, bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			if i == 0 || i == len(ref)-1 {
				return "", "", false
			}
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

// anyMap normalizes the input for schema validation, which expects plain
// JSON-decoded values.
func anyMap(input map[string]any) any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

// safelyExecute runs a lifecycle or tool function and converts panics in
// module code into errors.
func (m *Manager) safelyExecute(ctx context.Context, moduleName, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(logger.WithComponentName(ctx, componentName), "panic recovered in module",
				zap.String("module", moduleName),
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("panic in module %s during %s: %v", moduleName, operation, r)
		}
	}()
	return fn()
}

func (m *Manager) lifecycle(name, operation, status string) {
	metrics.ModuleLifecycleCounter.WithLabelValues(name, operation, status).Inc()
}

func (m *Manager) lifecycleResult(ctx context.Context, manifest *Manifest, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		logger.Error(logger.WithComponentName(ctx, componentName), "module "+operation+" failed",
			zap.String("module", manifest.Name), zap.Error(err))
	}
	m.lifecycle(manifest.Name, operation, status)
}

func (m *Manager) publish(ctx context.Context, topic string, manifest *Manifest) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, topic, events.ModuleEvent{
		Type:      topic,
		ModuleID:  manifest.Name,
		Version:   manifest.Version,
		Principal: auth.PrincipalID(ctx),
	})
}
