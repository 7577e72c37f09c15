// Package sandbox mediates every privileged call a module makes. Module code
// never receives the underlying services; it receives a Context whose proxies
// consult the capability table and the permission ledger before delegating.
package sandbox

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
)

// ErrInactive is returned when module code holds on to a sandbox context past
// deactivation, or asks for one before activation.
var ErrInactive = errors.New("sandbox: module is not active")

// ToolInvoker executes a named tool on behalf of a module. The module
// manager implements it; the indirection keeps this package free of a
// dependency on module definitions.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, callerID, tool string, input map[string]any) (any, error)
}

// Services are the backends the sandbox proxies guard. Permissions, Store
// and Bus are required; the rest may be nil, in which case the matching
// proxy reports the capability as unavailable.
type Services struct {
	Permissions *permission.Engine
	Provider    provider.Provider
	Embedder    provider.Embedder
	Store       storage.Store
	Bus         events.Bus
	Memory      memory.VectorStore
	Tools       ToolInvoker
	HTTPClient  *http.Client
}

// Hook is a module lifecycle callback run inside the sandbox.
type Hook func(ctx context.Context, sc *Context) error

// Sandbox owns the lifecycle of one module's mediated context.
type Sandbox struct {
	moduleID string
	services Services

	mu     sync.Mutex
	sc     *Context
	active bool
}

// New creates a sandbox for a module. No context exists until Activate.
func New(moduleID string, services Services) *Sandbox {
	return &Sandbox{moduleID: moduleID, services: services}
}

// ModuleID returns the owning module id.
func (s *Sandbox) ModuleID() string { return s.moduleID }

// Activate builds the module's context and runs the activation hook inside
// it. If the hook fails the context is torn down again, so a failed
// activation leaves no live capability handles behind.
func (s *Sandbox) Activate(ctx context.Context, hook Hook) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	sc := &Context{moduleID: s.moduleID, svc: s.services}
	s.sc = sc
	s.active = true
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, sc); err != nil {
			s.teardown()
			return err
		}
	}
	return nil
}

// Deactivate runs the deactivation hook, then revokes the context
// unconditionally. The hook's error is reported, but teardown happens
// either way: a module cannot keep its capabilities by failing its own
// shutdown.
func (s *Sandbox) Deactivate(ctx context.Context, hook Hook) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	sc := s.sc
	s.mu.Unlock()

	defer s.teardown()
	if hook != nil {
		if err := hook(ctx, sc); err != nil {
			logger.Warn(logger.WithComponentName(ctx, "sandbox"),
				"deactivation hook failed",
				zap.String("module", s.moduleID), zap.Error(err))
			return err
		}
	}
	return nil
}

// Context returns the live mediated context, or ErrInactive.
func (s *Sandbox) Context() (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.sc == nil {
		return nil, ErrInactive
	}
	return s.sc, nil
}

// Active reports whether the sandbox currently holds a live context.
func (s *Sandbox) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sandbox) teardown() {
	s.mu.Lock()
	if s.sc != nil {
		s.sc.revoke()
	}
	s.sc = nil
	s.active = false
	s.mu.Unlock()
}
