package permission

import (
	"context"
	"sort"
	"sync"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/auth"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/metrics"
)

// Engine owns the grant ledger: moduleID -> set of permissions.
// It is mutated only through Grant and Revoke.
type Engine struct {
	mu     sync.RWMutex
	grants map[string]map[Permission]struct{}
	bus    events.Bus
}

// NewEngine creates a permission engine. The bus is optional; when present,
// grant, revoke and denial events are published for audit.
func NewEngine(bus events.Bus) *Engine {
	return &Engine{
		grants: make(map[string]map[Permission]struct{}),
		bus:    bus,
	}
}

// Grant unions the given permissions into the module's existing set,
// creating it if absent. Granting the same permission twice is a no-op.
func (e *Engine) Grant(ctx context.Context, moduleID string, perms ...Permission) error {
	if moduleID == "" {
		return errors.Validation("module id must not be empty")
	}

	e.mu.Lock()
	set, ok := e.grants[moduleID]
	if !ok {
		set = make(map[Permission]struct{}, len(perms))
		e.grants[moduleID] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
	e.mu.Unlock()

	e.publish(ctx, events.PermissionGrantedEventType, moduleID, perms)
	return nil
}

// Revoke deletes the module's entire ledger entry. Revoking an unknown
// module is a no-op.
func (e *Engine) Revoke(ctx context.Context, moduleID string) error {
	if moduleID == "" {
		return errors.Validation("module id must not be empty")
	}

	e.mu.Lock()
	old, existed := e.grants[moduleID]
	delete(e.grants, moduleID)
	e.mu.Unlock()

	if existed {
		revoked := make([]Permission, 0, len(old))
		for p := range old {
			revoked = append(revoked, p)
		}
		e.publish(ctx, events.PermissionRevokedEventType, moduleID, revoked)
	}
	return nil
}

// Check fails with a PERMISSION_DENIED error when the module does not hold
// the permission. This is the only form that returns an error.
func (e *Engine) Check(ctx context.Context, moduleID string, perm Permission) error {
	if e.Has(moduleID, perm) {
		return nil
	}
	metrics.PermissionDenialCounter.WithLabelValues(moduleID, string(perm)).Inc()
	e.publish(ctx, events.PermissionDeniedEventType, moduleID, []Permission{perm})
	return errors.PermissionDenied(moduleID, "missing permission "+string(perm))
}

// Has reports whether the module holds the permission. It never errors.
func (e *Engine) Has(moduleID string, perm Permission) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.grants[moduleID]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// Granted returns a sorted copy of the module's permissions, for
// introspection and audit.
func (e *Engine) Granted(moduleID string) []Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.grants[moduleID]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) publish(ctx context.Context, topic, moduleID string, perms []Permission) {
	if e.bus == nil {
		return
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	e.bus.Publish(ctx, topic, events.PermissionEvent{
		Type:        topic,
		ModuleID:    moduleID,
		Permissions: names,
		Principal:   auth.PrincipalID(ctx),
	})
}
