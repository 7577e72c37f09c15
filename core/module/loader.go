package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
)

// Factory builds a module definition. Module code is compiled into the
// binary and registered by name; arbitrary code is never loaded into the
// process at install time.
type Factory func() (*Definition, error)

// Loader resolves a verified manifest to its definition.
type Loader interface {
	Load(ctx context.Context, manifest *Manifest) (*Definition, error)
}

// FactoryLoader is the default Loader: a registry of compiled-in factories.
type FactoryLoader struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryLoader creates an empty loader.
func NewFactoryLoader() *FactoryLoader {
	return &FactoryLoader{factories: make(map[string]Factory)}
}

// Register adds a factory under the module name. Re-registering a name
// replaces the previous factory.
func (l *FactoryLoader) Register(name string, f Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[name] = f
}

// Names returns the registered module names, sorted.
func (l *FactoryLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.factories))
	for name := range l.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load builds the definition for the manifest's module. A package naming a
// module with no compiled-in factory cannot be installed.
func (l *FactoryLoader) Load(ctx context.Context, manifest *Manifest) (*Definition, error) {
	l.mu.RLock()
	f, ok := l.factories[manifest.Name]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.ModuleInstall(manifest.Name,
			fmt.Errorf("no compiled-in factory registered for %q", manifest.Name))
	}
	def, err := f()
	if err != nil {
		return nil, errors.ModuleInstall(manifest.Name, err)
	}
	if def == nil {
		return nil, errors.ModuleInstall(manifest.Name, fmt.Errorf("factory returned nil definition"))
	}
	// the package manifest is authoritative over factory defaults
	def.Manifest = *manifest
	return def, nil
}
