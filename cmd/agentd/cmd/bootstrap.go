package cmd

import (
	"fmt"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/config"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/governance"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/module"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/runner"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/runtime"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/modules/echo"
)

// app holds the explicitly wired components of a running daemon. Nothing in
// the core packages is a singleton; everything is constructed here.
type app struct {
	cfg         *config.Config
	bus         events.Bus
	permissions *permission.Engine
	store       storage.Store
	manager     *module.Manager
	enforcer    *governance.Enforcer
	registry    *runtime.AgentRegistry
	runtime     *runtime.AgentRuntime

	closers []func() error
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	bus := events.New()
	engine := permission.NewEngine(bus)

	var store storage.Store
	var closers []func() error
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = s
		closers = append(closers, s.Close)
	default:
		store = storage.NewMemoryStore()
	}

	verifier, err := module.NewVerifier(cfg.Trust.PublicKeyPath, cfg.Trust.AllowUnsigned)
	if err != nil {
		return nil, err
	}

	loader := module.NewFactoryLoader()
	loader.Register(echo.Name, echo.Factory)

	mem := memory.NewInMemoryStore()
	prov := provider.NewNullProvider()

	manager, err := module.NewManager(module.Config{
		CoreVersion: cfg.CoreVersion,
		Loader:      loader,
		Verifier:    verifier,
		Permissions: engine,
		Services: sandbox.Services{
			Provider: prov,
			Store:    store,
			Bus:      bus,
			Memory:   mem,
		},
		Bus: bus,
	})
	if err != nil {
		return nil, fmt.Errorf("module manager: %w", err)
	}

	enforcer := governance.NewEnforcer(
		governance.NewPolicyEngine(governance.NewGraphShapeRule(10)),
		governance.NewBudgetManager(),
		governance.NewRateLimiter(governance.Limits{
			PerMinute:     cfg.Governance.RateLimit.PerMinute,
			PerHour:       cfg.Governance.RateLimit.PerHour,
			MaxConcurrent: cfg.Governance.RateLimit.MaxConcurrent,
		}),
		governance.NewModelRegistry(),
	)

	registry := runtime.NewAgentRegistry(engine)
	scheduler := runtime.NewScheduler(runtime.Env{
		Permissions: engine,
		Provider:    prov,
		Runner:      runner.NewNullRunner(),
		Store:       store,
		Memory:      mem,
		Models:      enforcer.Models(),
		Agents:      registry.Get,
		Tools:       manager,
	})

	return &app{
		cfg:         cfg,
		bus:         bus,
		permissions: engine,
		store:       store,
		manager:     manager,
		enforcer:    enforcer,
		registry:    registry,
		runtime:     runtime.NewAgentRuntime(registry, enforcer, scheduler, bus),
		closers:     closers,
	}, nil
}

func (a *app) close() {
	a.bus.Close()
	for _, fn := range a.closers {
		_ = fn()
	}
}
