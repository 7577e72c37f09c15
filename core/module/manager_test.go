package module

import (
	"context"
	"fmt"
	"testing"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
)

const testManifest = `
name: greeter
version: 1.2.0
minCoreVersion: 1.0.0
maxCoreVersion: 2.0.0
permissions:
  - storage:read
  - storage:write
  - log:write
`

func greeterFactory() (*Definition, error) {
	return &Definition{
		Tools: []Tool{
			{
				Name: "greet",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"name"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
					},
				},
				Run: func(ctx context.Context, sc *sandbox.Context, input map[string]any) (any, error) {
					return "hello " + input["name"].(string), nil
				},
			},
		},
	}, nil
}

func newTestManager(t *testing.T, prompt PromptFunc) (*Manager, *permission.Engine) {
	t.Helper()
	loader := NewFactoryLoader()
	loader.Register("greeter", greeterFactory)

	engine := permission.NewEngine(nil)
	mgr, err := NewManager(Config{
		CoreVersion: "1.5.0",
		Loader:      loader,
		Permissions: engine,
		Services: sandbox.Services{
			Provider: provider.NewNullProvider(),
			Store:    storage.NewMemoryStore(),
			Bus:      events.New(),
		},
		Bus:    events.New(),
		Prompt: prompt,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, engine
}

func installGreeter(t *testing.T, mgr *Manager) {
	t.Helper()
	if _, err := mgr.Install(context.Background(), Package{ManifestYAML: []byte(testManifest)}); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestInstall(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	manifest, err := mgr.Install(context.Background(), Package{ManifestYAML: []byte(testManifest)})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if manifest.Name != "greeter" || manifest.Version != "1.2.0" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	if got := mgr.Installed(); len(got) != 1 {
		t.Fatalf("expected 1 installed module, got %d", len(got))
	}
	if got := mgr.Active(); len(got) != 0 {
		t.Fatalf("install must not activate, got %v", got)
	}
}

func TestInstall_NoFactory(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	yaml := "name: ghost\nversion: 1.0.0\nminCoreVersion: 1.0.0\n"
	if _, err := mgr.Install(context.Background(), Package{ManifestYAML: []byte(yaml)}); !errors.HasCode(err, errors.CodeModuleInstall) {
		t.Fatalf("expected MODULE_INSTALL, got %v", err)
	}
}

func TestInstall_IncompatibleCore(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	yaml := "name: greeter\nversion: 1.0.0\nminCoreVersion: 9.0.0\n"
	if _, err := mgr.Install(context.Background(), Package{ManifestYAML: []byte(yaml)}); !errors.HasCode(err, errors.CodeVersionIncompatible) {
		t.Fatalf("expected VERSION_INCOMPATIBLE, got %v", err)
	}
}

func TestActivateGrantsPermissions(t *testing.T) {
	mgr, engine := newTestManager(t, nil)
	installGreeter(t, mgr)
	ctx := context.Background()

	if err := mgr.Activate(ctx, "greeter"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("expected storage:write granted after activation")
	}
	if got := mgr.Active(); len(got) != 1 || got[0] != "greeter" {
		t.Fatalf("expected greeter active, got %v", got)
	}

	// second activation is a no-op
	if err := mgr.Activate(ctx, "greeter"); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
}

func TestActivate_PromptDeclined(t *testing.T) {
	declined := func(ctx context.Context, moduleID string, perms []permission.Permission) (bool, error) {
		return false, nil
	}
	mgr, engine := newTestManager(t, declined)
	installGreeter(t, mgr)

	err := mgr.Activate(context.Background(), "greeter")
	if !errors.HasCode(err, errors.CodePermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	if engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("declined activation must not grant")
	}
}

func TestActivate_HookFailureRollsBackGrant(t *testing.T) {
	loader := NewFactoryLoader()
	loader.Register("greeter", func() (*Definition, error) {
		return &Definition{
			OnActivate: func(ctx context.Context, sc *sandbox.Context) error {
				return fmt.Errorf("boot failed")
			},
		}, nil
	})
	engine := permission.NewEngine(nil)
	mgr, err := NewManager(Config{
		CoreVersion: "1.5.0",
		Loader:      loader,
		Permissions: engine,
		Services:    sandbox.Services{Store: storage.NewMemoryStore(), Bus: events.New()},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	installGreeter(t, mgr)

	if err := mgr.Activate(context.Background(), "greeter"); err == nil {
		t.Fatal("expected activation error")
	}
	if engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("failed activation must roll the grant back")
	}
	if got := mgr.Active(); len(got) != 0 {
		t.Fatalf("module must not be active, got %v", got)
	}
}

func TestDeactivate_CleanupOnHookError(t *testing.T) {
	loader := NewFactoryLoader()
	loader.Register("greeter", func() (*Definition, error) {
		return &Definition{
			OnDeactivate: func(ctx context.Context, sc *sandbox.Context) error {
				return fmt.Errorf("shutdown failed")
			},
		}, nil
	})
	engine := permission.NewEngine(nil)
	mgr, err := NewManager(Config{
		CoreVersion: "1.5.0",
		Loader:      loader,
		Permissions: engine,
		Services:    sandbox.Services{Store: storage.NewMemoryStore(), Bus: events.New()},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	installGreeter(t, mgr)
	ctx := context.Background()
	if err := mgr.Activate(ctx, "greeter"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := mgr.Deactivate(ctx, "greeter"); err == nil {
		t.Fatal("expected hook error to be reported")
	}
	// cleanup happened regardless
	if engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("permissions must be revoked despite hook failure")
	}
	if got := mgr.Active(); len(got) != 0 {
		t.Fatalf("module must be inactive, got %v", got)
	}
}

func TestDeactivate_PanicInHook(t *testing.T) {
	loader := NewFactoryLoader()
	loader.Register("greeter", func() (*Definition, error) {
		return &Definition{
			OnDeactivate: func(ctx context.Context, sc *sandbox.Context) error {
				panic("boom")
			},
		}, nil
	})
	engine := permission.NewEngine(nil)
	mgr, _ := NewManager(Config{
		CoreVersion: "1.5.0",
		Loader:      loader,
		Permissions: engine,
		Services:    sandbox.Services{Store: storage.NewMemoryStore(), Bus: events.New()},
	})
	installGreeter(t, mgr)
	ctx := context.Background()
	mgr.Activate(ctx, "greeter")

	if err := mgr.Deactivate(ctx, "greeter"); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if got := mgr.Active(); len(got) != 0 {
		t.Fatalf("module must be inactive after panic, got %v", got)
	}
}

func TestDeactivate_InactiveFails(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	installGreeter(t, mgr)

	err := mgr.Deactivate(context.Background(), "greeter")
	if !errors.HasCode(err, errors.CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND for inactive module, got %v", err)
	}
}

func TestUninstall(t *testing.T) {
	mgr, engine := newTestManager(t, nil)
	installGreeter(t, mgr)
	ctx := context.Background()
	mgr.Activate(ctx, "greeter")

	if err := mgr.Uninstall(ctx, "greeter"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if len(mgr.Installed()) != 0 {
		t.Fatal("module still installed")
	}
	if engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("permissions must be revoked on uninstall")
	}
	if err := mgr.Uninstall(ctx, "greeter"); !errors.HasCode(err, errors.CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND, got %v", err)
	}
}

func TestRunTool(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	installGreeter(t, mgr)
	ctx := context.Background()

	// auto-activates on first call
	out, err := mgr.RunTool(ctx, "greeter", "greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("run tool: %v", err)
	}
	if out != "hello ada" {
		t.Fatalf("unexpected output %v", out)
	}

	// schema rejects missing required field
	if _, err := mgr.RunTool(ctx, "greeter", "greet", map[string]any{}); !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}

	if _, err := mgr.RunTool(ctx, "greeter", "missing", nil); !errors.HasCode(err, errors.CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND for unknown tool, got %v", err)
	}
	if _, err := mgr.RunTool(ctx, "nope", "greet", nil); !errors.HasCode(err, errors.CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND for unknown module, got %v", err)
	}
}

func TestRunTool_UnknownToolDoesNotActivate(t *testing.T) {
	mgr, engine := newTestManager(t, nil)
	installGreeter(t, mgr)

	if _, err := mgr.RunTool(context.Background(), "greeter", "missing", nil); !errors.HasCode(err, errors.CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND, got %v", err)
	}
	if got := mgr.Active(); len(got) != 0 {
		t.Fatalf("unknown tool must not trigger activation, got %v", got)
	}
	if engine.Has("greeter", permission.StorageWrite) {
		t.Fatal("unknown tool must not grant permissions")
	}
}

func TestInvokeTool(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	installGreeter(t, mgr)
	ctx := context.Background()

	out, err := mgr.InvokeTool(ctx, "caller", "greeter.greet", map[string]any{"name": "bob"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "hello bob" {
		t.Fatalf("unexpected output %v", out)
	}

	if _, err := mgr.InvokeTool(ctx, "caller", "noseparator", nil); !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION for bad tool ref, got %v", err)
	}
}
