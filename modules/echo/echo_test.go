package echo

import (
	"context"
	"testing"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/module"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
)

func newManager(t *testing.T) *module.Manager {
	t.Helper()
	loader := module.NewFactoryLoader()
	loader.Register(Name, Factory)

	mgr, err := module.NewManager(module.Config{
		CoreVersion: "1.0.0",
		Loader:      loader,
		Permissions: permission.NewEngine(nil),
		Services: sandbox.Services{
			Store: storage.NewMemoryStore(),
			Bus:   events.New(),
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Install(context.Background(), module.Package{ManifestYAML: []byte(ManifestYAML)}); err != nil {
		t.Fatalf("install: %v", err)
	}
	return mgr
}

func TestEchoTool(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	out, err := mgr.RunTool(ctx, Name, "echo", map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if out != "ping" {
		t.Fatalf("expected ping, got %v", out)
	}
}

func TestRememberRecall(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	if _, err := mgr.RunTool(ctx, Name, "remember", map[string]any{"key": "k", "note": "a note"}); err != nil {
		t.Fatalf("remember: %v", err)
	}
	out, err := mgr.RunTool(ctx, Name, "recall", map[string]any{"key": "k"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if out != "a note" {
		t.Fatalf("expected note, got %v", out)
	}

	if _, err := mgr.RunTool(ctx, Name, "recall", map[string]any{"key": "missing"}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
