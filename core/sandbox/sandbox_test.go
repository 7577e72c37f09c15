package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"

	domerrors "github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
)

func testServices() (Services, *permission.Engine) {
	engine := permission.NewEngine(nil)
	return Services{
		Permissions: engine,
		Provider:    provider.NewNullProvider(),
		Store:       storage.NewMemoryStore(),
		Bus:         events.New(),
	}, engine
}

func TestActivateRunsHook(t *testing.T) {
	svc, engine := testServices()
	ctx := context.Background()
	engine.Grant(ctx, "mod-a", permission.StorageWrite)

	sb := New("mod-a", svc)
	ran := false
	err := sb.Activate(ctx, func(ctx context.Context, sc *Context) error {
		ran = true
		return sc.Storage().Set(ctx, "greeting", []byte("hello"))
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !ran {
		t.Fatal("activation hook did not run")
	}
	if !sb.Active() {
		t.Fatal("sandbox should be active")
	}
}

func TestActivateHookFailureTearsDown(t *testing.T) {
	svc, _ := testServices()
	sb := New("mod-a", svc)
	wantErr := errors.New("boot failed")
	err := sb.Activate(context.Background(), func(context.Context, *Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if sb.Active() {
		t.Fatal("sandbox should not be active after failed hook")
	}
	if _, err := sb.Context(); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestProxyDeniesWithoutGrant(t *testing.T) {
	svc, _ := testServices()
	ctx := context.Background()
	sb := New("mod-a", svc)
	if err := sb.Activate(ctx, nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	sc, err := sb.Context()
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	if _, err := sc.AI().Generate(ctx, provider.Request{UserContent: "hi"}); err == nil {
		t.Fatal("expected denial without ai:generate")
	} else if !domerrors.HasCode(err, domerrors.CodePermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}

func TestStorageNamespacing(t *testing.T) {
	svc, engine := testServices()
	ctx := context.Background()
	engine.Grant(ctx, "mod-a", permission.StorageRead, permission.StorageWrite)
	engine.Grant(ctx, "mod-b", permission.StorageRead, permission.StorageWrite)

	sbA := New("mod-a", svc)
	sbB := New("mod-b", svc)
	sbA.Activate(ctx, nil)
	sbB.Activate(ctx, nil)
	scA, _ := sbA.Context()
	scB, _ := sbB.Context()

	if err := scA.Storage().Set(ctx, "key", []byte("a-data")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if has, _ := scB.Storage().Has(ctx, "key"); has {
		t.Fatal("module b can see module a's key")
	}
	got, err := scA.Storage().Get(ctx, "key")
	if err != nil || string(got) != "a-data" {
		t.Fatalf("get: %v %q", err, got)
	}
}

func TestDeactivateRevokesRetainedContext(t *testing.T) {
	svc, engine := testServices()
	ctx := context.Background()
	engine.Grant(ctx, "mod-a", permission.AIGenerate)

	sb := New("mod-a", svc)
	sb.Activate(ctx, nil)
	sc, _ := sb.Context()

	if _, err := sc.AI().Generate(ctx, provider.Request{UserContent: "hi"}); err != nil {
		t.Fatalf("generate before deactivate: %v", err)
	}

	if err := sb.Deactivate(ctx, nil); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := sc.AI().Generate(ctx, provider.Request{UserContent: "hi"}); !errors.Is(err, ErrInactive) {
		t.Fatalf("retained context should be revoked, got %v", err)
	}
	if _, err := sb.Context(); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestDeactivateHookErrorStillTearsDown(t *testing.T) {
	svc, _ := testServices()
	ctx := context.Background()
	sb := New("mod-a", svc)
	sb.Activate(ctx, nil)

	wantErr := errors.New("shutdown failed")
	err := sb.Deactivate(ctx, func(context.Context, *Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if sb.Active() {
		t.Fatal("sandbox must be inactive even when the hook fails")
	}
}
