package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
)

// Context is the capability surface handed to module code. Every method
// checks the permission ledger through the capability table before touching
// a backend. A Context revoked by deactivation fails all calls.
type Context struct {
	moduleID string
	svc      Services
	revoked  atomic.Bool
}

func (c *Context) revoke() { c.revoked.Store(true) }

// ModuleID returns the id of the module this context belongs to.
func (c *Context) ModuleID() string { return c.moduleID }

// check gates a mediated surface. A surface missing from the capability
// table is a wiring bug and is always denied.
func (c *Context) check(ctx context.Context, surface string) error {
	if c.revoked.Load() {
		return ErrInactive
	}
	perm, ok := permission.RequiredFor(surface)
	if !ok {
		return fmt.Errorf("sandbox: surface %q has no capability entry", surface)
	}
	return c.svc.Permissions.Check(ctx, c.moduleID, perm)
}

// AI proxies model generation and embedding.
func (c *Context) AI() *AIProxy { return &AIProxy{c: c} }

// Storage proxies the key-value store, namespaced to the module.
func (c *Context) Storage() *StorageProxy { return &StorageProxy{c: c} }

// Events proxies the event bus.
func (c *Context) Events() *EventsProxy { return &EventsProxy{c: c} }

// Tools proxies cross-module tool invocation.
func (c *Context) Tools() *ToolsProxy { return &ToolsProxy{c: c} }

// Memory proxies the semantic memory store.
func (c *Context) Memory() *MemoryProxy { return &MemoryProxy{c: c} }

// HTTP proxies outbound requests.
func (c *Context) HTTP() *HTTPProxy { return &HTTPProxy{c: c} }

// UI proxies user-facing notifications.
func (c *Context) UI() *UIProxy { return &UIProxy{c: c} }

// Log proxies structured logging under the module's component name.
func (c *Context) Log() *LogProxy { return &LogProxy{c: c} }

type AIProxy struct{ c *Context }

func (p *AIProxy) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := p.c.check(ctx, "ai.generate"); err != nil {
		return nil, err
	}
	if p.c.svc.Provider == nil {
		return nil, fmt.Errorf("sandbox: no provider configured")
	}
	return p.c.svc.Provider.Generate(ctx, req)
}

func (p *AIProxy) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if err := p.c.check(ctx, "ai.generateStream"); err != nil {
		return nil, err
	}
	if p.c.svc.Provider == nil {
		return nil, fmt.Errorf("sandbox: no provider configured")
	}
	return p.c.svc.Provider.GenerateStream(ctx, req)
}

func (p *AIProxy) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.c.check(ctx, "ai.embed"); err != nil {
		return nil, err
	}
	if p.c.svc.Embedder == nil {
		return nil, fmt.Errorf("sandbox: no embedder configured")
	}
	return p.c.svc.Embedder.Embed(ctx, text)
}

type StorageProxy struct{ c *Context }

// key prefixes every module key so modules cannot read each other's data.
func (p *StorageProxy) key(k string) string {
	return "module:" + p.c.moduleID + ":" + k
}

func (p *StorageProxy) Get(ctx context.Context, key string) ([]byte, error) {
	if err := p.c.check(ctx, "storage.get"); err != nil {
		return nil, err
	}
	return p.c.svc.Store.Get(ctx, p.key(key))
}

func (p *StorageProxy) Set(ctx context.Context, key string, value []byte) error {
	if err := p.c.check(ctx, "storage.set"); err != nil {
		return err
	}
	return p.c.svc.Store.Set(ctx, p.key(key), value)
}

func (p *StorageProxy) Delete(ctx context.Context, key string) error {
	if err := p.c.check(ctx, "storage.delete"); err != nil {
		return err
	}
	return p.c.svc.Store.Delete(ctx, p.key(key))
}

func (p *StorageProxy) Has(ctx context.Context, key string) (bool, error) {
	if err := p.c.check(ctx, "storage.has"); err != nil {
		return false, err
	}
	return p.c.svc.Store.Has(ctx, p.key(key))
}

type EventsProxy struct{ c *Context }

func (p *EventsProxy) Publish(ctx context.Context, topic string, data any) error {
	if err := p.c.check(ctx, "events.publish"); err != nil {
		return err
	}
	p.c.svc.Bus.Publish(ctx, topic, events.ModuleMessage{
		Topic:    topic,
		ModuleID: p.c.moduleID,
		Data:     data,
	})
	return nil
}

func (p *EventsProxy) Subscribe(ctx context.Context, topic string) (<-chan events.TypedEvent, func(), error) {
	if err := p.c.check(ctx, "events.subscribe"); err != nil {
		return nil, nil, err
	}
	return p.c.svc.Bus.Subscribe(topic)
}

type ToolsProxy struct{ c *Context }

func (p *ToolsProxy) Execute(ctx context.Context, tool string, input map[string]any) (any, error) {
	if err := p.c.check(ctx, "tools.execute"); err != nil {
		return nil, err
	}
	if p.c.svc.Tools == nil {
		return nil, fmt.Errorf("sandbox: no tool invoker configured")
	}
	return p.c.svc.Tools.InvokeTool(ctx, p.c.moduleID, tool, input)
}

type MemoryProxy struct{ c *Context }

func (p *MemoryProxy) Upsert(ctx context.Context, entry memory.Entry) error {
	if err := p.c.check(ctx, "memory.upsert"); err != nil {
		return err
	}
	if p.c.svc.Memory == nil {
		return fmt.Errorf("sandbox: no memory store configured")
	}
	return p.c.svc.Memory.Upsert(ctx, entry)
}

func (p *MemoryProxy) Search(ctx context.Context, vector []float32, topK int) ([]memory.Entry, error) {
	if err := p.c.check(ctx, "memory.search"); err != nil {
		return nil, err
	}
	if p.c.svc.Memory == nil {
		return nil, fmt.Errorf("sandbox: no memory store configured")
	}
	return p.c.svc.Memory.Search(ctx, vector, topK)
}

type HTTPProxy struct{ c *Context }

func (p *HTTPProxy) Request(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	if err := p.c.check(ctx, "http.request"); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	client := p.c.svc.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return client.Do(req)
}

type UIProxy struct{ c *Context }

// Notify surfaces a message to whatever shell is attached; headless
// deployments see it on the bus and in the log.
func (p *UIProxy) Notify(ctx context.Context, title, message string) error {
	if err := p.c.check(ctx, "ui.notify"); err != nil {
		return err
	}
	p.c.svc.Bus.Publish(ctx, "ui.notify", events.ModuleMessage{
		Topic:    "ui.notify",
		ModuleID: p.c.moduleID,
		Data:     map[string]string{"title": title, "message": message},
	})
	logger.Info(logger.WithComponentName(ctx, "module:"+p.c.moduleID),
		"ui notification", zap.String("title", title), zap.String("message", message))
	return nil
}

type LogProxy struct{ c *Context }

// write drops the message when the module lacks log:write; the denial is
// still counted and published by the permission engine.
func (p *LogProxy) write(ctx context.Context, level string, msg string, fields []zap.Field) {
	if err := p.c.check(ctx, "log.write"); err != nil {
		return
	}
	lctx := logger.WithComponentName(ctx, "module:"+p.c.moduleID)
	switch level {
	case "debug":
		logger.Debug(lctx, msg, fields...)
	case "warn":
		logger.Warn(lctx, msg, fields...)
	case "error":
		logger.Error(lctx, msg, fields...)
	default:
		logger.Info(lctx, msg, fields...)
	}
}

func (p *LogProxy) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	p.write(ctx, "debug", msg, fields)
}

func (p *LogProxy) Info(ctx context.Context, msg string, fields ...zap.Field) {
	p.write(ctx, "info", msg, fields)
}

func (p *LogProxy) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	p.write(ctx, "warn", msg, fields)
}

func (p *LogProxy) Error(ctx context.Context, msg string, fields ...zap.Field) {
	p.write(ctx, "error", msg, fields)
}
