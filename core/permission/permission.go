// Package permission implements the per-module capability ledger. It is the
// single enforcement primitive: no other component keeps its own permission
// bookkeeping.
package permission

// Permission is an opaque capability identifier.
type Permission string

// Capabilities mediated by the sandbox and the graph scheduler.
const (
	AIGenerate      Permission = "ai:generate"
	AIEmbed         Permission = "ai:embed"
	ToolExecute     Permission = "tool:execute"
	AgentCall       Permission = "agent_call"
	EventsPublish   Permission = "events:publish"
	EventsSubscribe Permission = "events:subscribe"
	StorageRead     Permission = "storage:read"
	StorageWrite    Permission = "storage:write"
	MemoryRead      Permission = "memory:read"
	MemoryWrite     Permission = "memory:write"
	HTTPRequest     Permission = "http:request"
	UIRender        Permission = "ui:render"
	LogWrite        Permission = "log:write"
)

// capabilityTable maps every mediated surface (sandbox SDK method or graph
// node type) to the permission it requires. The sandbox and the scheduler
// consult only this table, so a new privileged surface cannot ship without
// an enforcement entry.
var capabilityTable = map[string]Permission{
	"ai.generate":       AIGenerate,
	"ai.generateStream": AIGenerate,
	"ai.embed":          AIEmbed,
	"tools.execute":     ToolExecute,
	"events.publish":    EventsPublish,
	"events.subscribe":  EventsSubscribe,
	"storage.get":       StorageRead,
	"storage.has":       StorageRead,
	"storage.set":       StorageWrite,
	"storage.delete":    StorageWrite,
	"memory.search":     MemoryRead,
	"memory.upsert":     MemoryWrite,
	"http.request":      HTTPRequest,
	"ui.notify":         UIRender,
	"log.write":         LogWrite,

	"node.LLM":        AIGenerate,
	"node.TOOL":       ToolExecute,
	"node.AGENT_CALL": AgentCall,
}

// RequiredFor returns the permission guarding a mediated surface.
// The second return value is false for surfaces with no table entry;
// callers must treat that as a wiring bug, not as "no permission needed".
func RequiredFor(surface string) (Permission, bool) {
	p, ok := capabilityTable[surface]
	return p, ok
}

// NodeSurface builds the capability-table key for a graph node type.
func NodeSurface(nodeType string) string {
	return "node." + nodeType
}
