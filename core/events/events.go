package events

// Topics published by the module system and the execution runtime.
const (
	ModuleInstalledEventType   = "module.installed"
	ModuleActivatedEventType   = "module.activated"
	ModuleDeactivatedEventType = "module.deactivated"
	ModuleUninstalledEventType = "module.uninstalled"

	PermissionGrantedEventType = "permission.granted"
	PermissionRevokedEventType = "permission.revoked"
	PermissionDeniedEventType  = "permission.denied"

	ExecutionStartedEventType   = "execution.started"
	ExecutionCompletedEventType = "execution.completed"
	ExecutionAbortedEventType   = "execution.aborted"
	ExecutionRejectedEventType  = "execution.rejected"
)

// ModuleEvent is the payload for module lifecycle topics.
type ModuleEvent struct {
	Type      string
	ModuleID  string
	Version   string
	Principal string
}

func (e ModuleEvent) EventType() string { return e.Type }

// PermissionEvent is the payload for permission ledger topics.
type PermissionEvent struct {
	Type        string
	ModuleID    string
	Permissions []string
	Principal   string
}

func (e PermissionEvent) EventType() string { return e.Type }

// ModuleMessage is the payload for custom topics published by module code
// through its sandbox.
type ModuleMessage struct {
	Topic    string
	ModuleID string
	Data     any
}

func (e ModuleMessage) EventType() string { return e.Topic }

// ExecutionEvent is the payload for execution runtime topics.
type ExecutionEvent struct {
	Type        string
	ExecutionID string
	AgentID     string
	WorkspaceID string
	Status      string
	// Violations carries governance rejection codes on execution.rejected.
	Violations []string
}

func (e ExecutionEvent) EventType() string { return e.Type }
