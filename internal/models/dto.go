package models

// ==================== Dashboard API DTOs ====================

// CreateInstanceRequest is submitted from the dashboard's create dialog.
type CreateInstanceRequest struct {
	Kind string `json:"kind" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// InstanceView is one instance shaped for a dashboard card.
type InstanceView struct {
	ID               string  `json:"id"`
	Kind             string  `json:"kind"`
	Name             string  `json:"name"`
	State            string  `json:"state"`
	DesiredState     string  `json:"desired_state"`
	StateMessage     *string `json:"state_message,omitempty"`
	CanStart         bool    `json:"can_start"`
	LastTransitionAt string  `json:"last_transition_at"`
	CreatedAt        string  `json:"created_at"`
}

// WindowInfo describes the access window for the restricted banner.
type WindowInfo struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
	Open      bool   `json:"open"`
}

// InstanceListResponse is the dashboard's list payload. CanStart is
// recomputed on every request, never cached across the window boundary.
type InstanceListResponse struct {
	Instances  []InstanceView `json:"instances"`
	CanStart   bool           `json:"can_start"`
	Window     WindowInfo     `json:"window"`
	ServerTime string         `json:"server_time"`
}

// CommandResponse is returned by start/stop/delete. The command returns
// once the requested transition is durably recorded; the final state
// arrives asynchronously via the synchronizer and subsequent polls.
type CommandResponse struct {
	Instance *InstanceView `json:"instance,omitempty"`
	Status   string        `json:"status"`
	Message  string        `json:"message"`
}

// CurrentUserResponse is the dashboard's session header payload.
type CurrentUserResponse struct {
	User       *User      `json:"user"`
	ServerTime string     `json:"server_time"`
	Window     WindowInfo `json:"window"`
}

// InstanceEventView is one audit-trail row shaped for display.
type InstanceEventView struct {
	Action    string `json:"action"`
	State     string `json:"state"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// ==================== Runtime Callback DTOs ====================

// RuntimeStatusCallback is pushed by the process runtime when it
// observes a status change, as a faster path than the poll loop. It is
// reconciled through the same transition guard as the synchronizer.
type RuntimeStatusCallback struct {
	InstanceID string `json:"instance_id" binding:"required"`
	Status     string `json:"status" binding:"required"`
	Message    string `json:"message"`
}
