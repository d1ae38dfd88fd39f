package models

import (
	"time"
)

// Instance state constants. State only ever changes through the
// lifecycle service's transition guard; nothing else writes it.
const (
	StateCreated  = "created"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
	StateFailed   = "failed"
	StateDeleted  = "deleted"
)

// Desired state constants. The owner's last requested outcome, used
// by the synchronizer to reconcile drift. DesiredDeleted marks an
// in-flight delete durably, so an interrupted teardown is finished by
// the reconcile loop instead of being lost with the goroutine.
const (
	DesiredRunning = "running"
	DesiredStopped = "stopped"
	DesiredDeleted = "deleted"
)

// Instance kind constants.
const (
	KindMinecraftServer = "minecraft_server"
	KindDiscordBot      = "discord_bot"
)

// StartableStates are the states from which a start command is legal.
var StartableStates = []string{StateCreated, StateStopped, StateFailed}

// StoppableStates are the states from which a stop command is legal.
var StoppableStates = []string{StateStarting, StateRunning}

// Instance is one managed server/bot process.
type Instance struct {
	ID               string
	OwnerID          string
	Kind             string
	Name             string
	State            string
	DesiredState     string
	StateMessage     *string
	LastTransitionAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// ValidKind reports whether kind is a supported instance kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindMinecraftServer, KindDiscordBot:
		return true
	}
	return false
}

// InstanceEvent is one audit-trail entry for an instance.
type InstanceEvent struct {
	ID         string
	InstanceID string
	Action     string
	State      string
	Message    string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// User is the profile supplied by the authentication collaborator.
// This service never owns or validates it beyond the JWT claims.
type User struct {
	ID              string `json:"id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	ProfileImageURL string `json:"profile_image_url"`
}
