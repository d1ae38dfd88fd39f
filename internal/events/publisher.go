// Package events publishes lifecycle transitions to NATS so other
// platform services (notifications, billing previews) can react without
// polling this service. Publishing is best-effort: a lost event never
// blocks or fails a lifecycle command.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

const subjectPrefix = "hostpanel.instances."

// TransitionEvent is the payload published on every state transition.
type TransitionEvent struct {
	InstanceID string    `json:"instance_id"`
	OwnerID    string    `json:"owner_id"`
	Kind       string    `json:"kind"`
	Action     string    `json:"action"`
	State      string    `json:"state"`
	Desired    string    `json:"desired_state"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to NATS with unlimited reconnects.
func NewPublisher(url string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("hostpanel-instance-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[events] NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

// PublishTransition publishes a transition for an instance.
func (p *Publisher) PublishTransition(ctx context.Context, inst *models.Instance, action string) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}

	payload, err := json.Marshal(TransitionEvent{
		InstanceID: inst.ID,
		OwnerID:    inst.OwnerID,
		Kind:       inst.Kind,
		Action:     action,
		State:      inst.State,
		Desired:    inst.DesiredState,
		OccurredAt: inst.LastTransitionAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.nc.Publish(subjectPrefix+inst.ID, payload)
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Noop is used when eventing is not configured.
type Noop struct{}

func (Noop) PublishTransition(ctx context.Context, inst *models.Instance, action string) error {
	return nil
}
