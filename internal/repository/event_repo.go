package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Create creates a new instance event entry.
func (r *EventRepository) Create(ctx context.Context, event *models.InstanceEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO hostpanel.instance_events (id, instance_id, action, state, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.InstanceID, event.Action, event.State, event.Message, event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert instance event: %w", err)
	}

	return nil
}

// GetByInstanceID retrieves events for an instance, newest first.
func (r *EventRepository) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.InstanceEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, action, state, message, metadata, created_at
		FROM hostpanel.instance_events
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query instance events: %w", err)
	}
	defer rows.Close()

	var events []*models.InstanceEvent
	for rows.Next() {
		event := &models.InstanceEvent{}
		err := rows.Scan(
			&event.ID, &event.InstanceID, &event.Action, &event.State,
			&event.Message, &event.Metadata, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// LogAction is a helper to record an action against an instance.
func (r *EventRepository) LogAction(ctx context.Context, instanceID, action, state, message string) error {
	event := &models.InstanceEvent{
		InstanceID: instanceID,
		Action:     action,
		State:      state,
		Message:    message,
	}
	return r.Create(ctx, event)
}
