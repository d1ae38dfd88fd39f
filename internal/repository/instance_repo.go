package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

// InstanceRepository is the authoritative store of instance records.
// All state changes go through TransitionState, which enforces the
// expected-state guard at the row level: concurrent writers for the
// same instance serialize on the row, different instances never block
// each other.
type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

// Create inserts a new instance record.
func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	query := `
		INSERT INTO hostpanel.instances (
			id, owner_id, kind, name, state, desired_state,
			state_message, last_transition_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now(), now())
	`

	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.OwnerID, inst.Kind, inst.Name,
		inst.State, inst.DesiredState, inst.StateMessage,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	return nil
}

// GetByID retrieves an instance by id regardless of owner. Used by the
// synchronizer and runtime callbacks, never exposed to user requests.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `
		SELECT id, owner_id, kind, name, state, desired_state, state_message,
		       last_transition_at, created_at, updated_at, deleted_at
		FROM hostpanel.instances
		WHERE id = $1
	`

	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// GetOwned retrieves a non-deleted instance scoped to its owner. An
// unknown id and an ownership mismatch are indistinguishable to the
// caller: both are ErrNotFound.
func (r *InstanceRepository) GetOwned(ctx context.Context, id, ownerID string) (*models.Instance, error) {
	query := `
		SELECT id, owner_id, kind, name, state, desired_state, state_message,
		       last_transition_at, created_at, updated_at, deleted_at
		FROM hostpanel.instances
		WHERE id = $1 AND owner_id = $2 AND state != 'deleted'
	`

	return r.scanInstance(r.pool.QueryRow(ctx, query, id, ownerID))
}

// ListByOwner retrieves all non-deleted instances for an owner, most
// recently transitioned first, matching the dashboard's display order.
func (r *InstanceRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Instance, error) {
	query := `
		SELECT id, owner_id, kind, name, state, desired_state, state_message,
		       last_transition_at, created_at, updated_at, deleted_at
		FROM hostpanel.instances
		WHERE owner_id = $1 AND state != 'deleted'
		ORDER BY last_transition_at DESC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListInStates retrieves all instances currently in one of the given
// states, oldest transition first. Used by the synchronizer scan.
func (r *InstanceRepository) ListInStates(ctx context.Context, states []string) ([]*models.Instance, error) {
	query := `
		SELECT id, owner_id, kind, name, state, desired_state, state_message,
		       last_transition_at, created_at, updated_at, deleted_at
		FROM hostpanel.instances
		WHERE state = ANY($1)
		ORDER BY last_transition_at ASC
	`

	rows, err := r.pool.Query(ctx, query, states)
	if err != nil {
		return nil, fmt.Errorf("query instances by state: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// CountActiveByOwner counts an owner's non-deleted instances, for the
// per-owner quota check.
func (r *InstanceRepository) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM hostpanel.instances
		WHERE owner_id = $1 AND state != 'deleted'
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return count, nil
}

// TransitionState atomically moves an instance from one of the expected
// states to the target state, updating desired state, diagnostic
// message and the transition timestamp in the same statement. The
// returned bool is false when the instance was not in any expected
// state, i.e. this writer lost the race; the caller re-reads and
// resolves against the fresh state instead of overwriting it.
func (r *InstanceRepository) TransitionState(ctx context.Context, id string, from []string, to, desired string, message *string) (bool, error) {
	query := `
		UPDATE hostpanel.instances SET
			state = $3,
			desired_state = $4,
			state_message = $5,
			last_transition_at = now(),
			updated_at = now(),
			deleted_at = CASE WHEN $3 = 'deleted' THEN now() ELSE deleted_at END
		WHERE id = $1 AND state = ANY($2)
	`

	ct, err := r.pool.Exec(ctx, query, id, from, to, desired, message)
	if err != nil {
		return false, fmt.Errorf("transition instance state: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(
		&inst.ID, &inst.OwnerID, &inst.Kind, &inst.Name,
		&inst.State, &inst.DesiredState, &inst.StateMessage,
		&inst.LastTransitionAt, &inst.CreatedAt, &inst.UpdatedAt, &inst.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst := &models.Instance{}
		err := rows.Scan(
			&inst.ID, &inst.OwnerID, &inst.Kind, &inst.Name,
			&inst.State, &inst.DesiredState, &inst.StateMessage,
			&inst.LastTransitionAt, &inst.CreatedAt, &inst.UpdatedAt, &inst.DeletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
