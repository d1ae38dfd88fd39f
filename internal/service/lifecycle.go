package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostpanel/platform/instance-service/internal/config"
	"github.com/hostpanel/platform/instance-service/internal/metrics"
	"github.com/hostpanel/platform/instance-service/internal/models"
	"github.com/hostpanel/platform/instance-service/internal/policy"
)

// InstanceStore is the authoritative record of instances. Implemented
// by repository.InstanceRepository; tests use an in-memory store with
// the same compare-and-swap semantics.
type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	GetOwned(ctx context.Context, id, ownerID string) (*models.Instance, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Instance, error)
	ListInStates(ctx context.Context, states []string) ([]*models.Instance, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	TransitionState(ctx context.Context, id string, from []string, to, desired string, message *string) (bool, error)
}

// EventLog records the per-instance audit trail.
type EventLog interface {
	LogAction(ctx context.Context, instanceID, action, state, message string) error
	GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.InstanceEvent, error)
}

// Runtime is the process runtime collaborator that actually boots and
// halts workloads. All calls are fallible and possibly slow; a
// non-response means "unknown", not "failed".
type Runtime interface {
	RequestStart(ctx context.Context, instanceID string) error
	RequestStop(ctx context.Context, instanceID string) error
	Release(ctx context.Context, instanceID string) error
	QueryStatus(ctx context.Context, instanceID string) (string, error)
}

// TransitionPublisher broadcasts committed transitions. Best-effort.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, inst *models.Instance, action string) error
}

// LifecycleService is the single authority permitted to change an
// instance's state. Every transition goes through the store's
// expected-state guard, so two concurrent commands on the same
// instance resolve deterministically: the loser observes the fresh
// state instead of corrupting it.
type LifecycleService struct {
	store     InstanceStore
	events    EventLog
	runtime   Runtime
	publisher TransitionPublisher
	window    policy.AccessWindow
	loc       *time.Location
	quota     int
	now       func() time.Time

	releaseBackoff time.Duration
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(
	cfg *config.Config,
	store InstanceStore,
	events EventLog,
	runtime Runtime,
	publisher TransitionPublisher,
) (*LifecycleService, error) {
	loc, err := cfg.Window.Location()
	if err != nil {
		return nil, fmt.Errorf("load window timezone: %w", err)
	}

	return &LifecycleService{
		store:     store,
		events:    events,
		runtime:   runtime,
		publisher: publisher,
		window:    policy.AccessWindow{StartHour: cfg.Window.StartHour, EndHour: cfg.Window.EndHour},
		loc:       loc,
		quota:     cfg.Quota.MaxInstancesPerOwner,
		now:       time.Now,

		releaseBackoff: time.Second,
	}, nil
}

// Window returns the configured access window.
func (s *LifecycleService) Window() policy.AccessWindow {
	return s.window
}

// Location returns the timezone the window is evaluated in.
func (s *LifecycleService) Location() *time.Location {
	return s.loc
}

// StartAllowed reports whether a start would be permitted right now.
// Recomputed per call; the result must never be cached across the
// window boundary.
func (s *LifecycleService) StartAllowed() bool {
	return s.window.Contains(s.now().In(s.loc))
}

// Create validates the request, enforces the per-owner quota and
// records a new instance in state created. The instance is not started.
func (s *LifecycleService) Create(ctx context.Context, ownerID string, req *models.CreateInstanceRequest) (*models.Instance, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		metrics.CommandsTotal.WithLabelValues("create", "validation_error").Inc()
		return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(name) > 64 {
		metrics.CommandsTotal.WithLabelValues("create", "validation_error").Inc()
		return nil, &models.ValidationError{Field: "name", Reason: "must be at most 64 characters"}
	}
	if !models.ValidKind(req.Kind) {
		metrics.CommandsTotal.WithLabelValues("create", "validation_error").Inc()
		return nil, &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", req.Kind)}
	}

	count, err := s.store.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("count instances: %w", err)
	}
	if count >= s.quota {
		metrics.CommandsTotal.WithLabelValues("create", "validation_error").Inc()
		return nil, &models.ValidationError{Reason: fmt.Sprintf("instance quota reached (%d)", s.quota)}
	}

	inst := &models.Instance{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Kind:         req.Kind,
		Name:         name,
		State:        models.StateCreated,
		DesiredState: models.DesiredStopped,
	}

	if err := s.store.Create(ctx, inst); err != nil {
		metrics.CommandsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("create instance: %w", err)
	}

	s.logEvent(ctx, inst.ID, "created", models.StateCreated,
		fmt.Sprintf("Instance %q (%s) created", name, req.Kind))
	metrics.CommandsTotal.WithLabelValues("create", "ok").Inc()

	created, err := s.store.GetByID(ctx, inst.ID)
	if err != nil {
		return inst, nil
	}
	s.publish(ctx, created, "created")

	log.Printf("[Lifecycle] Created instance %s (owner=%s, kind=%s)", inst.ID, ownerID, req.Kind)
	return created, nil
}

// Start moves an instance to starting and asks the runtime to boot it.
// Gated by the access window at invocation time; the client-side clock
// is a hint only, this check is authoritative. Returns once the
// starting transition is durably recorded.
func (s *LifecycleService) Start(ctx context.Context, id, ownerID string) (*models.Instance, error) {
	inst, err := s.store.GetOwned(ctx, id, ownerID)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("start", "not_found").Inc()
		return nil, err
	}

	if !s.window.Contains(s.now().In(s.loc)) {
		metrics.CommandsTotal.WithLabelValues("start", "window_restricted").Inc()
		metrics.WindowRejectionsTotal.Inc()
		s.logEvent(ctx, inst.ID, "start_rejected", inst.State,
			fmt.Sprintf("Start rejected: outside access window %s", s.window))
		return nil, &models.WindowRestrictedError{StartHour: s.window.StartHour, EndHour: s.window.EndHour}
	}

	updated, ok, err := s.transition(ctx, id, models.StartableStates, models.StateStarting, models.DesiredRunning, nil, "start_requested", "Start requested")
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("start", "error").Inc()
		return nil, err
	}
	if !ok {
		metrics.CommandsTotal.WithLabelValues("start", "invalid_state").Inc()
		return nil, s.loserError(ctx, id, ownerID, "start")
	}

	metrics.CommandsTotal.WithLabelValues("start", "ok").Inc()
	go s.dispatchStart(id)

	return updated, nil
}

// Stop moves an instance to stopping and asks the runtime to halt it.
// Never gated by the access window: operators must always be able to
// stop a running instance.
func (s *LifecycleService) Stop(ctx context.Context, id, ownerID string) (*models.Instance, error) {
	if _, err := s.store.GetOwned(ctx, id, ownerID); err != nil {
		metrics.CommandsTotal.WithLabelValues("stop", "not_found").Inc()
		return nil, err
	}

	updated, ok, err := s.transition(ctx, id, models.StoppableStates, models.StateStopping, models.DesiredStopped, nil, "stop_requested", "Stop requested")
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("stop", "error").Inc()
		return nil, err
	}
	if !ok {
		metrics.CommandsTotal.WithLabelValues("stop", "invalid_state").Inc()
		return nil, s.loserError(ctx, id, ownerID, "stop")
	}

	metrics.CommandsTotal.WithLabelValues("stop", "ok").Inc()
	go s.dispatchStop(id)

	return updated, nil
}

// Delete retires an instance from any non-deleted state. A starting or
// running instance is implicitly stopped first and marked deleted once
// the runtime confirms teardown; otherwise deletion is immediate.
// Deleted instances are terminal and excluded from all further
// commands and listings.
func (s *LifecycleService) Delete(ctx context.Context, id, ownerID string) error {
	inst, err := s.store.GetOwned(ctx, id, ownerID)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("delete", "not_found").Inc()
		return err
	}

	switch inst.State {
	case models.StateStarting, models.StateRunning:
		// Desired deleted is the durable record of this delete: if the
		// teardown goroutine dies the synchronizer finishes the job.
		msg := "delete requested"
		_, ok, err := s.transition(ctx, id,
			[]string{models.StateStarting, models.StateRunning},
			models.StateStopping, models.DesiredDeleted, &msg,
			"delete_requested", "Delete requested, stopping workload first")
		if err != nil {
			metrics.CommandsTotal.WithLabelValues("delete", "error").Inc()
			return err
		}
		if !ok {
			metrics.CommandsTotal.WithLabelValues("delete", "invalid_state").Inc()
			return s.loserError(ctx, id, ownerID, "delete")
		}
		metrics.CommandsTotal.WithLabelValues("delete", "ok").Inc()
		go s.teardown(id, true)
		return nil

	case models.StateStopping:
		// A stop is already in flight; record the delete intent and let
		// the synchronizer retire the instance once the halt confirms.
		_, ok, err := s.transition(ctx, id,
			[]string{models.StateStopping},
			models.StateStopping, models.DesiredDeleted, nil,
			"delete_requested", "Delete requested, teardown already in progress")
		if err != nil {
			metrics.CommandsTotal.WithLabelValues("delete", "error").Inc()
			return err
		}
		if !ok {
			metrics.CommandsTotal.WithLabelValues("delete", "invalid_state").Inc()
			return s.loserError(ctx, id, ownerID, "delete")
		}
		metrics.CommandsTotal.WithLabelValues("delete", "ok").Inc()
		return nil

	default:
		// created, stopped, failed: no running workload to halt, retire
		// the record directly.
		_, ok, err := s.transition(ctx, id,
			[]string{models.StateCreated, models.StateStopped, models.StateFailed},
			models.StateDeleted, models.DesiredStopped, nil,
			"deleted", "Instance deleted")
		if err != nil {
			metrics.CommandsTotal.WithLabelValues("delete", "error").Inc()
			return err
		}
		if !ok {
			metrics.CommandsTotal.WithLabelValues("delete", "invalid_state").Inc()
			return s.loserError(ctx, id, ownerID, "delete")
		}
		metrics.CommandsTotal.WithLabelValues("delete", "ok").Inc()
		go s.release(id)
		return nil
	}
}

// List returns all non-deleted instances owned by ownerID, most
// recently transitioned first.
func (s *LifecycleService) List(ctx context.Context, ownerID string) ([]*models.Instance, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Get returns a single owned instance.
func (s *LifecycleService) Get(ctx context.Context, id, ownerID string) (*models.Instance, error) {
	return s.store.GetOwned(ctx, id, ownerID)
}

// Events returns the audit trail for an owned instance, newest first.
func (s *LifecycleService) Events(ctx context.Context, id, ownerID string, limit int) ([]*models.InstanceEvent, error) {
	if _, err := s.store.GetOwned(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return s.events.GetByInstanceID(ctx, id, limit)
}

// ==================== async runtime dispatch ====================

// dispatchStart issues the boot request recorded by Start. A dispatch
// failure is resolved through the same guard as every other
// transition: starting -> failed with a diagnostic.
func (s *LifecycleService) dispatchStart(id string) {
	ctx := context.Background()

	if err := s.runtime.RequestStart(ctx, id); err != nil {
		log.Printf("[Lifecycle] Start dispatch failed for %s: %v", id, err)
		msg := fmt.Sprintf("runtime start request failed: %v", err)
		if _, ok, terr := s.transition(ctx, id,
			[]string{models.StateStarting}, models.StateFailed, models.DesiredRunning, &msg,
			"start_dispatch_failed", msg); terr != nil || !ok {
			log.Printf("[Lifecycle] Could not mark %s failed after dispatch error (ok=%v, err=%v)", id, ok, terr)
		}
	}
}

// dispatchStop issues the halt request recorded by Stop. Dispatch
// failures are left to the synchronizer's transient timeout, which
// forces stopping -> stopped if no confirmation ever arrives.
func (s *LifecycleService) dispatchStop(id string) {
	ctx := context.Background()

	if err := s.runtime.RequestStop(ctx, id); err != nil {
		log.Printf("[Lifecycle] Stop dispatch failed for %s: %v", id, err)
		s.logEvent(ctx, id, "stop_dispatch_failed", models.StateStopping,
			fmt.Sprintf("runtime stop request failed: %v", err))
	}
}

// teardown halts the workload, releases runtime resources and marks
// the instance deleted once the runtime confirms.
func (s *LifecycleService) teardown(id string, stopFirst bool) {
	ctx := context.Background()

	if stopFirst {
		if err := s.runtime.RequestStop(ctx, id); err != nil {
			log.Printf("[Lifecycle] Teardown stop failed for %s: %v", id, err)
		}
	}

	if !s.releaseWithRetry(ctx, id) {
		// The delete intent is durable in desired_state; the
		// synchronizer retries the release and finishes the delete.
		log.Printf("[Lifecycle] Teardown release failed for %s, delete deferred to synchronizer", id)
		s.logEvent(ctx, id, "delete_release_failed", models.StateStopping,
			"runtime did not confirm teardown; delete will be retried")
		return
	}

	// The runtime's halt confirmation may have moved the record to
	// stopped while the release was in flight; both states finalize.
	if _, ok, err := s.transition(ctx, id,
		[]string{models.StateStopping, models.StateStopped}, models.StateDeleted, models.DesiredStopped, nil,
		"deleted", "Instance deleted after teardown"); err != nil || !ok {
		log.Printf("[Lifecycle] Could not finalize delete for %s (ok=%v, err=%v)", id, ok, err)
	}
}

// release frees runtime resources for an already-deleted record.
func (s *LifecycleService) release(id string) {
	ctx := context.Background()
	if !s.releaseWithRetry(ctx, id) {
		log.Printf("[Lifecycle] Resource release failed for deleted instance %s", id)
	}
}

func (s *LifecycleService) releaseWithRetry(ctx context.Context, id string) bool {
	backoff := s.releaseBackoff
	for attempt := 1; ; attempt++ {
		err := s.runtime.Release(ctx, id)
		if err == nil {
			return true
		}
		log.Printf("[Lifecycle] Release attempt %d failed for %s: %v", attempt, id, err)
		if attempt == 3 {
			return false
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

// ==================== helpers ====================

// transition commits a guarded state change and records the audit
// trail, metrics and transition event for it. ok=false means the guard
// lost a race and nothing was changed.
func (s *LifecycleService) transition(ctx context.Context, id string, from []string, to, desired string, message *string, action, eventMessage string) (*models.Instance, bool, error) {
	ok, err := s.store.TransitionState(ctx, id, from, to, desired, message)
	if err != nil {
		return nil, false, fmt.Errorf("transition to %s: %w", to, err)
	}
	if !ok {
		return nil, false, nil
	}

	s.logEvent(ctx, id, action, to, eventMessage)

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		log.Printf("[Lifecycle] Read-back after transition failed for %s: %v", id, err)
		return nil, true, nil
	}

	metrics.TransitionsTotal.WithLabelValues(to).Inc()
	s.publish(ctx, updated, action)
	return updated, true, nil
}

// loserError maps a lost transition race to the error the caller
// should see: the refreshed current state, or not found if the
// instance was deleted underneath the command.
func (s *LifecycleService) loserError(ctx context.Context, id, ownerID, requested string) error {
	current, err := s.store.GetOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	return &models.InvalidStateError{Current: current.State, Requested: requested}
}

func (s *LifecycleService) logEvent(ctx context.Context, instanceID, action, state, message string) {
	if err := s.events.LogAction(ctx, instanceID, action, state, message); err != nil {
		log.Printf("[Lifecycle] Failed to record event %s for %s: %v", action, instanceID, err)
	}
}

func (s *LifecycleService) publish(ctx context.Context, inst *models.Instance, action string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransition(ctx, inst, action); err != nil {
		log.Printf("[Lifecycle] Failed to publish transition %s for %s: %v", action, inst.ID, err)
	}
}
