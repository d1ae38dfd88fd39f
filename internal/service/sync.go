package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hostpanel/platform/instance-service/internal/client"
	"github.com/hostpanel/platform/instance-service/internal/config"
	"github.com/hostpanel/platform/instance-service/internal/metrics"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

// watchedStates are the states the synchronizer reconciles: the two
// transients plus the steady states where a crash or external stop can
// go unnoticed.
var watchedStates = []string{
	models.StateStarting,
	models.StateStopping,
	models.StateRunning,
	models.StateStopped,
}

// SyncService periodically reconciles recorded instance state with the
// runtime's real status. Corrections go through the same transition
// guard as owner commands; the synchronizer never force-writes a state
// it could not legally reach. An illegal observed transition is logged
// and resolved to failed with a diagnostic instead.
type SyncService struct {
	store     InstanceStore
	events    EventLog
	runtime   Runtime
	publisher TransitionPublisher
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// NewSyncService creates a new status synchronizer.
func NewSyncService(cfg *config.Config, store InstanceStore, events EventLog, runtime Runtime, publisher TransitionPublisher) *SyncService {
	return &SyncService{
		store:     store,
		events:    events,
		runtime:   runtime,
		publisher: publisher,
		interval:  cfg.Sync.Interval,
		timeout:   cfg.Sync.TransientTimeout,
		now:       time.Now,
	}
}

// Run reconciles on a fixed interval until ctx is cancelled.
func (s *SyncService) Run(ctx context.Context) {
	log.Printf("[Sync] Synchronizer running (interval=%v, transient timeout=%v)", s.interval, s.timeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Sync] Synchronizer stopped")
			return
		case <-ticker.C:
			s.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll runs one reconcile pass over every watched instance.
func (s *SyncService) ReconcileAll(ctx context.Context) {
	metrics.SyncRunsTotal.Inc()

	instances, err := s.store.ListInStates(ctx, watchedStates)
	if err != nil {
		log.Printf("[Sync] Failed to list instances: %v", err)
		return
	}

	for _, inst := range instances {
		status, err := s.runtime.QueryStatus(ctx, inst.ID)
		if err != nil {
			// Unreachable runtime means no information; retried on the
			// next pass, never treated as a workload failure.
			metrics.SyncErrorsTotal.Inc()
			log.Printf("[Sync] Status query failed for %s: %v", inst.ID, err)
			status = client.StatusUnknown
		}
		s.reconcile(ctx, inst, status)
	}
}

// Observe applies a single runtime-reported status, used by the
// runtime's push callback as a faster path than the poll loop. The
// instance must exist; the same reconcile rules apply.
func (s *SyncService) Observe(ctx context.Context, instanceID, status string) error {
	inst, err := s.store.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.State == models.StateDeleted {
		// Deleted records are gone from every surface; a late callback
		// sees the same not-found as any other caller.
		return models.ErrNotFound
	}
	s.reconcile(ctx, inst, status)
	return nil
}

// reconcile resolves one instance against one observed runtime status.
func (s *SyncService) reconcile(ctx context.Context, inst *models.Instance, status string) {
	age := s.now().Sub(inst.LastTransitionAt)

	switch inst.State {
	case models.StateStarting:
		switch status {
		case client.StatusUp:
			s.correct(ctx, inst, models.StateRunning, inst.DesiredState, nil,
				"start_confirmed", "Runtime confirmed workload is up")
		case client.StatusError:
			msg := "runtime reported an error while starting"
			s.correct(ctx, inst, models.StateFailed, inst.DesiredState, &msg, "start_failed", msg)
		default:
			// booting, down, absent, unknown: keep waiting, bounded by
			// the transient timeout.
			if age > s.timeout {
				msg := fmt.Sprintf("start not confirmed within %v (last runtime status: %s)", s.timeout, status)
				s.correct(ctx, inst, models.StateFailed, inst.DesiredState, &msg, "start_timeout", msg)
			}
		}

	case models.StateStopping:
		switch status {
		case client.StatusDown, client.StatusAbsent:
			if inst.DesiredState == models.DesiredDeleted {
				s.finalizeDelete(ctx, inst, status)
				return
			}
			s.correct(ctx, inst, models.StateStopped, models.DesiredStopped, nil,
				"stop_confirmed", "Runtime confirmed workload is down")
		case client.StatusError:
			if inst.DesiredState == models.DesiredDeleted {
				s.finalizeDelete(ctx, inst, status)
				return
			}
			msg := "runtime reported an error while stopping"
			s.correct(ctx, inst, models.StateFailed, models.DesiredStopped, &msg, "stop_failed", msg)
		default:
			if age > s.timeout {
				if inst.DesiredState == models.DesiredDeleted {
					s.finalizeDelete(ctx, inst, status)
					return
				}
				msg := fmt.Sprintf("stop not confirmed within %v, forcing stopped (last runtime status: %s)", s.timeout, status)
				s.correct(ctx, inst, models.StateStopped, models.DesiredStopped, &msg, "stop_timeout", msg)
			}
		}

	case models.StateRunning:
		switch status {
		case client.StatusAbsent, client.StatusDown, client.StatusError:
			// The workload died without an owner command: failed, not
			// stopped, so the dashboard shows it was not deliberate.
			metrics.DriftTotal.WithLabelValues("unexpected_termination").Inc()
			msg := fmt.Sprintf("unexpected termination: runtime reports %s for a running instance", status)
			s.correct(ctx, inst, models.StateFailed, inst.DesiredState, &msg, "unexpected_termination", msg)
		}

	case models.StateStopped:
		if inst.DesiredState == models.DesiredDeleted {
			// A delete whose teardown was interrupted after the stop
			// confirmed; finish retiring the record here.
			switch status {
			case client.StatusUp, client.StatusBooting:
				if err := s.runtime.RequestStop(ctx, inst.ID); err != nil {
					log.Printf("[Sync] Corrective stop failed for %s: %v", inst.ID, err)
				}
			default:
				s.finalizeDelete(ctx, inst, status)
			}
			return
		}
		switch status {
		case client.StatusUp, client.StatusBooting:
			// Stopped -> running is not a legal transition, so this is
			// drift from outside the control plane. Mark failed with a
			// diagnostic and re-issue the stop the owner asked for.
			metrics.DriftTotal.WithLabelValues("external_start").Inc()
			msg := fmt.Sprintf("runtime reports %s for a stopped instance; re-issuing stop", status)
			s.correct(ctx, inst, models.StateFailed, models.DesiredStopped, &msg, "external_start_detected", msg)
			if err := s.runtime.RequestStop(ctx, inst.ID); err != nil {
				log.Printf("[Sync] Corrective stop failed for %s: %v", inst.ID, err)
			}
		}
	}
}

// finalizeDelete finishes an interrupted delete: the owner's intent is
// durable in desired_state, so the release and the final transition
// are retried on every pass until both land.
func (s *SyncService) finalizeDelete(ctx context.Context, inst *models.Instance, status string) {
	if err := s.runtime.Release(ctx, inst.ID); err != nil {
		log.Printf("[Sync] Release failed for %s, delete retried next pass: %v", inst.ID, err)
		return
	}
	s.correct(ctx, inst, models.StateDeleted, models.DesiredStopped, nil,
		"deleted", fmt.Sprintf("Instance deleted after teardown (runtime status: %s)", status))
}

// correct commits one drift correction through the transition guard.
// A guard miss means a command changed the instance concurrently; the
// correction is dropped and the next pass re-evaluates fresh state.
func (s *SyncService) correct(ctx context.Context, inst *models.Instance, to, desired string, message *string, action, eventMessage string) {
	ok, err := s.store.TransitionState(ctx, inst.ID, []string{inst.State}, to, desired, message)
	if err != nil {
		log.Printf("[Sync] Transition %s -> %s failed for %s: %v", inst.State, to, inst.ID, err)
		return
	}
	if !ok {
		log.Printf("[Sync] Skipped correction for %s: state changed concurrently (was %s)", inst.ID, inst.State)
		return
	}

	log.Printf("[Sync] Corrected %s: %s -> %s (%s)", inst.ID, inst.State, to, eventMessage)
	metrics.TransitionsTotal.WithLabelValues(to).Inc()

	if err := s.events.LogAction(ctx, inst.ID, action, to, eventMessage); err != nil {
		log.Printf("[Sync] Failed to record event %s for %s: %v", action, inst.ID, err)
	}

	if s.publisher != nil {
		updated, err := s.store.GetByID(ctx, inst.ID)
		if err == nil {
			if perr := s.publisher.PublishTransition(ctx, updated, action); perr != nil {
				log.Printf("[Sync] Failed to publish transition %s for %s: %v", action, inst.ID, perr)
			}
		}
	}
}
