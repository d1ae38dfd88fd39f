package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hostpanel/platform/instance-service/internal/client"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

func newTestSync(t *testing.T) (*SyncService, *memStore, *fakeRuntime) {
	t.Helper()

	store := newMemStore()
	runtime := newFakeRuntime()
	svc := NewSyncService(testConfig(), store, &fakeEvents{}, runtime, noopPublisher{})
	return svc, store, runtime
}

// seed inserts an instance directly in the given state.
func seed(t *testing.T, store *memStore, id, state, desired string) {
	t.Helper()
	err := store.Create(context.Background(), &models.Instance{
		ID:           id,
		OwnerID:      testOwner,
		Kind:         models.KindMinecraftServer,
		Name:         id,
		State:        state,
		DesiredState: desired,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSyncStartingConfirmedUp(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStarting, models.DesiredRunning)
	runtime.setStatus("i1", client.StatusUp)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateRunning {
		t.Errorf("state = %q, want running", got)
	}
}

func TestSyncStartingRuntimeError(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStarting, models.DesiredRunning)
	runtime.setStatus("i1", client.StatusError)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateFailed {
		t.Errorf("state = %q, want failed", got)
	}
	if store.message("i1") == "" {
		t.Error("failed instance has no diagnostic message")
	}
}

func TestSyncStartingTimeout(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStarting, models.DesiredRunning)
	runtime.setStatus("i1", client.StatusBooting)
	store.setTransitionTime("i1", time.Now().Add(-3*time.Minute))

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateFailed {
		t.Errorf("state = %q, want failed after timeout", got)
	}
	if store.message("i1") == "" {
		t.Error("timeout diagnostic is empty")
	}
}

func TestSyncStartingStillBooting(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStarting, models.DesiredRunning)
	runtime.setStatus("i1", client.StatusBooting)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateStarting {
		t.Errorf("state = %q, want starting while within timeout", got)
	}
}

func TestSyncStoppingConfirmedDown(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopping, models.DesiredStopped)
	runtime.setStatus("i1", client.StatusDown)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateStopped {
		t.Errorf("state = %q, want stopped", got)
	}
}

func TestSyncStoppingTimeoutForcedStopped(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopping, models.DesiredStopped)
	runtime.setStatus("i1", client.StatusUp)
	store.setTransitionTime("i1", time.Now().Add(-3*time.Minute))

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateStopped {
		t.Errorf("state = %q, want stopped after forced timeout", got)
	}
	if !strings.Contains(store.message("i1"), "forcing stopped") {
		t.Errorf("diagnostic = %q, want forced-stop explanation", store.message("i1"))
	}
}

func TestSyncFinalizesInterruptedDelete(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopping, models.DesiredDeleted)
	runtime.setStatus("i1", client.StatusDown)

	svc.ReconcileAll(context.Background())

	// The delete intent is durable in desired state: the reconcile
	// loop retires the record even though no teardown goroutine is
	// alive to do it.
	if got := store.state("i1"); got != models.StateDeleted {
		t.Errorf("state = %q, want deleted", got)
	}
	if runtime.releaseCount("i1") != 1 {
		t.Errorf("release issued %d times, want 1", runtime.releaseCount("i1"))
	}
}

func TestSyncDeleteRetriesFailedRelease(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopping, models.DesiredDeleted)
	runtime.setStatus("i1", client.StatusDown)
	runtime.releaseErr = errors.New("connection refused")

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateStopping {
		t.Fatalf("state = %q after failed release, want stopping", got)
	}

	runtime.releaseErr = nil
	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateDeleted {
		t.Errorf("state = %q after release recovered, want deleted", got)
	}
}

func TestSyncFinishesDeleteFromStopped(t *testing.T) {
	// Teardown interrupted right after the stop confirmed: the record
	// is stopped but still carries the delete intent.
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopped, models.DesiredDeleted)
	runtime.setStatus("i1", client.StatusAbsent)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateDeleted {
		t.Errorf("state = %q, want deleted", got)
	}
	if runtime.releaseCount("i1") != 1 {
		t.Errorf("release issued %d times, want 1", runtime.releaseCount("i1"))
	}
}

func TestSyncRunningUnexpectedTermination(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateRunning, models.DesiredRunning)
	runtime.setStatus("i1", client.StatusAbsent)

	svc.ReconcileAll(context.Background())

	// Failed, not stopped: stopped implies a deliberate owner action.
	if got := store.state("i1"); got != models.StateFailed {
		t.Errorf("state = %q, want failed", got)
	}
	if !strings.Contains(store.message("i1"), "unexpected termination") {
		t.Errorf("diagnostic = %q, want unexpected termination", store.message("i1"))
	}
}

func TestSyncUnknownStatusIsNoop(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateRunning, models.DesiredRunning)
	seed(t, store, "i2", models.StateStopping, models.DesiredStopped)
	runtime.statusErr = &models.RuntimeUnavailableError{Cause: errors.New("connection refused")}

	svc.ReconcileAll(context.Background())

	// An unreachable runtime is "no information", never a failure.
	if got := store.state("i1"); got != models.StateRunning {
		t.Errorf("running state = %q after unknown status, want running", got)
	}
	if got := store.state("i2"); got != models.StateStopping {
		t.Errorf("stopping state = %q after unknown status, want stopping", got)
	}
}

func TestSyncStoppedExternalStart(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateStopped, models.DesiredStopped)
	runtime.setStatus("i1", client.StatusUp)

	svc.ReconcileAll(context.Background())

	// Stopped -> running is not a legal transition: the drift is
	// surfaced as failed with a diagnostic and the stop re-issued.
	if got := store.state("i1"); got != models.StateFailed {
		t.Errorf("state = %q, want failed", got)
	}
	if store.message("i1") == "" {
		t.Error("drift diagnostic is empty")
	}
	if runtime.stopCount("i1") != 1 {
		t.Errorf("corrective stop issued %d times, want 1", runtime.stopCount("i1"))
	}
}

func TestSyncNeverTouchesSteadyStates(t *testing.T) {
	svc, store, runtime := newTestSync(t)
	seed(t, store, "i1", models.StateRunning, models.DesiredRunning)
	seed(t, store, "i2", models.StateStopped, models.DesiredStopped)
	runtime.setStatus("i1", client.StatusUp)
	runtime.setStatus("i2", client.StatusDown)

	svc.ReconcileAll(context.Background())

	if got := store.state("i1"); got != models.StateRunning {
		t.Errorf("healthy running instance moved to %q", got)
	}
	if got := store.state("i2"); got != models.StateStopped {
		t.Errorf("healthy stopped instance moved to %q", got)
	}
}

func TestObserve(t *testing.T) {
	svc, store, _ := newTestSync(t)
	seed(t, store, "i1", models.StateStarting, models.DesiredRunning)

	if err := svc.Observe(context.Background(), "i1", client.StatusUp); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if got := store.state("i1"); got != models.StateRunning {
		t.Errorf("state = %q after observed up, want running", got)
	}
}

func TestObserveDeletedInstance(t *testing.T) {
	svc, store, _ := newTestSync(t)
	seed(t, store, "i1", models.StateDeleted, models.DesiredStopped)

	err := svc.Observe(context.Background(), "i1", client.StatusUp)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for a deleted instance", err)
	}
}

func TestObserveUnknownInstance(t *testing.T) {
	svc, _, _ := newTestSync(t)

	err := svc.Observe(context.Background(), "nope", client.StatusUp)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _, _ := newTestSync(t)
	svc.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer did not stop on context cancel")
	}
}
