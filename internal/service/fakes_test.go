package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hostpanel/platform/instance-service/internal/client"
	"github.com/hostpanel/platform/instance-service/internal/models"
)

// memStore implements InstanceStore with the same expected-state guard
// semantics as the pgx repository.
type memStore struct {
	mu        sync.Mutex
	instances map[string]*models.Instance
}

func newMemStore() *memStore {
	return &memStore{instances: make(map[string]*models.Instance)}
}

func (m *memStore) Create(ctx context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *inst
	cp.LastTransitionAt = now
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.instances[inst.ID] = &cp
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) GetOwned(ctx context.Context, id, ownerID string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok || inst.OwnerID != ownerID || inst.State == models.StateDeleted {
		return nil, models.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Instance
	for _, inst := range m.instances {
		if inst.OwnerID == ownerID && inst.State != models.StateDeleted {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTransitionAt.After(out[j].LastTransitionAt)
	})
	return out, nil
}

func (m *memStore) ListInStates(ctx context.Context, states []string) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Instance
	for _, inst := range m.instances {
		for _, state := range states {
			if inst.State == state {
				cp := *inst
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTransitionAt.Before(out[j].LastTransitionAt)
	})
	return out, nil
}

func (m *memStore) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, inst := range m.instances {
		if inst.OwnerID == ownerID && inst.State != models.StateDeleted {
			count++
		}
	}
	return count, nil
}

func (m *memStore) TransitionState(ctx context.Context, id string, from []string, to, desired string, message *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return false, nil
	}

	matched := false
	for _, state := range from {
		if inst.State == state {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	now := time.Now()
	inst.State = to
	inst.DesiredState = desired
	inst.StateMessage = message
	inst.LastTransitionAt = now
	inst.UpdatedAt = now
	if to == models.StateDeleted && inst.DeletedAt == nil {
		inst.DeletedAt = &now
	}
	return true, nil
}

// setTransitionTime backdates an instance's last transition, for
// timeout and ordering tests.
func (m *memStore) setTransitionTime(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		inst.LastTransitionAt = at
	}
}

func (m *memStore) state(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst.State
	}
	return ""
}

func (m *memStore) message(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok && inst.StateMessage != nil {
		return *inst.StateMessage
	}
	return ""
}

// fakeEvents implements EventLog in memory.
type fakeEvents struct {
	mu     sync.Mutex
	events []*models.InstanceEvent
}

func (f *fakeEvents) LogAction(ctx context.Context, instanceID, action, state, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, &models.InstanceEvent{
		InstanceID: instanceID,
		Action:     action,
		State:      state,
		Message:    message,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (f *fakeEvents) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.InstanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.InstanceEvent
	for i := len(f.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f.events[i].InstanceID == instanceID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

// fakeRuntime implements Runtime with scripted statuses and recorded
// calls.
type fakeRuntime struct {
	mu           sync.Mutex
	status       map[string]string
	statusErr    error
	startErr     error
	stopErr      error
	releaseErr   error
	startCalls   []string
	stopCalls    []string
	releaseCalls []string
	releaseGate  chan struct{}
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{status: make(map[string]string)}
}

func (f *fakeRuntime) RequestStart(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, instanceID)
	return f.startErr
}

func (f *fakeRuntime) RequestStop(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, instanceID)
	return f.stopErr
}

func (f *fakeRuntime) Release(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	gate := f.releaseGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls = append(f.releaseCalls, instanceID)
	return f.releaseErr
}

// holdRelease makes Release block until gate is closed.
func (f *fakeRuntime) holdRelease(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseGate = gate
}

func (f *fakeRuntime) QueryStatus(ctx context.Context, instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return client.StatusUnknown, f.statusErr
	}
	if status, ok := f.status[instanceID]; ok {
		return status, nil
	}
	return client.StatusAbsent, nil
}

func (f *fakeRuntime) setStatus(instanceID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[instanceID] = status
}

func (f *fakeRuntime) stopCount(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, id := range f.stopCalls {
		if id == instanceID {
			count++
		}
	}
	return count
}

func (f *fakeRuntime) startCount(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, id := range f.startCalls {
		if id == instanceID {
			count++
		}
	}
	return count
}

func (f *fakeRuntime) releaseCount(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, id := range f.releaseCalls {
		if id == instanceID {
			count++
		}
	}
	return count
}

// noopPublisher implements TransitionPublisher.
type noopPublisher struct{}

func (noopPublisher) PublishTransition(ctx context.Context, inst *models.Instance, action string) error {
	return nil
}
