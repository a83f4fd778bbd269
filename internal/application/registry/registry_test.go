package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"coordinator/internal/application/entity"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu          sync.Mutex
	registered  []uuid.UUID
	heartbeats  int
	deactivated []uuid.UUID
	live        []entity.ServiceInstance
}

func (f *fakeStore) RegisterInstance(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, id)
	return nil
}

func (f *fakeStore) Heartbeat(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeStore) DeactivateInstance(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeStore) ListActiveInstances(_ context.Context, _ time.Duration) ([]entity.ServiceInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.ServiceInstance(nil), f.live...), nil
}

func newTestRegistry(t *testing.T, store *fakeStore) *RegistryImpl {
	t.Helper()
	r, err := NewRegistry(store, zap.NewNop().Sugar(), 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegisterAndShutdown(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(t, store)

	ctx := context.Background()
	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(store.registered) != 1 || store.registered[0] != r.InstanceID() {
		t.Fatalf("registered: %v", store.registered)
	}
	if len(store.deactivated) != 1 || store.deactivated[0] != r.InstanceID() {
		t.Fatalf("deactivated: %v", store.deactivated)
	}
}

func TestHeartbeatLoopStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunHeartbeat(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}

	store.mu.Lock()
	beats := store.heartbeats
	store.mu.Unlock()
	if beats == 0 {
		t.Fatal("expected at least one heartbeat")
	}
}

func TestLiveAlwaysIncludesSelf(t *testing.T) {
	other, _ := uuid.NewV7()
	store := &fakeStore{live: []entity.ServiceInstance{
		{InstanceID: other, Active: true, Heartbeat: time.Now()},
	}}
	r := newTestRegistry(t, store)

	live, err := r.Live(context.Background())
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	foundSelf := false
	for _, id := range live {
		if id == r.InstanceID() {
			foundSelf = true
		}
	}
	if !foundSelf {
		t.Fatal("live set must include own instance id")
	}
	if len(live) != 2 {
		t.Fatalf("want 2 live instances, got %d", len(live))
	}

	// если свой id уже в списке - дублировать нельзя
	store.mu.Lock()
	store.live = append(store.live, entity.ServiceInstance{
		InstanceID: r.InstanceID(), Active: true, Heartbeat: time.Now(),
	})
	store.mu.Unlock()
	live, _ = r.Live(context.Background())
	if len(live) != 2 {
		t.Fatalf("self must not be duplicated, got %d", len(live))
	}
}
