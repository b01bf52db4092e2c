package cache

import (
	"context"
	"sync"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
)

// MemoryPendingState keeps handshakes in process. It is used when neither
// Redis nor MySQL is configured, so states do not survive a restart and are
// not shared between instances.
type MemoryPendingState struct {
	mu     sync.Mutex
	states map[string]model.PendingAuthState
	now    func() time.Time
}

func NewMemoryPendingState() repository.IPendingState {
	return &MemoryPendingState{states: map[string]model.PendingAuthState{}, now: time.Now}
}

func (m *MemoryPendingState) Save(_ context.Context, state *model.PendingAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.State] = *state
	return nil
}

func (m *MemoryPendingState) Consume(_ context.Context, state string) (*model.PendingAuthState, error) {
	m.mu.Lock()
	found, ok := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()

	if !ok || found.Expired(m.now()) {
		return nil, nil
	}
	return &found, nil
}

func (m *MemoryPendingState) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, s := range m.states {
		if s.Expired(now) {
			delete(m.states, key)
			n++
		}
	}
	return n, nil
}
