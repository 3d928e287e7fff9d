package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("call not found")

type entry struct {
	call   Call
	cancel context.CancelFunc
}

// Manager tracks the calls currently connected to this process. It is a
// read model for the HTTP surface; each orchestrator session owns its own
// state and reports changes here.
type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*entry
	byCallSID         map[string]string
	inactivityTimeout time.Duration
	onExpire          func(Call)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*entry),
		byCallSID:         make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a connection that has not yet received its start event.
// cancel is invoked if the janitor expires the call.
func (m *Manager) Create(cancel context.CancelFunc) Call {
	now := time.Now().UTC()
	e := &entry{
		call: Call{
			ID:             uuid.NewString(),
			State:          StateAwaitingStart,
			StartedAt:      now,
			LastActivityAt: now,
		},
		cancel: cancel,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[e.call.ID] = e
	return e.call
}

func (m *Manager) Get(id string) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return e.call, nil
}

func (m *Manager) GetByCallSID(callSID string) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCallSID[callSID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return m.calls[id].call, nil
}

// Attach records the transport identifiers delivered by the start event.
func (m *Manager) Attach(id, streamSID, callSID, accountSID string) error {
	return m.update(id, func(c *Call) {
		c.StreamSID = streamSID
		c.CallSID = callSID
		c.AccountSID = accountSID
		c.State = StateActive
		if callSID != "" {
			m.byCallSID[callSID] = id
		}
	})
}

func (m *Manager) SetState(id string, state State) error {
	return m.update(id, func(c *Call) { c.State = state })
}

func (m *Manager) SetUserTurns(id string, n int) error {
	return m.update(id, func(c *Call) { c.UserTurns = n })
}

func (m *Manager) Touch(id string) error {
	return m.update(id, func(*Call) {})
}

func (m *Manager) update(id string, fn func(*Call)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	fn(&e.call)
	e.call.LastActivityAt = time.Now().UTC()
	return nil
}

// End removes the call and returns its final view.
func (m *Manager) End(id string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	delete(m.calls, id)
	if e.call.CallSID != "" {
		delete(m.byCallSID, e.call.CallSID)
	}
	e.call.State = StateTerminated
	e.call.LastActivityAt = time.Now().UTC()
	return e.call, nil
}

// List returns connected calls, oldest first.
func (m *Manager) List() []Call {
	m.mu.RLock()
	out := make([]Call, 0, len(m.calls))
	for _, e := range m.calls {
		out = append(out, e.call)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.calls {
		if e.call.State == StateActive || e.call.State == StateAwaitingFarewell {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// expireInactive cancels connections that have gone silent. The owning
// session still calls End when it unwinds.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var (
		expired []Call
		cancels []context.CancelFunc
	)

	m.mu.Lock()
	for _, e := range m.calls {
		if now.Sub(e.call.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		e.call.LastActivityAt = now
		expired = append(expired, e.call)
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}
