package storage

import (
	"sync"

	"github.com/senutpal/synod/internal/paxos"
)

// MemoryStore keeps the acceptor state in process memory. Nothing survives
// a restart of the process, but the state survives re-creating the
// acceptor, which is how tests model a node restart.
type MemoryStore struct {
	mu      sync.RWMutex
	state   paxos.AcceptorState
	saveErr error
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (paxos.AcceptorState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(s paxos.AcceptorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = s.Clone()
	m.saves++
	return nil
}

// FailSaves makes every following Save return err. A nil err heals the
// store.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves counts successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = paxos.AcceptorState{}
	m.saves = 0
}
