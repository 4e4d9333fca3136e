package locking

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager serializes orchestrator operations. Every capital-affecting
// operation on a fund takes the fund's lock, so two concurrent edits
// cannot race past each other's capital check. Registry mutations and
// apply share the "accounts" lock; apply additionally takes the global
// lock so only one commit runs at a time.
type Manager struct {
	mu     sync.Mutex
	global sync.Mutex
	locks  map[string]*sync.Mutex
	log    zerolog.Logger
}

// NewManager creates a new lock manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		locks: make(map[string]*sync.Mutex),
		log:   log.With().Str("component", "locking").Logger(),
	}
}

// Lock acquires the named lock and returns its release function
func (m *Manager) Lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	m.log.Debug().Str("key", key).Msg("Lock acquired")
	return func() {
		l.Unlock()
		m.log.Debug().Str("key", key).Msg("Lock released")
	}
}

// LockGlobal acquires the process-wide lock used by apply
func (m *Manager) LockGlobal() func() {
	m.global.Lock()
	m.log.Debug().Msg("Global lock acquired")
	return func() {
		m.global.Unlock()
		m.log.Debug().Msg("Global lock released")
	}
}
