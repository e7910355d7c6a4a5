package properties

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs unit tests and acts as the
// supervisor fake: writes to the control keys are recorded but have no
// side effect unless a test wires a hook.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	nextSer uint64

	// OnControl, if set, is invoked (without the lock held) after a
	// write to ctl.start or ctl.stop, with the service name as value.
	OnControl func(key, service string)
}

type memoryEntry struct {
	value  string
	serial uint64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

// Get returns the current value of key.
func (m *Memory) Get(ctx context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	return e.value, true
}

// Set writes value under key, bumping the key's serial.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.nextSer++
	e, ok := m.entries[key]
	if ok {
		e.value = value
		e.serial = m.nextSer
	} else {
		m.entries[key] = &memoryEntry{value: value, serial: m.nextSer}
	}
	hook := m.OnControl
	m.mu.Unlock()

	if hook != nil && (key == CtlStart || key == CtlStop) {
		hook(key, value)
	}
	return nil
}

// Find returns a handle to key if the key has ever been set.
func (m *Memory) Find(ctx context.Context, key string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.entries[key]; !ok {
		return nil, false
	}
	return &memoryHandle{store: m, key: key}, true
}

type memoryHandle struct {
	store *Memory
	key   string
}

func (h *memoryHandle) Serial(ctx context.Context) (uint64, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	e, ok := h.store.entries[h.key]
	if !ok {
		return 0, nil
	}
	return e.serial, nil
}

func (h *memoryHandle) Read(ctx context.Context) (string, bool) {
	return h.store.Get(ctx, h.key)
}
