package imagestore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory keeps images in a map. It backs tests and the in-memory deployment.
type Memory struct {
	mu     sync.RWMutex
	images map[string][]byte

	// SaveError, when set, fails every Save.
	SaveError error
}

// NewMemory creates an empty in-memory image store.
func NewMemory() *Memory {
	return &Memory{images: make(map[string][]byte)}
}

// Save stores a copy of data.
func (m *Memory) Save(_ context.Context, data []byte, _ string) (string, error) {
	if m.SaveError != nil {
		return "", m.SaveError
	}
	format, _, err := Sniff(data)
	if err != nil {
		return "", err
	}
	ref := NewRef(time.Now().UTC(), format)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[ref] = slices.Clone(data)
	return ref, nil
}

// Load returns a copy of the stored bytes.
func (m *Memory) Load(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.images[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return slices.Clone(data), nil
}

// Delete removes ref.
func (m *Memory) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, ref)
	return nil
}

// Len returns the number of stored images.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

var _ Store = (*Memory)(nil)
