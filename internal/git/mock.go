package git

import (
	"context"
	"sync"

	"github.com/mvp-joe/harvest/internal/snapshot"
)

// MockDescriber is a mock implementation of Describer for testing.
// It returns the configured revision for every directory and records calls.
type MockDescriber struct {
	mu       sync.Mutex
	Revision *snapshot.Revision
	Err      error
	calls    []string
}

// NewMockDescriber creates a mock reporting rev.
func NewMockDescriber(rev *snapshot.Revision) *MockDescriber {
	return &MockDescriber{Revision: rev}
}

func (m *MockDescriber) Describe(ctx context.Context, dir string) (*snapshot.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dir)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Revision == nil {
		return nil, nil
	}
	rev := *m.Revision
	return &rev, nil
}

// Calls returns the directories Describe was called with.
func (m *MockDescriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
