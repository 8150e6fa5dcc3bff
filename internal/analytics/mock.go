package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rivalapexmediation/auction/internal/waterfall"
)

var _ Service = (*MockAnalytics)(nil)

// MockAnalytics keeps recorded events in memory for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	events []WaterfallEvent
	// Err, when set, is returned from every RecordWaterfall call.
	Err error
}

// NewMockAnalytics creates an empty mock.
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

func (m *MockAnalytics) RecordWaterfall(ctx context.Context, requestID, mode string, r *waterfall.Result) error {
	if m.Err != nil {
		return m.Err
	}
	if r == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, NewEvent(time.Now().UTC(), requestID, mode, r))
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockAnalytics) Events() []WaterfallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WaterfallEvent(nil), m.events...)
}
