package testutil

import (
	"context"
	"sync"

	"github.com/carnil/carnil/internal/domain/event"
)

// RecordingSink records every event it handles and returns Err.
type RecordingSink struct {
	mu     sync.Mutex
	events []*event.WebhookEvent
	Err    error
}

func (s *RecordingSink) Handle(_ context.Context, evt *event.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.Err
}

func (s *RecordingSink) Events() []*event.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.WebhookEvent(nil), s.events...)
}

// ForgetRecorder records Forget calls.
type ForgetRecorder struct {
	mu  sync.Mutex
	IDs []string
}

func (f *ForgetRecorder) Forget(_ context.Context, evt *event.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IDs = append(f.IDs, evt.ID)
	return nil
}
