package biztest

import (
	"context"
	"sync"

	"github.com/lk2023060901/nanami/internal/s3/biz"
)

// Events records published object events
type Events struct {
	mu     sync.Mutex
	events []biz.ObjectEvent
}

func (e *Events) PublishObjectCreated(_ context.Context, ev *biz.ObjectEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, *ev)
	return nil
}

// All returns the events published so far
func (e *Events) All() []biz.ObjectEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]biz.ObjectEvent, len(e.events))
	copy(out, e.events)
	return out
}
