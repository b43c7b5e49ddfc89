package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventBus fans events out to in-process subscribers. Handlers run
// synchronously in subscription order; handler errors are joined and
// returned to the publisher.
type MemoryEventBus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]EventHandler
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{
		handlers: map[string]map[int]EventHandler{},
	}
}

func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if b == nil {
		return fmt.Errorf("core: event bus is not configured")
	}
	name := strings.TrimSpace(event.Name)
	if name == "" {
		return fmt.Errorf("core: event name is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	selected := make([]EventHandler, 0, len(b.handlers[name])+len(b.handlers["*"]))
	for _, pattern := range []string{name, "*"} {
		ids := make([]int, 0, len(b.handlers[pattern]))
		for id := range b.handlers[pattern] {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			selected = append(selected, b.handlers[pattern][id])
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, handler := range selected {
		if handler == nil {
			continue
		}
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for an event name; "*" matches all.
func (b *MemoryEventBus) Subscribe(name string, handler EventHandler) func() {
	if b == nil || handler == nil {
		return func() {}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "*"
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[name] == nil {
		b.handlers[name] = map[int]EventHandler{}
	}
	b.handlers[name][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[name], id)
			b.mu.Unlock()
		})
	}
}

var _ EventBus = (*MemoryEventBus)(nil)
