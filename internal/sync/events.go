package sync

import (
	"log/slog"
	"runtime/debug"
	gosync "sync"

	"github.com/labsafe/labsync/internal/models"
)

// Event names accepted by EventBus.On.
const (
	EventSync  = "sync"
	EventError = "error"
)

// SyncKind says what a sync event reports.
type SyncKind string

const (
	SyncCreate   SyncKind = "create"
	SyncUpdate   SyncKind = "update"
	SyncDelete   SyncKind = "delete"
	SyncFullSync SyncKind = "full_sync"
)

// SyncEvent reports a confirmed mutation or a completed reconciliation.
type SyncEvent struct {
	Table   string
	Kind    SyncKind
	Record  *models.Record
	Request *models.PendingRequest
}

// ErrorEvent reports a request dropped after a permanent failure.
type ErrorEvent struct {
	Table   string
	Request models.PendingRequest
	Err     error
}

// Handler receives either a SyncEvent or an ErrorEvent.
type Handler func(event string, payload any)

// EventBus fans events out to subscribers. Handlers run synchronously on the
// emitting goroutine, outside any engine lock; a panicking handler is
// recovered and logged.
type EventBus struct {
	mu        gosync.RWMutex
	listeners map[string][]Handler
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]Handler)}
}

// On subscribes handler to event (EventSync or EventError).
func (b *EventBus) On(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], handler)
}

// OnSync subscribes a typed handler to sync events.
func (b *EventBus) OnSync(fn func(SyncEvent)) {
	b.On(EventSync, func(_ string, payload any) {
		if ev, ok := payload.(SyncEvent); ok {
			fn(ev)
		}
	})
}

// OnError subscribes a typed handler to error events.
func (b *EventBus) OnError(fn func(ErrorEvent)) {
	b.On(EventError, func(_ string, payload any) {
		if ev, ok := payload.(ErrorEvent); ok {
			fn(ev)
		}
	})
}

func (b *EventBus) emit(event string, payload any) {
	b.mu.RLock()
	handlers := b.listeners[event]
	b.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panic", "event", event, "panic", r, "stack", string(debug.Stack()))
				}
			}()
			h(event, payload)
		}()
	}
}
