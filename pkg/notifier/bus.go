// Copyright 2024-2026 Aiku AI

package notifier

import (
	"sync"
)

// Signals exchanged between the dispatcher and the snapshot pipeline.
const (
	SignalCaptureRequested = "CaptureRequested"
	SignalCaptureDone      = "CaptureDone"
	SignalCaptureFailed    = "CaptureFailed"
)

// CaptureRequest is the payload of SignalCaptureRequested.
type CaptureRequest struct {
	RequestID string
}

// CaptureResult is the payload of SignalCaptureDone and SignalCaptureFailed.
// A done result carries one snapshot per camera that answered.
type CaptureResult struct {
	RequestID string
	Snapshots []Snapshot
	Err       error
}

// SignalHandler is invoked with the signal name and its payload.
type SignalHandler func(signal string, payload any)

// Subscription identifies a registered handler.
type Subscription struct {
	signal string
	id     uint64
}

// Bus is a callback registration table keyed by signal name. Handlers run
// synchronously on the goroutine that fires the signal.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]SignalHandler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]SignalHandler)}
}

// Subscribe registers handler for signal.
func (b *Bus) Subscribe(signal string, handler SignalHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[signal] == nil {
		b.subs[signal] = make(map[uint64]SignalHandler)
	}
	b.subs[signal][b.nextID] = handler
	return Subscription{signal: signal, id: b.nextID}
}

// Unsubscribe removes a handler. Removing twice is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subs[sub.signal]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subs, sub.signal)
		}
	}
}

// Fire calls every handler subscribed to signal. Handlers may subscribe or
// unsubscribe while being called.
func (b *Bus) Fire(signal string, payload any) {
	b.mu.Lock()
	handlers := make([]SignalHandler, 0, len(b.subs[signal]))
	for _, h := range b.subs[signal] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(signal, payload)
	}
}

// Subscribers returns the number of handlers registered for signal.
func (b *Bus) Subscribers(signal string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[signal])
}
