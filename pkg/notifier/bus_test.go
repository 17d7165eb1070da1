// Copyright 2024-2026 Aiku AI

package notifier

import (
	"sync"
	"testing"
)

func TestBusFire(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	var got []any
	bus.Subscribe(SignalCaptureDone, func(signal string, payload any) {
		if signal != SignalCaptureDone {
			t.Errorf("signal: got %q", signal)
		}
		got = append(got, payload)
	})
	bus.Fire(SignalCaptureDone, CaptureResult{RequestID: "a"})
	bus.Fire(SignalCaptureFailed, CaptureResult{RequestID: "b"})

	if len(got) != 1 {
		t.Fatalf("got %d payloads, want 1", len(got))
	}
	if res := got[0].(CaptureResult); res.RequestID != "a" {
		t.Errorf("RequestID: got %q", res.RequestID)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	calls := 0
	sub := bus.Subscribe(SignalCaptureRequested, func(string, any) { calls++ })
	other := bus.Subscribe(SignalCaptureRequested, func(string, any) {})
	if n := bus.Subscribers(SignalCaptureRequested); n != 2 {
		t.Fatalf("Subscribers: got %d, want 2", n)
	}

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Fire(SignalCaptureRequested, nil)
	if calls != 0 {
		t.Errorf("unsubscribed handler called %d times", calls)
	}
	if n := bus.Subscribers(SignalCaptureRequested); n != 1 {
		t.Errorf("Subscribers: got %d, want 1", n)
	}
	bus.Unsubscribe(other)
	if n := bus.Subscribers(SignalCaptureRequested); n != 0 {
		t.Errorf("Subscribers: got %d, want 0", n)
	}
}

func TestBusHandlerMayUnsubscribeDuringFire(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	var sub Subscription
	calls := 0
	sub = bus.Subscribe(SignalCaptureDone, func(string, any) {
		calls++
		bus.Unsubscribe(sub)
	})
	bus.Fire(SignalCaptureDone, nil)
	bus.Fire(SignalCaptureDone, nil)
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestBusConcurrent(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe(SignalCaptureDone, func(string, any) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			bus.Fire(SignalCaptureDone, nil)
			bus.Unsubscribe(sub)
		}()
	}
	wg.Wait()
	if n := bus.Subscribers(SignalCaptureDone); n != 0 {
		t.Errorf("Subscribers: got %d, want 0", n)
	}
	if total < 20 {
		t.Errorf("each fire should reach at least its own handler, total %d", total)
	}
}
