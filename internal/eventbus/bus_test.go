package eventbus

import (
	"context"
	"errors"
	"testing"
)

func TestBusPublishBroadcast(t *testing.T) {
	bus := NewSessionEventBus()
	calledA := false
	calledB := false

	bus.Subscribe(SessionEventNotice, func(ctx context.Context, event SessionEvent) error {
		calledA = true
		return nil
	})
	bus.Subscribe(SessionEventNotice, func(ctx context.Context, event SessionEvent) error {
		calledB = true
		return nil
	})

	if err := bus.Publish(context.Background(), SessionEvent{Type: SessionEventNotice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calledA || !calledB {
		t.Fatalf("expected handlers to be called")
	}
}

func TestBusPublishOnlyMatchingType(t *testing.T) {
	bus := NewSessionEventBus()
	called := false
	bus.Subscribe(SessionEventTurnFinished, func(ctx context.Context, event SessionEvent) error {
		called = true
		return nil
	})

	if err := bus.Publish(context.Background(), SessionEvent{Type: SessionEventSnapshot}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("handler of another type should not be called")
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewSessionEventBus()
	var seen []SessionEventType
	unsubscribe := bus.SubscribeAll(func(ctx context.Context, event SessionEvent) error {
		seen = append(seen, event.Type)
		return nil
	})

	_ = bus.Publish(context.Background(), SessionEvent{Type: SessionEventSnapshot})
	_ = bus.Publish(context.Background(), SessionEvent{Type: SessionEventNotice})
	unsubscribe()
	_ = bus.Publish(context.Background(), SessionEvent{Type: SessionEventNotice})

	if len(seen) != 2 || seen[0] != SessionEventSnapshot || seen[1] != SessionEventNotice {
		t.Fatalf("unexpected events: %v", seen)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewSessionEventBus()
	called := false
	unsubscribe := bus.Subscribe(SessionEventNotice, func(ctx context.Context, event SessionEvent) error {
		called = true
		return nil
	})
	unsubscribe()

	if err := bus.Publish(context.Background(), SessionEvent{Type: SessionEventNotice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected handler to be unsubscribed")
	}
}

func TestBusPublishJoinErrors(t *testing.T) {
	bus := NewSessionEventBus()
	bus.Subscribe(SessionEventNotice, func(ctx context.Context, event SessionEvent) error {
		return errors.New("err-a")
	})
	bus.Subscribe(SessionEventNotice, func(ctx context.Context, event SessionEvent) error {
		return errors.New("err-b")
	})

	if err := bus.Publish(context.Background(), SessionEvent{Type: SessionEventNotice}); err == nil {
		t.Fatalf("expected error")
	}
}
