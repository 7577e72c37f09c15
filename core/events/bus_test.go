package events

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ch, cancel, err := b.Subscribe(ModuleActivatedEventType)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Second)
	defer cancelCtx()
	b.Publish(ctx, ModuleActivatedEventType, ModuleEvent{
		Type:     ModuleActivatedEventType,
		ModuleID: "echo",
	})

	select {
	case v := <-ch:
		ev, ok := v.(ModuleEvent)
		if !ok {
			t.Fatalf("expected ModuleEvent, got %T", v)
		}
		if ev.ModuleID != "echo" {
			t.Fatalf("unexpected module id: %v", ev.ModuleID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_CancelUnsubscribe(t *testing.T) {
	b := New()
	ch, cancel, err := b.Subscribe("topic")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	// After cancel, channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
	// Should not panic on publish after cancel
	b.Publish(context.Background(), "topic", ModuleEvent{Type: "topic"})
}

func TestBus_Close(t *testing.T) {
	b := New()
	ch1, _, _ := b.Subscribe("t")
	ch2, _, _ := b.Subscribe("t")
	b.Close()
	// both channels should be closed
	for i, ch := range []<-chan TypedEvent{ch1, ch2} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Fatalf("expected ch%d closed", i+1)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("timeout waiting ch%d to close", i+1)
		}
	}
}
