package eventbus

import (
	"testing"

	"pkt.systems/jovian/schema"
)

func TestSubscribeReceivesTenantEvents(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("alice")
	defer cancel()

	bus.PublishProgress("alice", schema.ProgressEvent{Progress: 50, Message: "pulling"})
	bus.PublishProgress("bob", schema.ProgressEvent{Progress: 10})

	event := <-ch
	if event.Type != EventProgress || event.Progress.Progress != 50 {
		t.Fatalf("unexpected event %+v", event)
	}
	select {
	case extra := <-ch:
		t.Fatalf("cross-tenant event leaked: %+v", extra)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	ch, cancel := bus.Subscribe("alice")
	defer cancel()

	// Second publish overflows the single-slot buffer and must drop.
	bus.PublishProgress("alice", schema.ProgressEvent{Progress: 1})
	bus.PublishProgress("alice", schema.ProgressEvent{Progress: 2})

	event := <-ch
	if event.Progress.Progress != 1 {
		t.Fatalf("unexpected event %+v", event)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected overflow drop, got %+v", extra)
	default:
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	bus := New(nil)
	_, cancel := bus.Subscribe("alice")
	cancel()
	bus.PublishProgress("alice", schema.ProgressEvent{Progress: 1})
}
