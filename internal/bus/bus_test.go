package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("snapshot.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSnapshotChanged, Timestamp: time.Now(), Payload: SnapshotChanged{UserID: "bob"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindSnapshotChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSnapshotChanged)
		}
		payload, ok := evt.Payload.(SnapshotChanged)
		if !ok || payload.UserID != "bob" {
			t.Errorf("payload = %+v, want SnapshotChanged for bob", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("responder.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageSent})
	b.Publish(Event{Kind: KindResponderReply})

	select {
	case evt := <-ch:
		if evt.Kind != KindResponderReply {
			t.Errorf("got kind %q, want %q", evt.Kind, KindResponderReply)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageDeleted})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageDeleted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageDeleted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("snapshot.", 10)
	unsub()

	b.Publish(Event{Kind: KindSnapshotChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindMessageSent})
	// Buffer is full; this one is dropped rather than blocking.
	b.Publish(Event{Kind: KindMessageDeleted})

	evt := <-ch
	if evt.Kind != KindMessageSent {
		t.Errorf("got %q, want %q", evt.Kind, KindMessageSent)
	}
}
