package events

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	got := []string{}

	b.Subscribe(SessionCreated, func(ev *Event) {
		got = append(got, "a:"+ev.Data.(string))
	})
	b.Subscribe(SessionCreated, func(ev *Event) {
		got = append(got, "b:"+ev.Data.(string))
	})

	b.Publish(&Event{Type: SessionCreated, Data: "conn1"})

	if len(got) != 2 || got[0] != "a:conn1" || got[1] != "b:conn1" {
		t.Errorf("unexpected handler order/result: %v", got)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New()
	// Should not panic or block.
	b.Publish(&Event{Type: MessageQueued, Data: nil})
}

func TestPanicIsolation(t *testing.T) {
	b := New()
	ran := false

	b.Subscribe(MessageReceived, func(ev *Event) {
		panic("boom")
	})
	b.Subscribe(MessageReceived, func(ev *Event) {
		ran = true
	})

	b.Publish(&Event{Type: MessageReceived})

	if !ran {
		t.Error("second handler did not run after first panicked")
	}
}

func TestCancelAndReplacement(t *testing.T) {
	b := New()
	b.Subscribe(MessageReceived, func(ev *Event) {
		ev.Cancel = true
		ev.Replacement = "replaced"
	})

	ev := &Event{Type: MessageReceived, Data: "original"}
	b.Publish(ev)

	if !ev.Cancel {
		t.Error("expected Cancel to be set")
	}
	if ev.Replacement != "replaced" {
		t.Errorf("got replacement %v, want %q", ev.Replacement, "replaced")
	}
}
