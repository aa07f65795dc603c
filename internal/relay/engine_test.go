package relay

import (
	"testing"
	"time"
)

// newTestQueue gives an Engine a real, empty Queue rooted at a temp dir.
// expired() always hands terminal messages off to Queue.Remove on a
// background goroutine, so Engine.Queue must never be nil in these tests.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestExpiredByMaxAttempts(t *testing.T) {
	e := &Engine{MaxAttempts: 3, Queue: newTestQueue(t)}
	m := &RelayMessage{
		ID:        "msg1",
		CreatedAt: time.Now(),
		Attempts:  3,
	}

	if !e.expired(m, time.Now()) {
		t.Fatal("expected a message at the attempt cap to be expired")
	}
	if m.Status != Expired {
		t.Errorf("got status %v, want Expired", m.Status)
	}
}

func TestNotExpiredBelowMaxAttempts(t *testing.T) {
	e := &Engine{MaxAttempts: 3, Queue: newTestQueue(t)}
	m := &RelayMessage{
		ID:        "msg2",
		CreatedAt: time.Now(),
		Attempts:  2,
	}

	if e.expired(m, time.Now()) {
		t.Fatal("expected a message below the attempt cap to not be expired")
	}
}

func TestExpiredByLifetimeStillWorks(t *testing.T) {
	e := &Engine{MessageLifetime: time.Hour, Queue: newTestQueue(t)}
	m := &RelayMessage{
		ID:        "msg3",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}

	if !e.expired(m, time.Now()) {
		t.Fatal("expected a message past its lifetime to be expired")
	}
}

func TestNotExpiredWithNoLimitsSet(t *testing.T) {
	e := &Engine{Queue: newTestQueue(t)}
	m := &RelayMessage{ID: "msg4", CreatedAt: time.Now().Add(-48 * time.Hour)}

	if e.expired(m, time.Now()) {
		t.Fatal("expected no expiry when neither MessageLifetime nor MaxAttempts is set")
	}
}
