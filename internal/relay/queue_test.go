package relay

import (
	"io/ioutil"
	"os"
	"testing"
	"time"
)

func tempQueue(t *testing.T) *Queue {
	dir, err := ioutil.TempDir("", "relay_queue_test_")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	q, err := NewQueue(dir, 10)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q
}

func TestEnqueueAndGet(t *testing.T) {
	q := tempQueue(t)

	m, err := q.Enqueue("a@b.com", []string{"c@d.com"}, []byte("hello"), PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}

	got, ok := q.Get(m.ID)
	if !ok || got.ID != m.ID {
		t.Errorf("Get(%q) = %v, %v", m.ID, got, ok)
	}
}

func TestQueueFull(t *testing.T) {
	q := tempQueue(t)
	q.MaxItems = 1

	if _, err := q.Enqueue("a@b.com", []string{"c@d.com"}, []byte("x"), PriorityNormal); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := q.Enqueue("a@b.com", []string{"c@d.com"}, []byte("x"), PriorityNormal); err != ErrQueueFull {
		t.Errorf("got %v, want ErrQueueFull", err)
	}
}

func TestPersistAndLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "relay_queue_test_")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	q1, err := NewQueue(dir, 10)
	if err != nil {
		t.Fatal(err)
	}
	m, err := q1.Enqueue("a@b.com", []string{"c@d.com", "e@f.com"}, []byte("body"), PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	m.Lock()
	m.Recipients[0].Status = RecipientAccepted
	m.Unlock()
	if err := q1.Persist(m); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	q2, err := NewQueue(dir, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := q2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if q2.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q2.Len())
	}

	loaded, ok := q2.Get(m.ID)
	if !ok {
		t.Fatalf("item %q not found after load", m.ID)
	}
	if loaded.From != "a@b.com" || len(loaded.Recipients) != 2 {
		t.Errorf("loaded item mismatch: %+v", loaded)
	}
	if loaded.Recipients[0].Status != RecipientAccepted {
		t.Errorf("recipient status not persisted: %v", loaded.Recipients[0].Status)
	}
}

func TestDueOrdering(t *testing.T) {
	q := tempQueue(t)

	now := time.Now()
	low, _ := q.Enqueue("a@b.com", []string{"x@y.com"}, []byte("x"), PriorityLow)
	high, _ := q.Enqueue("a@b.com", []string{"x@y.com"}, []byte("x"), PriorityHigh)
	low.NextAttempt = now.Add(-time.Minute)
	high.NextAttempt = now.Add(-time.Minute)

	due := q.Due(now)
	if len(due) != 2 {
		t.Fatalf("Due() returned %d items, want 2", len(due))
	}
	if due[0].ID != high.ID {
		t.Errorf("expected high priority item first, got %q", due[0].ID)
	}
	_ = low
}

func TestRemove(t *testing.T) {
	q := tempQueue(t)
	m, _ := q.Enqueue("a@b.com", []string{"c@d.com"}, []byte("x"), PriorityNormal)

	q.Remove(m.ID)
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Remove, want 0", q.Len())
	}
	if _, ok := q.Get(m.ID); ok {
		t.Error("item still present after Remove")
	}
}
