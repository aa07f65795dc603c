package relay

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"blitiri.com.ar/go/log"
	"gopkg.in/yaml.v2"

	"github.com/Taiizor/Zetian-sub004/internal/safeio"
)

// itemFilePrefix names persisted queue item files, so they can be told
// apart from temporary files and other cruft left in the queue directory.
const itemFilePrefix = "m-"

// ErrQueueFull is returned by Enqueue when the queue is already at
// MaxItems.
var ErrQueueFull = fmt.Errorf("relay: queue is full, try again later")

// Queue is a persistent, priority-ordered store of RelayMessages awaiting
// delivery. Items are serialized to individual YAML files in Path so the
// queue survives a restart.
type Queue struct {
	Path     string
	MaxItems int

	mu    sync.RWMutex
	items map[string]*RelayMessage
}

// NewQueue creates a Queue rooted at path, creating the directory if
// necessary.
func NewQueue(path string, maxItems int) (*Queue, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("relay: creating queue dir: %w", err)
	}
	return &Queue{
		Path:     path,
		MaxItems: maxItems,
		items:    map[string]*RelayMessage{},
	}, nil
}

// Load reads every persisted item back into memory. Call once at startup,
// before accepting new deliveries.
func (q *Queue) Load() error {
	files, err := filepath.Glob(filepath.Join(q.Path, itemFilePrefix+"*"))
	if err != nil {
		return err
	}

	for _, fname := range files {
		item, err := loadItem(fname)
		if err != nil {
			log.Errorf("relay: error loading queue item %q: %v", fname, err)
			continue
		}
		q.mu.Lock()
		q.items[item.ID] = item
		q.mu.Unlock()
	}
	return nil
}

// Len returns the number of items currently in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Enqueue adds a new message to the queue and persists it.
func (q *Queue) Enqueue(from string, to []string, raw []byte, priority Priority) (*RelayMessage, error) {
	if n := q.Len(); q.MaxItems > 0 && n >= q.MaxItems {
		return nil, ErrQueueFull
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	rcpts := make([]*Recipient, len(to))
	for i, addr := range to {
		rcpts[i] = &Recipient{Address: addr, Status: RecipientPending}
	}

	m := &RelayMessage{
		ID:         id,
		From:       from,
		Recipients: rcpts,
		RawMessage: raw,
		Priority:   priority,
		Status:     Queued,
		CreatedAt:  time.Now(),
	}

	if err := q.save(m); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.items[m.ID] = m
	q.mu.Unlock()

	return m, nil
}

// Get returns the item with the given ID, if present.
func (q *Queue) Get(id string) (*RelayMessage, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	m, ok := q.items[id]
	return m, ok
}

// Due returns every non-terminal item whose NextAttempt has passed, in
// priority order (highest priority first, ties broken by age).
func (q *Queue) Due(now time.Time) []*RelayMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var due []*RelayMessage
	for _, m := range q.items {
		m.Lock()
		ready := !m.Status.Terminal() && !m.NextAttempt.After(now)
		m.Unlock()
		if ready {
			due = append(due, m)
		}
	}

	sortByPriorityAndAge(due)
	return due
}

func sortByPriorityAndAge(items []*RelayMessage) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j-1], items[j]
			if a.Priority < b.Priority || (a.Priority == b.Priority && a.CreatedAt.After(b.CreatedAt)) {
				items[j-1], items[j] = items[j], items[j-1]
			} else {
				break
			}
		}
	}
}

// Persist writes m's current state back to disk.
func (q *Queue) Persist(m *RelayMessage) error {
	return q.save(m)
}

// Remove deletes an item from the queue, both in memory and on disk.
func (q *Queue) Remove(id string) {
	path := filepath.Join(q.Path, itemFilePrefix+id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Errorf("relay: failed to remove queue file %q: %v", path, err)
	}

	q.mu.Lock()
	delete(q.items, id)
	q.mu.Unlock()
}

// persistable mirrors RelayMessage's exported fields, since RelayMessage
// itself carries an unexported mutex that yaml.v2 would otherwise choke
// on reflecting into (it doesn't, but marshaling through a plain struct
// keeps the on-disk format decoupled from in-memory locking details).
type persistable struct {
	ID          string       `yaml:"id"`
	From        string       `yaml:"from"`
	Recipients  []*Recipient `yaml:"recipients"`
	RawMessage  []byte       `yaml:"raw_message"`
	Priority    Priority     `yaml:"priority"`
	Status      Status       `yaml:"status"`
	Attempts    int          `yaml:"attempts"`
	CreatedAt   time.Time    `yaml:"created_at"`
	NextAttempt time.Time    `yaml:"next_attempt"`
	LastError   string       `yaml:"last_error,omitempty"`
}

func (q *Queue) save(m *RelayMessage) error {
	m.Lock()
	p := persistable{
		ID: m.ID, From: m.From, Recipients: m.Recipients, RawMessage: m.RawMessage,
		Priority: m.Priority, Status: m.Status, Attempts: m.Attempts,
		CreatedAt: m.CreatedAt, NextAttempt: m.NextAttempt, LastError: m.LastError,
	}
	m.Unlock()

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("relay: marshaling item %q: %w", p.ID, err)
	}

	path := filepath.Join(q.Path, itemFilePrefix+p.ID)
	return safeio.WriteFile(path, data, 0600)
}

func loadItem(fname string) (*RelayMessage, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, err
	}

	var p persistable
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	return &RelayMessage{
		ID: p.ID, From: p.From, Recipients: p.Recipients, RawMessage: p.RawMessage,
		Priority: p.Priority, Status: p.Status, Attempts: p.Attempts,
		CreatedAt: p.CreatedAt, NextAttempt: p.NextAttempt, LastError: p.LastError,
	}, nil
}

func newID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("relay: generating queue id: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
