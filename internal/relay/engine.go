package relay

import (
	"context"
	"sync"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/Taiizor/Zetian-sub004/internal/events"
)

// Engine ties a Queue and a Deliverer together: it polls the queue for
// due items and runs up to MaxConcurrentDeliveries delivery attempts in
// parallel.
type Engine struct {
	Queue      *Queue
	Deliverer  *Deliverer
	Events     *events.Bus
	BounceFrom string
	OurDomain  string

	MaxConcurrentDeliveries int
	MessageLifetime         time.Duration
	// MaxAttempts bounds delivery rounds independently of MessageLifetime;
	// a message that has been attempted this many times is treated as
	// expired even if its lifetime hasn't elapsed yet. Zero means no cap.
	MaxAttempts  int
	PollInterval time.Duration
	EnableBounce bool

	sem chan struct{}
}

// Run polls the queue for due items and dispatches deliveries until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if e.MaxConcurrentDeliveries <= 0 {
		e.MaxConcurrentDeliveries = 20
	}
	if e.PollInterval == 0 {
		e.PollInterval = 5 * time.Second
	}
	e.sem = make(chan struct{}, e.MaxConcurrentDeliveries)

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRound()
		}
	}
}

func (e *Engine) runRound() {
	now := time.Now()
	var wg sync.WaitGroup

	for _, m := range e.Queue.Due(now) {
		if e.expired(m, now) {
			continue
		}

		m.Lock()
		m.Status = InProgress
		m.Unlock()

		e.sem <- struct{}{}
		wg.Add(1)
		go func(m *RelayMessage) {
			defer wg.Done()
			defer func() { <-e.sem }()
			e.attemptOne(m)
		}(m)
	}

	wg.Wait()
}

func (e *Engine) attemptOne(m *RelayMessage) {
	e.Deliverer.Attempt(m)

	if err := e.Queue.Persist(m); err != nil {
		log.Errorf("relay: failed to persist %q: %v", m.ID, err)
	}

	m.Lock()
	terminal := m.Status.Terminal()
	needsBounce := e.EnableBounce && m.From != "<>" && m.Status == Failed
	m.Unlock()

	if needsBounce {
		e.sendBounce(m)
	}

	if terminal {
		e.Queue.Remove(m.ID)
	}
}

func (e *Engine) expired(m *RelayMessage, now time.Time) bool {
	m.Lock()
	defer m.Unlock()
	if m.Status.Terminal() {
		return false
	}

	byLifetime := e.MessageLifetime != 0 && now.Sub(m.CreatedAt) >= e.MessageLifetime
	byAttempts := e.MaxAttempts != 0 && m.Attempts >= e.MaxAttempts
	if !byLifetime && !byAttempts {
		return false
	}
	m.Status = Expired
	go func() {
		if e.EnableBounce && m.From != "<>" {
			e.sendBounce(m)
		}
		e.Queue.Remove(m.ID)
	}()
	return true
}

func (e *Engine) sendBounce(m *RelayMessage) {
	data, err := Bounce(e.OurDomain, m)
	if err != nil {
		log.Errorf("relay: failed to build bounce for %q: %v", m.ID, err)
		return
	}

	from := e.BounceFrom
	if from == "" {
		from = "<>"
	}

	if _, err := e.Queue.Enqueue(from, []string{m.From}, data, PriorityLow); err != nil {
		log.Errorf("relay: failed to queue bounce for %q: %v", m.ID, err)
		return
	}

	if e.Events != nil {
		e.Events.Publish(&events.Event{Type: events.MessageQueued, Data: m})
	}
}

// Cancel marks a queued or deferred message Cancelled, preventing any
// further delivery attempts.
func (e *Engine) Cancel(id string) bool {
	m, ok := e.Queue.Get(id)
	if !ok {
		return false
	}
	m.Lock()
	if m.Status.Terminal() {
		m.Unlock()
		return false
	}
	m.Status = Cancelled
	m.Unlock()

	e.Queue.Persist(m)
	e.Queue.Remove(id)
	return true
}
