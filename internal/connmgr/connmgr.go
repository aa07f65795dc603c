// Package connmgr implements the accept loop: per-IP and global connection
// caps enforced race-free under a single lock, dispatch to a new
// internal/session.Session per accepted socket, and two-phase graceful
// shutdown.
package connmgr

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/maillog"
	"github.com/Taiizor/Zetian-sub004/internal/session"
)

// Listener describes one address to bind and how connections on it should
// be treated: STARTTLS (plaintext with in-band upgrade) or implicit TLS
// (SMTPS, handshake immediately after accept).
type Listener struct {
	Addr        string
	ImplicitTLS bool
}

// Manager accepts connections on a set of listeners, enforces connection
// caps, and hands each accepted socket to a new session.Session.
type Manager struct {
	Deps   *session.Deps
	Config *config.Config

	// DrainTimeout bounds how long Shutdown waits for in-flight sessions
	// to finish on their own before force-closing them.
	DrainTimeout time.Duration

	mu        sync.Mutex
	listeners []net.Listener
	perIP     map[string]int
	active    int
	sessions  map[string]*session.Session
	draining  bool

	wg sync.WaitGroup
}

// New builds a Manager that dispatches accepted connections using deps,
// with caps and timeouts taken from cfg.
func New(deps *session.Deps, cfg *config.Config) *Manager {
	return &Manager{
		Deps:         deps,
		Config:       cfg,
		DrainTimeout: 30 * time.Second,
		perIP:        map[string]int{},
		sessions:     map[string]*session.Session{},
	}
}

// ListenAndServe binds every listener and begins accepting in the
// background. It returns once all listeners are bound (or the first bind
// failure), not when serving ends.
func (m *Manager) ListenAndServe(listeners []Listener) error {
	for _, l := range listeners {
		ln, err := net.Listen("tcp", l.Addr)
		if err != nil {
			m.closeListeners()
			return fmt.Errorf("connmgr: listening on %s: %w", l.Addr, err)
		}

		m.mu.Lock()
		m.listeners = append(m.listeners, ln)
		m.mu.Unlock()

		maillog.Listening(l.Addr)
		go m.serve(ln, l.ImplicitTLS)
	}
	return nil
}

func (m *Manager) closeListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ln := range m.listeners {
		ln.Close()
	}
}

func (m *Manager) serve(ln net.Listener, implicitTLS bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener was closed, either by Shutdown or a fatal accept
			// error; either way there's nothing more to serve here.
			return
		}
		go m.handle(conn, implicitTLS)
	}
}

// handle enforces the per-IP and global caps, then runs a session to
// completion. The cap check and both counter increments happen under the
// same lock, so concurrent accepts from one IP can never both succeed
// past the cap.
func (m *Manager) handle(conn net.Conn, implicitTLS bool) {
	host := hostOf(conn.RemoteAddr())

	perIPCap := 10
	if m.Config != nil && m.Config.MaxConnectionsPerIP > 0 {
		perIPCap = m.Config.MaxConnectionsPerIP
	}
	globalCap := m.Config.MaxConnections

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		rejectAndClose(conn, "4.3.2 server is shutting down")
		return
	}
	if m.perIP[host] >= perIPCap {
		m.mu.Unlock()
		rejectAndClose(conn, "4.3.2 too many connections from your address")
		return
	}
	if globalCap > 0 && m.active >= globalCap {
		m.mu.Unlock()
		rejectAndClose(conn, "4.3.2 too many connections")
		return
	}
	m.perIP[host]++
	m.active++
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.perIP[host]--
		if m.perIP[host] <= 0 {
			delete(m.perIP, host)
		}
		m.active--
		m.wg.Done()
		m.mu.Unlock()
	}()

	id, err := newSessionID()
	if err != nil {
		rejectAndClose(conn, "4.3.0 internal error")
		return
	}

	sess := session.New(id, conn, m.Deps, implicitTLS)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}()

	sess.Handle()
}

// Shutdown stops accepting new connections, waits for in-flight sessions
// to finish on their own up to DrainTimeout (or ctx's deadline, whichever
// is sooner), and force-closes whatever remains.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	lns := append([]net.Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, ln := range lns {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(m.DrainTimeout)
	defer drain.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-drain.C:
	}

	m.mu.Lock()
	remaining := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		s.Close()
	}

	<-done
	return nil
}

func rejectAndClose(conn net.Conn, msg string) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn, "421 %s\r\n", msg)
	conn.Close()
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func newSessionID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("connmgr: generating session id: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
