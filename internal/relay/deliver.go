package relay

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/Taiizor/Zetian-sub004/internal/envelope"
	"github.com/Taiizor/Zetian-sub004/internal/events"
	"github.com/Taiizor/Zetian-sub004/internal/smtp"
	"github.com/Taiizor/Zetian-sub004/internal/trace"
)

// Deliverer attempts to deliver one RelayMessage to each of its pending
// recipients' mail servers, via MX lookup or a configured smart host.
type Deliverer struct {
	HelloDomain       string
	Resolver          Resolver
	ConnectionTimeout time.Duration
	EnableTLS         bool
	RequireTLS        bool

	// UseMxRouting, if set, resolves hosts via MX lookup ahead of
	// DefaultSmartHost/SmartHosts. DomainRouting still takes precedence
	// over both.
	UseMxRouting bool

	// DefaultSmartHost, if set, is used for every domain unless overridden
	// by DomainRouting.
	DefaultSmartHost string
	SmartHosts       []string
	DomainRouting    map[string]string

	Events *events.Bus
}

// Attempt drives one delivery round for m: every still-pending recipient
// is attempted (grouped by destination domain so a single connection can
// serve multiple recipients at the same host), and m's status and
// recipient bookkeeping are updated in place.
func (d *Deliverer) Attempt(m *RelayMessage) {
	tr := trace.New("relay.Deliver", m.ID)
	defer tr.Finish()

	byDomain := map[string][]*Recipient{}
	m.Lock()
	for _, r := range m.Recipients {
		if r.Status != RecipientPending {
			continue
		}
		byDomain[envelope.DomainOf(r.Address)] = append(byDomain[envelope.DomainOf(r.Address)], r)
	}
	from := m.From
	raw := m.RawMessage
	m.Unlock()

	for domain, rcpts := range byDomain {
		hosts := d.hostsFor(domain)
		if len(hosts) == 0 {
			d.markAll(m, rcpts, fmt.Errorf("no delivery route for domain %q", domain), true)
			continue
		}

		var lastErr error
		delivered := false
		for _, host := range hosts {
			err, permanent := d.deliverToHost(host, from, rcpts, raw)
			if err == nil {
				d.markAll(m, rcpts, nil, false)
				delivered = true
				break
			}
			lastErr = err
			if permanent {
				d.markAll(m, rcpts, err, true)
				delivered = true
				break
			}
			tr.Errorf("%s via %s: transient error: %v", domain, host, err)
		}
		if !delivered {
			d.markAll(m, rcpts, lastErr, false)
		}
	}

	m.Lock()
	m.Attempts++
	m.recomputeStatus()
	if !m.Status.Terminal() {
		m.Status = Deferred
		m.NextAttempt = time.Now().Add(nextDelay(m.Attempts - 1))
	}
	m.Unlock()

	if d.Events != nil {
		d.Events.Publish(&events.Event{Type: events.DeliveryAttempted, Data: m})
		if m.Status.Terminal() {
			d.Events.Publish(&events.Event{Type: events.DeliveryCompleted, Data: m})
		}
	}
}

// hostsFor resolves the ordered list of hosts to try for domain.
// DomainRouting always takes precedence; otherwise, if UseMxRouting is
// set, MX lookup is preferred, falling back to DefaultSmartHost/
// SmartHosts only when MX routing is disabled.
func (d *Deliverer) hostsFor(domain string) []string {
	if host, ok := d.DomainRouting[domain]; ok {
		return []string{host}
	}

	if d.UseMxRouting {
		mxs, err := d.Resolver.ResolveMX(domain)
		if err != nil {
			log.Errorf("relay: MX lookup failed for %q: %v", domain, err)
			return nil
		}
		hosts := make([]string, len(mxs))
		for i, mx := range mxs {
			hosts[i] = mx.Host
		}
		return hosts
	}

	if d.DefaultSmartHost != "" {
		return append([]string{d.DefaultSmartHost}, d.SmartHosts...)
	}
	return d.SmartHosts
}

func (d *Deliverer) markAll(m *RelayMessage, rcpts []*Recipient, err error, permanent bool) {
	m.Lock()
	defer m.Unlock()
	for _, r := range rcpts {
		r.Attempts++
		if err == nil {
			r.Status = RecipientAccepted
			r.LastError = ""
			continue
		}
		r.LastError = err.Error()
		if permanent {
			r.Status = RecipientRejected
		}
		// Transient errors leave the recipient Pending, for retry.
	}
}

// deliverToHost opens one SMTP connection to host and attempts MAIL/RCPT/
// DATA for every recipient in rcpts, stopping at the first that fails.
// Returns the error for the recipient group and whether it is permanent.
func (d *Deliverer) deliverToHost(host, from string, rcpts []*Recipient, raw []byte) (error, bool) {
	timeout := d.ConnectionTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "25"), timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err), false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout * 4))

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err), false
	}
	defer c.Close()

	if err := c.Hello(d.HelloDomain); err != nil {
		return fmt.Errorf("HELO: %w", err), false
	}

	if d.EnableTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			cfg := &tls.Config{ServerName: host, InsecureSkipVerify: true}
			if err := c.StartTLS(cfg); err != nil {
				if d.RequireTLS {
					return fmt.Errorf("STARTTLS required but failed: %w", err), false
				}
				log.Errorf("relay: STARTTLS to %s failed, continuing in plaintext: %v", host, err)
			}
		} else if d.RequireTLS {
			return fmt.Errorf("TLS required but %s does not advertise STARTTLS", host), false
		}
	}

	mailFrom := from
	if mailFrom == "<>" {
		mailFrom = ""
	}

	for _, r := range rcpts {
		if err := c.MailAndRcpt(mailFrom, r.Address); err != nil {
			return fmt.Errorf("MAIL/RCPT for %s: %w", r.Address, err), smtp.IsPermanent(err)
		}

		w, err := c.Data()
		if err != nil {
			return fmt.Errorf("DATA: %w", err), smtp.IsPermanent(err)
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("DATA write: %w", err), smtp.IsPermanent(err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("DATA close: %w", err), smtp.IsPermanent(err)
		}
	}

	_ = c.Quit()
	return nil, false
}
