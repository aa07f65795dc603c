package checkers

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
)

// GreylistChecker defers the first delivery attempt for a previously
// unseen (client /24, sender, first recipient) triple, then accepts and
// whitelists it once the client retries after the delay window (as any
// compliant MTA queueing for retry will).
//
// This is wired into the antispam ensemble as a checker that returns a
// non-zero score (mapped to the Greylist action by the pipeline's
// thresholds) rather than rejecting directly, so it participates in the
// same weighted scoring as every other checker.
type GreylistChecker struct {
	weight  float64
	enabled bool

	// Delay is how long a client must wait before a retry is accepted.
	Delay time.Duration
	// Lifetime bounds how long a first-seen entry remains valid for a
	// retry; after this, the triple is treated as unseen again.
	Lifetime time.Duration
	// WhitelistTTL is how long a successfully-retried triple is
	// remembered as pre-approved, skipping the delay entirely.
	WhitelistTTL time.Duration

	mu      sync.Mutex
	seen    map[string]time.Time
	allowed map[string]time.Time
}

// NewGreylistChecker builds a GreylistChecker with the spec's documented
// defaults (5 minute delay, 4 hour lifetime).
func NewGreylistChecker(cfg *config.CheckerConfig) *GreylistChecker {
	c := &GreylistChecker{
		// Weighted well above the other checkers: a deferred triple
		// should land the composite score in the pipeline's Greylist
		// bracket on its own, regardless of how the rest of the
		// ensemble scores otherwise-clean mail.
		weight:       0.6,
		enabled:      true,
		Delay:        5 * time.Minute,
		Lifetime:     4 * time.Hour,
		WhitelistTTL: 30 * 24 * time.Hour,
		seen:         map[string]time.Time{},
		allowed:      map[string]time.Time{},
	}
	applyOverrides(&c.weight, &c.enabled, cfg)
	return c
}

func (c *GreylistChecker) Name() string    { return "greylist" }
func (c *GreylistChecker) Weight() float64 { return c.weight }
func (c *GreylistChecker) Enabled() bool   { return c.enabled }

func (c *GreylistChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	rcpt := ""
	if len(cc.RcptTo) > 0 {
		rcpt = cc.RcptTo[0]
	}
	key := c.key(cc.RemoteAddr, cc.MailFrom, rcpt)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.allowed[key]; ok {
		if now.Before(exp) {
			return antispam.SpamCheckResult{Score: 0, Reason: "greylist: whitelisted triple"}, nil
		}
		delete(c.allowed, key)
	}

	first, ok := c.seen[key]
	if !ok || now.Sub(first) > c.Lifetime {
		c.seen[key] = now
		return antispam.SpamCheckResult{
			IsSpam: true,
			Score:  100,
			Reason: "greylist: first sighting of this triple",
		}, nil
	}

	if now.Sub(first) < c.Delay {
		return antispam.SpamCheckResult{
			IsSpam: true,
			Score:  100,
			Reason: "greylist: retried before the delay window elapsed",
		}, nil
	}

	delete(c.seen, key)
	c.allowed[key] = now.Add(c.WhitelistTTL)
	return antispam.SpamCheckResult{Score: 0, Reason: "greylist: delay window satisfied"}, nil
}

func (c *GreylistChecker) key(addr net.Addr, from, to string) string {
	class := classC(addr)
	return strings.ToLower(class + "|" + from + "|" + to)
}

// classC reduces a remote address to its /24 (IPv4) or whole-address
// (non-IPv4) identity, since many botnets rotate the last octet between
// retries from the same operator.
func classC(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	v4 := tcp.IP.To4()
	if v4 == nil {
		return tcp.IP.String()
	}
	return v4.Mask(net.CIDRMask(24, 32)).String()
}
