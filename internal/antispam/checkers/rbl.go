package checkers

import (
	"context"
	"fmt"
	"net"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
)

// RBLChecker queries one or more configured DNSBL zones for the
// connecting client's IP, reverse-octet-ordered, per the standard DNSBL
// lookup convention. A non-empty A record response means the IP is
// listed.
type RBLChecker struct {
	weight  float64
	enabled bool

	Zones     []string
	ListScore float64
	resolver  *resolver
}

// NewRBLChecker builds an RBLChecker querying the zones listed in cfg
// (falling back to defaultZones if cfg specifies none). If no zone ends
// up configured, the checker disables itself, since there's nothing to
// query.
func NewRBLChecker(cfg *config.CheckerConfig, defaultZones ...string) *RBLChecker {
	zones := defaultZones
	if cfg != nil && len(cfg.Zones) > 0 {
		zones = cfg.Zones
	}

	c := &RBLChecker{
		weight:    0.2,
		enabled:   len(zones) > 0,
		Zones:     zones,
		ListScore: 90,
	}
	applyOverrides(&c.weight, &c.enabled, cfg)

	r, err := newResolver()
	if err != nil || len(zones) == 0 {
		c.enabled = false
	}
	c.resolver = r
	return c
}

func (c *RBLChecker) Name() string    { return "rbl" }
func (c *RBLChecker) Weight() float64 { return c.weight }
func (c *RBLChecker) Enabled() bool   { return c.enabled }

func (c *RBLChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	tcp, ok := cc.RemoteAddr.(*net.TCPAddr)
	if !ok {
		return antispam.SpamCheckResult{Score: 0, Reason: "no remote IP available"}, nil
	}

	rev, err := reverseIP(tcp.IP)
	if err != nil {
		return antispam.SpamCheckResult{Score: 0, Reason: "not IPv4, skipped"}, nil
	}

	for _, zone := range c.Zones {
		listed, err := c.resolver.lookupA(rev + "." + zone)
		if err != nil {
			continue
		}
		if listed {
			return antispam.SpamCheckResult{
				IsSpam:  true,
				Score:   c.ListScore,
				Reason:  fmt.Sprintf("listed in %s", zone),
				Details: map[string]string{"zone": zone},
			}, nil
		}
	}
	return antispam.SpamCheckResult{Score: 0, Reason: "not listed"}, nil
}
