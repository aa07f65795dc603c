package checkers

import (
	"context"
	"net"

	"blitiri.com.ar/go/spf"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/envelope"
)

// SPFChecker evaluates the envelope sender's SPF record against the
// client's connecting IP, per RFC 7208.
type SPFChecker struct {
	weight  float64
	enabled bool

	// Scores maps an spf.Result to a 0..100 score. Populated with the
	// spec's documented defaults unless overridden.
	Scores map[spf.Result]float64
}

// NewSPFChecker builds an SPFChecker from the given config, applying the
// documented default weight and score table when cfg is nil or leaves
// fields at their zero value.
func NewSPFChecker(cfg *config.CheckerConfig) *SPFChecker {
	c := &SPFChecker{
		weight:  0.15,
		enabled: true,
		Scores: map[spf.Result]float64{
			spf.Pass:      0,
			spf.Neutral:   0,
			spf.None:      0,
			spf.SoftFail:  25,
			spf.Fail:      50,
			spf.TempError: 0,
			spf.PermError: 0,
		},
	}
	applyOverrides(&c.weight, &c.enabled, cfg)
	return c
}

func (c *SPFChecker) Name() string    { return "spf" }
func (c *SPFChecker) Weight() float64 { return c.weight }
func (c *SPFChecker) Enabled() bool   { return c.enabled }

// Check authenticated connections trivially pass, matching the teacher's
// own policy of trusting connections that have already proven identity
// via AUTH.
func (c *SPFChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	if cc.Authenticated {
		return antispam.SpamCheckResult{Score: 0, Reason: "authenticated, skipped"}, nil
	}

	tcp, ok := cc.RemoteAddr.(*net.TCPAddr)
	if !ok {
		return antispam.SpamCheckResult{Score: 0, Reason: "no remote IP available"}, nil
	}

	domain := envelope.DomainOf(cc.MailFrom)
	if domain == "" {
		return antispam.SpamCheckResult{Score: 0, Reason: "null sender, skipped"}, nil
	}

	res, err := spf.CheckHostWithSender(tcp.IP, domain, cc.MailFrom)
	if err != nil && res == "" {
		return antispam.SpamCheckResult{}, err
	}

	score := c.Scores[res]
	return antispam.SpamCheckResult{
		IsSpam:  res == spf.Fail,
		Score:   score,
		Reason:  "SPF result: " + string(res),
		Details: map[string]string{"result": string(res)},
	}, nil
}

func applyOverrides(weight *float64, enabled *bool, cfg *config.CheckerConfig) {
	if cfg == nil {
		return
	}
	if cfg.Weight != 0 {
		*weight = cfg.Weight
	}
	if cfg.Enabled != nil {
		*enabled = *cfg.Enabled
	}
}
