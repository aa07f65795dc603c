package checkers

import (
	"context"
	"strconv"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/dkim"
)

// DKIMChecker verifies each DKIM-Signature header present on the message
// against the signing domain's published public key. Only verification
// is in scope; the server never signs outbound mail.
type DKIMChecker struct {
	weight  float64
	enabled bool

	// UnsignedScore is used when a message carries no DKIM signature at
	// all; that's common for legitimate mail, so it defaults to neutral.
	UnsignedScore float64
	// BrokenScore is used when at least one signature is present but
	// none verify.
	BrokenScore float64
}

// NewDKIMChecker builds a DKIMChecker from cfg, applying defaults.
func NewDKIMChecker(cfg *config.CheckerConfig) *DKIMChecker {
	c := &DKIMChecker{
		weight:        0.15,
		enabled:       true,
		UnsignedScore: 0,
		BrokenScore:   80,
	}
	applyOverrides(&c.weight, &c.enabled, cfg)
	return c
}

func (c *DKIMChecker) Name() string    { return "dkim" }
func (c *DKIMChecker) Weight() float64 { return c.weight }
func (c *DKIMChecker) Enabled() bool   { return c.enabled }

func (c *DKIMChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	if cc.Message == nil {
		return antispam.SpamCheckResult{Score: 0}, nil
	}

	result, err := dkim.VerifyMessage(ctx, string(cc.Message.Raw))
	if err != nil {
		return antispam.SpamCheckResult{}, err
	}

	if result.Found == 0 {
		return antispam.SpamCheckResult{
			Score:  c.UnsignedScore,
			Reason: "no DKIM signature present",
		}, nil
	}
	if result.Valid == 0 {
		return antispam.SpamCheckResult{
			IsSpam:  true,
			Score:   c.BrokenScore,
			Reason:  "DKIM signature present but none verified",
			Details: map[string]string{"found": strconv.Itoa(int(result.Found))},
		}, nil
	}
	return antispam.SpamCheckResult{
		Score:  0,
		Reason: "DKIM verified",
	}, nil
}
