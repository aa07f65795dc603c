package checkers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
)

// ContentRule is one configured keyword/regex matcher: a match against
// the subject or text body contributes ScorePerHit to the message's
// content score.
type ContentRule struct {
	Pattern     *regexp.Regexp
	ScorePerHit float64
}

// ContentChecker scans the subject and text body for configured patterns
// (e.g. common spam phrasing, suspicious URL shorteners), accumulating a
// score rather than stopping at the first hit, since multiple weak
// signals together are more informative than any single one.
type ContentChecker struct {
	weight  float64
	enabled bool

	Rules []ContentRule
}

// NewContentChecker compiles cfg.Patterns (falling back to
// defaultPatterns if none are configured) into case-insensitive regexes,
// each worth 20 points per hit. Uncompilable patterns are skipped.
func NewContentChecker(cfg *config.CheckerConfig, defaultPatterns ...string) *ContentChecker {
	patterns := defaultPatterns
	if cfg != nil && len(cfg.Patterns) > 0 {
		patterns = cfg.Patterns
	}

	c := &ContentChecker{weight: 0.1, enabled: true}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		c.Rules = append(c.Rules, ContentRule{Pattern: re, ScorePerHit: 20})
	}
	applyOverrides(&c.weight, &c.enabled, cfg)
	return c
}

func (c *ContentChecker) Name() string    { return "content" }
func (c *ContentChecker) Weight() float64 { return c.weight }
func (c *ContentChecker) Enabled() bool   { return c.enabled }

func (c *ContentChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	if cc.Message == nil {
		return antispam.SpamCheckResult{Score: 0}, nil
	}

	haystack := cc.Message.Subject() + "\n" + cc.Message.TextBody()

	var score float64
	var hits []string
	for _, rule := range c.Rules {
		if rule.Pattern.MatchString(haystack) {
			score += rule.ScorePerHit
			hits = append(hits, rule.Pattern.String())
		}
	}
	if score > 100 {
		score = 100
	}

	if len(hits) == 0 {
		return antispam.SpamCheckResult{Score: 0}, nil
	}
	return antispam.SpamCheckResult{
		IsSpam:  score >= 40,
		Score:   score,
		Reason:  fmt.Sprintf("%d content rule(s) matched", len(hits)),
		Details: map[string]string{"matches": strings.Join(hits, ", ")},
	}, nil
}
