package checkers

import (
	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
)

// defaultRBLZones lists well-known public DNSBLs used when the
// "rbl" checker has no zones configured explicitly.
var defaultRBLZones = []string{"zen.spamhaus.org"}

// defaultContentPatterns is a small, intentionally conservative starter
// set; operators are expected to tune config.AntiSpamConfig.Checkers
// ["content"].Patterns for their own mail stream.
var defaultContentPatterns = []string{
	`\bviagra\b`,
	`\bwire transfer\b.{0,40}\burgent\b`,
	`\bclick here\b.{0,40}\bclaim\b`,
}

// cfgFor returns the named entry of cfg.Checkers, or nil if absent, so
// each constructor can treat "not configured" uniformly.
func cfgFor(cfg config.AntiSpamConfig, name string) *config.CheckerConfig {
	if c, ok := cfg.Checkers[name]; ok {
		return &c
	}
	return nil
}

// BuildDefaultEnsemble constructs the full checker registry described in
// the antispam service's checker contract, wired against cfg.
func BuildDefaultEnsemble(cfg config.AntiSpamConfig) []antispam.SpamChecker {
	return []antispam.SpamChecker{
		NewSPFChecker(cfgFor(cfg, "spf")),
		NewDKIMChecker(cfgFor(cfg, "dkim")),
		NewDMARCChecker(cfgFor(cfg, "dmarc")),
		NewRBLChecker(cfgFor(cfg, "rbl"), defaultRBLZones...),
		NewBayesianChecker(cfgFor(cfg, "bayesian")),
		NewContentChecker(cfgFor(cfg, "content"), defaultContentPatterns...),
		NewGreylistChecker(cfgFor(cfg, "greylist")),
	}
}
