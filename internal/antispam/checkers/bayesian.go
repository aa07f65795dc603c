package checkers

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/config"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]{3,}`)

// BayesianChecker scores a message by combining each token's trained
// spam/ham probability with Paul Graham's "naive Bayesian" combining
// rule. It starts untrained (every token neutral at 0.5) and is meant to
// be fed real mail via Train as it's classified, either by the other
// checkers' verdicts or manual review.
type BayesianChecker struct {
	weight  float64
	enabled bool

	mu        sync.RWMutex
	spamCount map[string]int
	hamCount  map[string]int
	spamTotal int
	hamTotal  int
}

// NewBayesianChecker builds an untrained BayesianChecker.
func NewBayesianChecker(cfg *config.CheckerConfig) *BayesianChecker {
	c := &BayesianChecker{
		weight:    0.2,
		enabled:   true,
		spamCount: map[string]int{},
		hamCount:  map[string]int{},
	}
	applyOverrides(&c.weight, &c.enabled, cfg)
	return c
}

func (c *BayesianChecker) Name() string    { return "bayesian" }
func (c *BayesianChecker) Weight() float64 { return c.weight }
func (c *BayesianChecker) Enabled() bool   { return c.enabled }

// Train updates the token statistics from content, a message known
// (from some other authoritative signal) to be spam or ham. This is the
// out-of-band training API the spam checker contract calls for; nothing
// in the request path calls it directly.
func (c *BayesianChecker) Train(content string, isSpam bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := map[string]bool{}
	for _, tok := range tokenize(content) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if isSpam {
			c.spamCount[tok]++
		} else {
			c.hamCount[tok]++
		}
	}
	if isSpam {
		c.spamTotal++
	} else {
		c.hamTotal++
	}
}

func (c *BayesianChecker) Check(ctx context.Context, cc *antispam.CheckContext) (antispam.SpamCheckResult, error) {
	if cc.Message == nil {
		return antispam.SpamCheckResult{Score: 0}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.spamTotal == 0 && c.hamTotal == 0 {
		return antispam.SpamCheckResult{Score: 0, Reason: "untrained"}, nil
	}

	content := cc.Message.Subject() + "\n" + cc.Message.TextBody()
	tokens := tokenize(content)

	// Take the tokens with the most extreme (furthest from 0.5)
	// individual probabilities; this keeps a long message's verdict
	// from being diluted by mostly-neutral words, the same heuristic
	// Paul Graham's original filter uses.
	type scored struct {
		prob float64
		dist float64
	}
	var probs []scored
	seen := map[string]bool{}
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		p := c.tokenProbability(tok)
		probs = append(probs, scored{prob: p, dist: absFloat(p - 0.5)})
	}

	sort.Slice(probs, func(i, j int) bool { return probs[i].dist > probs[j].dist })
	if len(probs) > 15 {
		probs = probs[:15]
	}
	if len(probs) == 0 {
		return antispam.SpamCheckResult{Score: 0, Reason: "no scorable tokens"}, nil
	}

	prod, inv := 1.0, 1.0
	for _, s := range probs {
		prod *= s.prob
		inv *= 1 - s.prob
	}
	combined := prod / (prod + inv)
	score := combined * 100

	return antispam.SpamCheckResult{
		IsSpam: combined > 0.9,
		Score:  score,
		Reason: "bayesian token analysis",
	}, nil
}

// tokenProbability returns the trained spam probability for tok, using
// Graham's smoothing: unseen tokens default to neutral (0.5), and tokens
// seen only in one corpus are pulled slightly away from the extremes to
// avoid a single rare word dominating the combined score.
func (c *BayesianChecker) tokenProbability(tok string) float64 {
	s := float64(c.spamCount[tok])
	h := float64(c.hamCount[tok])
	if s+h == 0 {
		return 0.5
	}

	spamRate := s / maxFloat(1, float64(c.spamTotal))
	hamRate := h / maxFloat(1, float64(c.hamTotal))
	if spamRate+hamRate == 0 {
		return 0.5
	}

	p := spamRate / (spamRate + hamRate)
	const minProb, maxProb = 0.01, 0.99
	switch {
	case p < minProb:
		return minProb
	case p > maxProb:
		return maxProb
	default:
		return p
	}
}

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
