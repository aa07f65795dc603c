// Package antispam implements a weighted ensemble of spam checkers
// (internal/antispam/checkers) that score an incoming message and
// produce a single accept/mark/quarantine/greylist/reject decision.
package antispam

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/message"
)

// CheckContext carries everything a SpamChecker might need, built once per
// message so checkers never mutate the message itself.
type CheckContext struct {
	RemoteAddr    net.Addr
	HeloDomain    string
	MailFrom      string
	RcptTo        []string
	Authenticated bool
	TLS           bool
	Message       *message.Message
}

// SpamCheckResult is a single checker's verdict. Score is on a 0..100
// scale, matching the composite AntiSpamResult scale.
type SpamCheckResult struct {
	IsSpam  bool
	Score   float64
	Reason  string
	Details map[string]string
}

// Action is the decision the pipeline reaches after scoring.
type Action string

const (
	Accept     Action = "accept"
	Mark       Action = "mark"
	Quarantine Action = "quarantine"
	Greylist   Action = "greylist"
	Reject     Action = "reject"
)

// AntiSpamResult is the composite outcome of running every enabled checker.
type AntiSpamResult struct {
	TotalScore       float64
	PerCheckerScores map[string]float64
	Action           Action
	Reasons          []string
}

// SpamChecker is implemented by each member of the ensemble (see
// internal/antispam/checkers). Checkers must not mutate c.Message.
type SpamChecker interface {
	Name() string
	Weight() float64
	Enabled() bool
	Check(ctx context.Context, c *CheckContext) (SpamCheckResult, error)
}

// Pipeline runs a registry of SpamCheckers and turns their combined,
// weighted score into an Action using the configured thresholds.
type Pipeline struct {
	Checkers   []SpamChecker
	Thresholds config.ThresholdConfig

	// CheckerTimeout bounds each checker's Check call. Zero means a
	// 5-second default is used.
	CheckerTimeout time.Duration
}

// NewPipeline builds a Pipeline from the given checkers and thresholds,
// using the default per-checker timeout. Use the struct literal directly
// to override CheckerTimeout.
func NewPipeline(thresholds config.ThresholdConfig, checkers ...SpamChecker) *Pipeline {
	return &Pipeline{Checkers: checkers, Thresholds: thresholds}
}

// checkerOutcome is one checker's result, gathered on its own goroutine.
type checkerOutcome struct {
	name   string
	weight float64
	result SpamCheckResult
	err    error
}

// Evaluate runs every enabled checker concurrently, each bounded by
// CheckerTimeout, and combines their scores into totalScore =
// clamp(Σ result.score × checker.weight, 0, 100), then maps that onto an
// Action via the configured thresholds (checked from Reject down to Mark,
// the first threshold the score meets or exceeds wins).
//
// A checker error or timeout is treated as a zero-weight abstention: it's
// recorded in Reasons but does not contribute to the sum, since a broken
// or slow checker should not be able to either force-reject or silently
// waive all mail.
func (p *Pipeline) Evaluate(ctx context.Context, cc *CheckContext) (AntiSpamResult, error) {
	res := AntiSpamResult{
		PerCheckerScores: map[string]float64{},
	}

	timeout := p.CheckerTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var enabled []SpamChecker
	for _, chk := range p.Checkers {
		if chk.Enabled() {
			enabled = append(enabled, chk)
		}
	}

	outcomes := make([]checkerOutcome, len(enabled))
	var wg sync.WaitGroup
	for i, chk := range enabled {
		wg.Add(1)
		go func(i int, chk SpamChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			r, err := chk.Check(cctx, cc)
			outcomes[i] = checkerOutcome{name: chk.Name(), weight: chk.Weight(), result: r, err: err}
		}(i, chk)
	}
	wg.Wait()

	var sum float64
	for _, o := range outcomes {
		if o.err != nil {
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s: error: %v", o.name, o.err))
			continue
		}

		res.PerCheckerScores[o.name] = o.result.Score
		sum += o.result.Score * o.weight

		if o.result.IsSpam && o.result.Reason != "" {
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s: %s", o.name, o.result.Reason))
		}
	}

	switch {
	case sum < 0:
		sum = 0
	case sum > 100:
		sum = 100
	}
	res.TotalScore = sum

	res.Action = p.decide(res.TotalScore)
	return res, nil
}

func (p *Pipeline) decide(score float64) Action {
	switch {
	case score >= p.Thresholds.Reject:
		return Reject
	case score >= p.Thresholds.Quarantine:
		return Quarantine
	case score >= p.Thresholds.Greylist:
		return Greylist
	case score >= p.Thresholds.Mark:
		return Mark
	default:
		return Accept
	}
}

// sortedCheckerNames is a small helper used by tests and logging to get a
// deterministic ordering over a result's per-checker scores.
func sortedCheckerNames(scores map[string]float64) []string {
	names := make([]string, 0, len(scores))
	for n := range scores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
