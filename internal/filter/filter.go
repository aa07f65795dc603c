// Package filter implements composable acceptance policies for inbound
// mail: a predicate pair evaluated at MAIL FROM and RCPT TO time, before
// the message store or relay queue ever see the envelope.
package filter

import (
	"context"
	"strings"
	"sync"

	"github.com/Taiizor/Zetian-sub004/internal/set"
)

// Filter decides whether a sender or recipient should be accepted at the
// point in the SMTP dialog the check applies to. Reason is a short,
// human-readable explanation used in logs and in the 550 rejection text
// when the predicate returns false.
type Filter interface {
	// CanAcceptFrom is evaluated at MAIL FROM. size is the SIZE= value
	// declared by the client, or 0 if none was given.
	CanAcceptFrom(ctx context.Context, from string, size int64) (accept bool, reason string)
	// CanDeliverTo is evaluated at RCPT TO, once per recipient.
	CanDeliverTo(ctx context.Context, to, from string) (accept bool, reason string)
}

// acceptAllFilter accepts unconditionally; var AcceptAll below is the
// only instance anyone needs.
type acceptAllFilter struct{}

func (acceptAllFilter) CanAcceptFrom(context.Context, string, int64) (bool, string) {
	return true, ""
}

func (acceptAllFilter) CanDeliverTo(context.Context, string, string) (bool, string) {
	return true, ""
}

// AcceptAll always accepts. Useful as a default or as a placeholder in
// tests.
var AcceptAll Filter = acceptAllFilter{}

// mode controls how a CompositeFilter combines its children.
type mode int

const (
	// All requires every child to accept.
	All mode = iota
	// Any requires at least one child to accept.
	Any
)

// CompositeFilter combines several filters with All or Any semantics.
// Children are evaluated concurrently and the result folded per mode,
// matching the concurrent-evaluation requirement for a filter chain.
type CompositeFilter struct {
	mode     mode
	children []Filter
}

// NewAllFilter returns a CompositeFilter that accepts only if every child
// filter accepts. An empty composite accepts.
func NewAllFilter(children ...Filter) *CompositeFilter {
	return &CompositeFilter{mode: All, children: children}
}

// NewAnyFilter returns a CompositeFilter that accepts if any child filter
// accepts. An empty composite accepts.
func NewAnyFilter(children ...Filter) *CompositeFilter {
	return &CompositeFilter{mode: Any, children: children}
}

// verdict is one child's predicate outcome, gathered on its own goroutine.
type verdict struct {
	ok     bool
	reason string
}

func (c *CompositeFilter) evaluate(run func(Filter) verdict) (bool, string) {
	if len(c.children) == 0 {
		return true, ""
	}

	verdicts := make([]verdict, len(c.children))
	var wg sync.WaitGroup
	for i, child := range c.children {
		wg.Add(1)
		go func(i int, child Filter) {
			defer wg.Done()
			verdicts[i] = run(child)
		}(i, child)
	}
	wg.Wait()

	switch c.mode {
	case All:
		for _, v := range verdicts {
			if !v.ok {
				return false, v.reason
			}
		}
		return true, ""
	default: // Any
		var lastReason string
		for _, v := range verdicts {
			if v.ok {
				return true, ""
			}
			lastReason = v.reason
		}
		return false, lastReason
	}
}

func (c *CompositeFilter) CanAcceptFrom(ctx context.Context, from string, size int64) (bool, string) {
	return c.evaluate(func(f Filter) verdict {
		ok, reason := f.CanAcceptFrom(ctx, from, size)
		return verdict{ok, reason}
	})
}

func (c *CompositeFilter) CanDeliverTo(ctx context.Context, to, from string) (bool, string) {
	return c.evaluate(func(f Filter) verdict {
		ok, reason := f.CanDeliverTo(ctx, to, from)
		return verdict{ok, reason}
	})
}

// DomainAllowlist accepts only recipients in one of the given domains. It
// places no restriction on the sender.
type DomainAllowlist struct {
	domains *set.String
}

// NewDomainAllowlist builds a DomainAllowlist for the given domains
// (case-insensitive).
func NewDomainAllowlist(domains ...string) *DomainAllowlist {
	lowered := make([]string, len(domains))
	for i, d := range domains {
		lowered[i] = strings.ToLower(d)
	}
	return &DomainAllowlist{domains: set.NewString(lowered...)}
}

func (d *DomainAllowlist) CanAcceptFrom(context.Context, string, int64) (bool, string) {
	return true, ""
}

func (d *DomainAllowlist) CanDeliverTo(ctx context.Context, to, from string) (bool, string) {
	if !d.domains.Has(strings.ToLower(domainOf(to))) {
		return false, "recipient domain not in allowlist: " + domainOf(to)
	}
	return true, ""
}

// DomainBlocklist rejects recipients in one of the given domains. It
// places no restriction on the sender.
type DomainBlocklist struct {
	domains *set.String
}

// NewDomainBlocklist builds a DomainBlocklist for the given domains
// (case-insensitive).
func NewDomainBlocklist(domains ...string) *DomainBlocklist {
	lowered := make([]string, len(domains))
	for i, d := range domains {
		lowered[i] = strings.ToLower(d)
	}
	return &DomainBlocklist{domains: set.NewString(lowered...)}
}

func (d *DomainBlocklist) CanAcceptFrom(context.Context, string, int64) (bool, string) {
	return true, ""
}

func (d *DomainBlocklist) CanDeliverTo(ctx context.Context, to, from string) (bool, string) {
	if d.domains.Has(strings.ToLower(domainOf(to))) {
		return false, "recipient domain blocked: " + domainOf(to)
	}
	return true, ""
}

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return addr[i+1:]
}

// Size rejects a transaction whose declared SIZE exceeds MaxBytes. A
// transaction with no declared size (size == 0) is let through; the
// session's own DATA-time byte count is the backstop for that case.
type Size struct {
	MaxBytes int64
}

// NewSize returns a Size filter with the given maximum.
func NewSize(maxBytes int64) *Size {
	return &Size{MaxBytes: maxBytes}
}

func (s *Size) CanAcceptFrom(ctx context.Context, from string, size int64) (bool, string) {
	if s.MaxBytes > 0 && size > s.MaxBytes {
		return false, "declared message size exceeds maximum"
	}
	return true, ""
}

func (s *Size) CanDeliverTo(context.Context, string, string) (bool, string) {
	return true, ""
}
