// Package checkers implements the concrete SpamChecker ensemble members
// (SPF, DKIM, DMARC, RBL, Bayesian, content/subject, greylist) that plug
// into internal/antispam.Pipeline.
package checkers

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// resolver is the minimal DNS surface the checkers need: TXT lookups for
// DMARC/SPF-adjacent records and A lookups for RBL zone queries. Backed
// by a miekg/dns client talking to the system's resolvers, the same way
// internal/relay.DNSResolver resolves MX/A records for delivery.
type resolver struct {
	Servers []string
	client  *dns.Client
}

func newResolver(servers ...string) (*resolver, error) {
	r := &resolver{client: new(dns.Client)}
	if len(servers) > 0 {
		r.Servers = servers
		return r, nil
	}

	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("checkers: reading resolv.conf: %w", err)
	}
	for _, s := range cfg.Servers {
		r.Servers = append(r.Servers, net.JoinHostPort(s, cfg.Port))
	}
	return r, nil
}

func (r *resolver) exchange(q *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.Servers {
		resp, _, err := r.client.Exchange(q, server)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("checkers: no DNS servers configured")
	}
	return nil, lastErr
}

// lookupTXT returns the concatenated TXT record strings for name.
func (r *resolver) lookupTXT(name string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	q.RecursionDesired = true

	resp, err := r.exchange(q)
	if err != nil {
		return nil, fmt.Errorf("checkers: TXT lookup for %q: %w", name, err)
	}

	var out []string
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		out = append(out, strings.Join(txt.Txt, ""))
	}
	return out, nil
}

// lookupA reports whether name has at least one A record, which is all
// RBL zone lookups need to know.
func (r *resolver) lookupA(name string) (bool, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	q.RecursionDesired = true

	resp, err := r.exchange(q)
	if err != nil {
		return false, fmt.Errorf("checkers: A lookup for %q: %w", name, err)
	}

	for _, rr := range resp.Answer {
		if _, ok := rr.(*dns.A); ok {
			return true, nil
		}
	}
	return false, nil
}

// reverseIP turns an IPv4 address into its RBL query form, e.g.
// 192.0.2.5 -> "5.2.0.192".
func reverseIP(ip net.IP) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("checkers: RBL lookups only support IPv4, got %v", ip)
	}
	return fmt.Sprintf("%d.%d.%d.%d", v4[3], v4[2], v4[1], v4[0]), nil
}
