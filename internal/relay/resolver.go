package relay

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// MXHost is one entry of a domain's MX record set, with its DNS
// preference value.
type MXHost struct {
	Host       string
	Preference uint16
}

// Resolver looks up MX hosts and their IPs for outbound delivery. The
// default implementation queries the system's configured resolvers
// directly via miekg/dns, rather than going through net.LookupMX, so the
// relay engine can apply its own timeout and retry policy per query.
type Resolver interface {
	ResolveMX(domain string) ([]MXHost, error)
	ResolveA(host string) ([]net.IP, error)
}

// DNSResolver is the default Resolver, backed by a miekg/dns client
// talking to the resolvers listed in /etc/resolv.conf (or an explicit
// server list).
type DNSResolver struct {
	Servers []string
	client  *dns.Client
}

// NewDNSResolver builds a DNSResolver. If servers is empty, the system's
// /etc/resolv.conf is used.
func NewDNSResolver(servers ...string) (*DNSResolver, error) {
	r := &DNSResolver{client: new(dns.Client)}
	if len(servers) > 0 {
		r.Servers = servers
		return r, nil
	}

	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("relay: reading resolv.conf: %w", err)
	}
	for _, s := range cfg.Servers {
		r.Servers = append(r.Servers, net.JoinHostPort(s, cfg.Port))
	}
	return r, nil
}

func (r *DNSResolver) exchange(q *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.Servers {
		resp, _, err := r.client.Exchange(q, server)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("relay: no DNS servers configured")
	}
	return nil, lastErr
}

// ResolveMX returns the domain's MX hosts, sorted by ascending
// preference (most preferred first). If the domain has no MX records,
// falls back to treating the domain itself as a single implicit MX host
// with preference 0, per RFC 5321 §5.1.
func (r *DNSResolver) ResolveMX(domain string) ([]MXHost, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	q.RecursionDesired = true

	resp, err := r.exchange(q)
	if err != nil {
		return nil, fmt.Errorf("relay: MX lookup for %q: %w", domain, err)
	}

	var hosts []MXHost
	for _, rr := range resp.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		hosts = append(hosts, MXHost{
			Host:       strings.TrimSuffix(mx.Mx, "."),
			Preference: mx.Preference,
		})
	}

	if len(hosts) == 0 {
		if ips, aerr := r.ResolveA(domain); aerr == nil && len(ips) > 0 {
			return []MXHost{{Host: domain, Preference: 0}}, nil
		}
		return nil, fmt.Errorf("relay: no MX records for %q", domain)
	}

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Preference < hosts[j].Preference })

	// Cap at 5 MX hosts: beyond that we're just wasting time against
	// misconfigured domains.
	if len(hosts) > 5 {
		hosts = hosts[:5]
	}
	return hosts, nil
}

// ResolveA returns the IPv4 addresses for host.
func (r *DNSResolver) ResolveA(host string) ([]net.IP, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	q.RecursionDesired = true

	resp, err := r.exchange(q)
	if err != nil {
		return nil, fmt.Errorf("relay: A lookup for %q: %w", host, err)
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ips = append(ips, a.A)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("relay: no A records for %q", host)
	}
	return ips, nil
}
