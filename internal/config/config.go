// Package config loads the server's YAML configuration file and applies
// defaults, in the style of a struct-tag driven loader: one Config value
// unmarshaled directly from disk, with zero-value fields backfilled by
// Config.setDefaults.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the top-level server configuration, loaded from a single YAML
// file.
type Config struct {
	// Hostname is this server's identity: used in the SMTP greeting, the
	// generated Received header, and as the Reporting-MTA / From domain
	// of bounce messages.
	Hostname string `yaml:"hostname"`

	// Ports to listen on, e.g. "localhost:25" or ":587". At least one is
	// required.
	Ports []string `yaml:"ports"`

	// ImplicitTLSPorts are listened on with TLS negotiated immediately
	// (SMTPS), as opposed to via STARTTLS.
	ImplicitTLSPorts []string `yaml:"implicit_tls_ports,omitempty"`

	MaxConnections       int           `yaml:"max_connections"`
	MaxConnectionsPerIP  int           `yaml:"max_connections_per_ip"`
	MaxMessageSize       int64         `yaml:"max_message_size"`
	MaxRecipients        int           `yaml:"max_recipients"`
	MaxRetryCount        int           `yaml:"max_retry_count"`
	CommandTimeout       time.Duration `yaml:"command_timeout"`

	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	RequireAuthentication   bool `yaml:"require_authentication"`
	RequireSecureConnection bool `yaml:"require_secure_connection"`

	Relay    RelayConfig    `yaml:"relay"`
	AntiSpam AntiSpamConfig `yaml:"antispam"`
}

// RelayConfig configures the outbound delivery engine (see internal/relay).
type RelayConfig struct {
	MaxConcurrentDeliveries int           `yaml:"max_concurrent_deliveries"`
	MaxRetryCount           int           `yaml:"max_retry_count"`
	MessageLifetime         time.Duration `yaml:"message_lifetime"`
	ConnectionTimeout       time.Duration `yaml:"connection_timeout"`

	UseMxRouting     bool     `yaml:"use_mx_routing"`
	EnableTLS        bool     `yaml:"enable_tls"`
	RequireTLS       bool     `yaml:"require_tls"`
	DefaultSmartHost string   `yaml:"default_smart_host,omitempty"`
	SmartHosts       []string `yaml:"smart_hosts,omitempty"`

	// DomainRouting maps a recipient domain to an override smart host,
	// taking precedence over DefaultSmartHost and MX lookups for that
	// domain.
	DomainRouting map[string]string `yaml:"domain_routing,omitempty"`

	LocalDomains  []string `yaml:"local_domains,omitempty"`
	RelayDomains  []string `yaml:"relay_domains,omitempty"`
	RelayNetworks []string `yaml:"relay_networks,omitempty"`

	EnableBounce bool   `yaml:"enable_bounce"`
	BounceSender string `yaml:"bounce_sender,omitempty"`
}

// AntiSpamConfig configures the scoring thresholds for the checker
// ensemble (see internal/antispam).
type AntiSpamConfig struct {
	Thresholds ThresholdConfig `yaml:"thresholds"`

	// CheckerTimeout bounds each individual checker's Check call; a
	// checker that doesn't return within this is treated as an error
	// (abstention), so a single slow checker (e.g. a DNSBL lookup against
	// an unresponsive server) can't stall the whole pipeline.
	CheckerTimeout time.Duration `yaml:"checker_timeout"`

	// Checkers lists per-checker weight overrides and enable/disable
	// flags, keyed by checker name (e.g. "spf", "dkim", "dmarc", "rbl",
	// "bayesian", "content", "greylist").
	Checkers map[string]CheckerConfig `yaml:"checkers,omitempty"`
}

// CheckerConfig overrides a single antispam checker's weight and enabled
// state, plus whatever checker-specific tuning that checker needs
// (DNSBL zones for "rbl", regexes for "content").
type CheckerConfig struct {
	Weight  float64 `yaml:"weight"`
	Enabled *bool   `yaml:"enabled,omitempty"`

	// Zones lists DNSBL zones to query; used only by the "rbl" checker.
	Zones []string `yaml:"zones,omitempty"`

	// Patterns lists regular expressions to match against the subject
	// and body; used only by the "content" checker.
	Patterns []string `yaml:"patterns,omitempty"`
}

// ThresholdConfig sets the composite-score cutoffs that determine what
// action the antispam pipeline takes.
type ThresholdConfig struct {
	Reject     float64 `yaml:"reject"`
	Quarantine float64 `yaml:"quarantine"`
	Greylist   float64 `yaml:"greylist"`
	Mark       float64 `yaml:"mark"`
}

// Load reads and parses the YAML configuration file at path, applying
// defaults to any field left at its zero value.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	c.setDefaults()

	if len(c.Ports) == 0 && len(c.ImplicitTLSPorts) == 0 {
		return nil, fmt.Errorf("config: at least one of ports/implicit_tls_ports is required")
	}

	return c, nil
}

func (c *Config) setDefaults() {
	if c.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Hostname = h
		} else {
			c.Hostname = "localhost"
		}
	}
	if c.MaxConnectionsPerIP == 0 {
		c.MaxConnectionsPerIP = 10
	}
	if c.MaxRetryCount == 0 {
		c.MaxRetryCount = 3
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.MaxRecipients == 0 {
		c.MaxRecipients = 100
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}

	if c.Relay.MaxConcurrentDeliveries == 0 {
		c.Relay.MaxConcurrentDeliveries = 20
	}
	if c.Relay.MaxRetryCount == 0 {
		c.Relay.MaxRetryCount = 6
	}
	if c.Relay.MessageLifetime == 0 {
		c.Relay.MessageLifetime = 5 * 24 * time.Hour
	}
	if c.Relay.ConnectionTimeout == 0 {
		c.Relay.ConnectionTimeout = 30 * time.Second
	}
	if c.Relay.BounceSender == "" {
		c.Relay.BounceSender = "<>"
	}

	if c.AntiSpam.CheckerTimeout == 0 {
		c.AntiSpam.CheckerTimeout = 5 * time.Second
	}

	t := &c.AntiSpam.Thresholds
	if t.Reject == 0 {
		t.Reject = 90
	}
	if t.Quarantine == 0 {
		t.Quarantine = 70
	}
	if t.Greylist == 0 {
		t.Greylist = 50
	}
	if t.Mark == 0 {
		t.Mark = 30
	}
}
