package config

import (
	"io/ioutil"
	"os"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	f, err := ioutil.TempFile("", "config_test_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(contents); err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadDefaults(t *testing.T) {
	path := writeTemp(t, `
ports:
  - "localhost:2525"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxConnectionsPerIP != 10 {
		t.Errorf("got MaxConnectionsPerIP %d, want 10", c.MaxConnectionsPerIP)
	}
	if c.MaxRetryCount != 3 {
		t.Errorf("got MaxRetryCount %d, want 3", c.MaxRetryCount)
	}
	if c.CommandTimeout != 30*time.Second {
		t.Errorf("got CommandTimeout %v, want 30s", c.CommandTimeout)
	}
	if c.Relay.BounceSender != "<>" {
		t.Errorf("got BounceSender %q, want <>", c.Relay.BounceSender)
	}
	if c.AntiSpam.Thresholds.Reject != 90 {
		t.Errorf("got Reject threshold %v, want 90", c.AntiSpam.Thresholds.Reject)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeTemp(t, `
ports:
  - ":25"
max_connections_per_ip: 5
relay:
  domain_routing:
    example.com: smarthost.example.net
antispam:
  thresholds:
    reject: 95
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxConnectionsPerIP != 5 {
		t.Errorf("got MaxConnectionsPerIP %d, want 5", c.MaxConnectionsPerIP)
	}
	if c.Relay.DomainRouting["example.com"] != "smarthost.example.net" {
		t.Errorf("domain routing override not applied: %v", c.Relay.DomainRouting)
	}
	if c.AntiSpam.Thresholds.Reject != 95 {
		t.Errorf("got Reject threshold %v, want 95", c.AntiSpam.Thresholds.Reject)
	}
}

func TestLoadMissingPorts(t *testing.T) {
	path := writeTemp(t, `max_connections: 100`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing ports")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
