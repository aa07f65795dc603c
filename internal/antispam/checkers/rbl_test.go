package checkers

import (
	"context"
	"net"
	"testing"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
)

func TestRBLCheckerDisabledWithoutZones(t *testing.T) {
	c := NewRBLChecker(nil)
	if c.Enabled() {
		t.Error("expected RBLChecker with no zones configured to be disabled")
	}
}

func TestRBLCheckerSkipsNonTCPAddr(t *testing.T) {
	c := NewRBLChecker(nil, "zen.spamhaus.org")
	// Force-enable regardless of whether DNS setup succeeded in this
	// sandbox, since this test only exercises the non-TCP-addr guard.
	c.enabled = true
	cc := &antispam.CheckContext{RemoteAddr: fakeAddr{}}

	res, err := c.Check(context.Background(), cc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 || res.IsSpam {
		t.Errorf("expected no-op for a non-TCP address, got %+v", res)
	}
}

func TestReverseIP(t *testing.T) {
	rev, err := reverseIP(net.ParseIP("192.0.2.5"))
	if err != nil {
		t.Fatal(err)
	}
	if rev != "5.2.0.192" {
		t.Errorf("got %q, want 5.2.0.192", rev)
	}
}

func TestReverseIPRejectsIPv6(t *testing.T) {
	if _, err := reverseIP(net.ParseIP("2001:db8::1")); err == nil {
		t.Error("expected an error for an IPv6 address")
	}
}
