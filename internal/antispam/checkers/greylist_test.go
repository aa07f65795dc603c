package checkers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
)

func ccFor(addr string, from, to string) *antispam.CheckContext {
	return &antispam.CheckContext{
		RemoteAddr: &net.TCPAddr{IP: net.ParseIP(addr)},
		MailFrom:   from,
		RcptTo:     []string{to},
	}
}

func TestGreylistDefersFirstSighting(t *testing.T) {
	c := NewGreylistChecker(nil)
	cc := ccFor("203.0.113.9", "a@example.org", "b@example.com")

	res, err := c.Check(context.Background(), cc)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsSpam || res.Score == 0 {
		t.Errorf("expected first sighting to be deferred, got %+v", res)
	}
}

func TestGreylistRejectsRetryBeforeDelay(t *testing.T) {
	c := NewGreylistChecker(nil)
	cc := ccFor("203.0.113.9", "a@example.org", "b@example.com")

	if _, err := c.Check(context.Background(), cc); err != nil {
		t.Fatal(err)
	}
	res, err := c.Check(context.Background(), cc)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsSpam {
		t.Errorf("expected an immediate retry to still be deferred, got %+v", res)
	}
}

func TestGreylistAcceptsAndWhitelistsAfterDelay(t *testing.T) {
	c := NewGreylistChecker(nil)
	c.Delay = 0
	cc := ccFor("203.0.113.9", "a@example.org", "b@example.com")

	if _, err := c.Check(context.Background(), cc); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	res, err := c.Check(context.Background(), cc)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsSpam || res.Score != 0 {
		t.Errorf("expected the retry past the delay window to be accepted, got %+v", res)
	}

	res, err = c.Check(context.Background(), cc)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsSpam || res.Score != 0 {
		t.Errorf("expected the whitelisted triple to be accepted again, got %+v", res)
	}
}

func TestClassCMasksToSlash24(t *testing.T) {
	a := &net.TCPAddr{IP: net.ParseIP("203.0.113.9")}
	b := &net.TCPAddr{IP: net.ParseIP("203.0.113.200")}
	if classC(a) != classC(b) {
		t.Errorf("expected addresses in the same /24 to match: %q vs %q", classC(a), classC(b))
	}
}
