package store

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/Taiizor/Zetian-sub004/internal/envelope"
	"github.com/Taiizor/Zetian-sub004/internal/message"
)

// MDAStore persists a message by handing it to a local mail delivery
// agent binary (procmail, maildrop, or similar), once per recipient in
// the message's envelope. It's the concrete MessageStore a deployment
// wires in when it wants local mailboxes rather than relaying
// everything.
type MDAStore struct {
	Binary  string        // path to the MDA binary
	Args    []string      // arguments, with %to%/%to_user%/%to_domain%/%from% placeholders
	Timeout time.Duration // per-recipient invocation timeout
}

// NewMDAStore builds an MDAStore with a 30 second per-recipient timeout.
func NewMDAStore(binary string, args ...string) *MDAStore {
	return &MDAStore{Binary: binary, Args: args, Timeout: 30 * time.Second}
}

// Save invokes the MDA once per recipient address in m.Envelope.RcptTo.
// Any MDA failure (a timeout or a non-zero exit; exit code 75, the
// sysexits.h EX_TEMPFAIL convention, gets its own error text) is returned
// as an error so the caller can return a 4xx to the client, and the
// remaining recipients are not attempted.
func (s *MDAStore) Save(ctx context.Context, sess SessionInfo, m *message.Message) (bool, error) {
	for _, to := range m.Envelope.RcptTo {
		if err := s.deliverOne(ctx, m.Envelope.MailFrom, to, m.Raw); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *MDAStore) deliverOne(ctx context.Context, from, to string, raw []byte) error {
	from = sanitizeForMDA(from)
	to = sanitizeForMDA(to)

	replacer := strings.NewReplacer(
		"%from%", from,
		"%from_user%", envelope.UserOf(from),
		"%from_domain%", envelope.DomainOf(from),
		"%to%", to,
		"%to_user%", envelope.UserOf(to),
		"%to_domain%", envelope.DomainOf(to),
	)

	var args []string
	for _, a := range s.Args {
		args = append(args, replacer.Replace(a))
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.Binary, args...)
	cmd.Stdin = bytes.NewReader(raw)

	output, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("store: MDA delivery to %q timed out", to)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.ExitStatus() == 75 {
				return fmt.Errorf("store: MDA delivery to %q failed transiently: %s", to, output)
			}
		}
		return fmt.Errorf("store: MDA delivery to %q failed: %v: %s", to, err, output)
	}
	return nil
}

// sanitizeForMDA strips characters that would be problematic to pass
// through to an external command, as defense in depth (the actual
// address syntax validation happens earlier, during RCPT TO).
func sanitizeForMDA(s string) string {
	valid := func(r rune) rune {
		switch {
		case unicode.IsSpace(r), unicode.IsControl(r),
			strings.ContainsRune("/;\"'\\|*&$%()[]{}`!", r):
			return rune(-1)
		default:
			return r
		}
	}
	return strings.Map(valid, s)
}
