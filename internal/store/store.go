// Package store defines the contract mail handlers use to persist a
// received message once the antispam pipeline and filter chain have
// accepted it.
package store

import (
	"context"

	"github.com/Taiizor/Zetian-sub004/internal/message"
)

// SessionInfo is the subset of session state a MessageStore needs in
// order to persist a message: who sent it, over what connection, and
// whether they authenticated.
type SessionInfo struct {
	RemoteAddr   string
	HeloDomain   string
	AuthUser     string
	AuthDomain   string
	Authenticated bool
	TLS          bool
}

// MessageStore persists an accepted message for local delivery, relay
// queuing, or both. Save returns (queued, err): queued reports whether
// the message requires further relay processing (as opposed to being
// fully handled, e.g. delivered straight to a local mailbox); err is
// non-nil only for failures that should be surfaced to the SMTP client
// as a transient error.
type MessageStore interface {
	Save(ctx context.Context, sess SessionInfo, m *message.Message) (queued bool, err error)
}

// Func adapts a plain function to the MessageStore interface.
type Func func(ctx context.Context, sess SessionInfo, m *message.Message) (bool, error)

func (f Func) Save(ctx context.Context, sess SessionInfo, m *message.Message) (bool, error) {
	return f(ctx, sess, m)
}
