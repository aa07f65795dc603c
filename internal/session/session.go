// Package session implements the SMTP connection state machine: command
// dispatch, envelope accumulation, STARTTLS/AUTH negotiation and the
// DATA transfer, wired to the filter chain, message store, antispam
// pipeline and event bus.
package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/auth"
	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/envelope"
	"github.com/Taiizor/Zetian-sub004/internal/events"
	"github.com/Taiizor/Zetian-sub004/internal/filter"
	"github.com/Taiizor/Zetian-sub004/internal/maillog"
	"github.com/Taiizor/Zetian-sub004/internal/message"
	"github.com/Taiizor/Zetian-sub004/internal/normalize"
	"github.com/Taiizor/Zetian-sub004/internal/set"
	"github.com/Taiizor/Zetian-sub004/internal/store"
	"github.com/Taiizor/Zetian-sub004/internal/trace"
	"github.com/Taiizor/Zetian-sub004/internal/wire"
)

// State names a point in the SMTP dialog. Invalid commands for the
// current state are rejected with 503, rather than relying on ad hoc
// field checks at each handler.
type State int

const (
	// Greeting is the instant after accept, before the 220 banner is sent.
	Greeting State = iota
	// WaitHelo is after the banner, waiting for HELO/EHLO.
	WaitHelo
	// Idle is after HELO/EHLO, ready for a new MAIL transaction.
	Idle
	// InMail is after MAIL FROM, collecting RCPT TO.
	InMail
	// InData is during the DATA transfer.
	InData
	// Closing means a QUIT (or fatal error) has been seen; the loop is
	// about to return.
	Closing
)

func (s State) String() string {
	switch s {
	case Greeting:
		return "Greeting"
	case WaitHelo:
		return "WaitHelo"
	case Idle:
		return "Idle"
	case InMail:
		return "InMail"
	case InData:
		return "InData"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Enqueuer hands off a message with at least one non-local recipient to
// the relay queue. Implemented by internal/relay.Queue via a thin
// adapter at wiring time.
type Enqueuer interface {
	Enqueue(from string, to []string, raw []byte, priority message.Priority) error
}

// SpamPipeline is implemented by *antispam.Pipeline. It's expressed as an
// interface here so sessions can be tested without constructing a real
// checker ensemble.
type SpamPipeline interface {
	Evaluate(ctx context.Context, cc *antispam.CheckContext) (antispam.AntiSpamResult, error)
}

// Deps are the dependencies shared by every Session accepted on a given
// listener. They're constructed once at server startup and every Session
// holds a pointer to the same Deps value.
type Deps struct {
	Hostname  string
	Config    *config.Config
	TLSConfig *tls.Config

	Authr  *auth.Authenticator
	Filter filter.Filter
	Store  store.MessageStore
	Spam   SpamPipeline
	Relay  Enqueuer
	Events *events.Bus

	LocalDomains *set.String

	// RequireAuthentication mirrors Config.RequireAuthentication, hoisted
	// here so tests can flip it without building a full Config.
	RequireAuthentication bool
}

// Session represents one accepted SMTP connection, from banner to QUIT.
type Session struct {
	ID         string
	deps       *Deps
	conn       net.Conn
	remoteAddr net.Addr
	implicitTLS bool

	reader *bufio.Reader
	writer *bufio.Writer
	tr     *trace.Trace

	state      State
	ehloDomain string
	isESMTP    bool
	onTLS      bool
	tlsState   *tls.ConnectionState

	completedAuth bool
	authUser      string
	authDomain    string

	mailFrom string
	rcptTo   []string

	commandTimeout time.Duration

	errorCount int
}

// New constructs a Session for an already-accepted connection. implicitTLS
// indicates the socket is SMTPS (TLS negotiated immediately) rather than
// plaintext-with-STARTTLS.
func New(id string, conn net.Conn, deps *Deps, implicitTLS bool) *Session {
	timeout := 30 * time.Second
	if deps.Config != nil && deps.Config.CommandTimeout > 0 {
		timeout = deps.Config.CommandTimeout
	}
	return &Session{
		ID:             id,
		deps:           deps,
		conn:           conn,
		implicitTLS:    implicitTLS,
		commandTimeout: timeout,
		state:          Greeting,
	}
}

// Close closes the underlying connection.
func (s *Session) Close() {
	s.conn.Close()
}

// Handle runs the connection's protocol loop to completion: banner,
// command dispatch, and cleanup. It returns when the client disconnects,
// issues QUIT, or the connection is aborted (timeout, too many errors,
// fatal I/O error).
func (s *Session) Handle() {
	defer s.Close()

	s.tr = trace.New("session", s.conn.RemoteAddr().String())
	defer s.tr.Finish()

	s.conn.SetDeadline(time.Now().Add(s.commandTimeout))

	if s.implicitTLS {
		tc := tls.Server(s.conn, s.deps.TLSConfig)
		if err := tc.Handshake(); err != nil {
			s.tr.Errorf("TLS handshake failed: %v", err)
			return
		}
		s.conn = tc
		cstate := tc.ConnectionState()
		s.tlsState = &cstate
		s.onTLS = true
	}

	s.remoteAddr = s.conn.RemoteAddr()
	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	if s.deps.Events != nil {
		s.deps.Events.Publish(&events.Event{Type: events.SessionCreated, Data: s})
	}
	defer func() {
		if s.deps.Events != nil {
			s.deps.Events.Publish(&events.Event{Type: events.SessionCompleted, Data: s})
		}
	}()

	s.writeLine(220, fmt.Sprintf("%s ESMTP ready", s.deps.Hostname))
	s.state = WaitHelo

	for s.state != Closing {
		s.conn.SetDeadline(time.Now().Add(s.commandTimeout))

		line, err := wire.ReadLine(s.reader, wire.MaxCommandLine)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Command timeouts count as one error-budget increment
				// rather than an immediate close, so a client that's
				// merely slow (as opposed to stuck) gets a few chances.
				if !s.bumpError(421, "4.4.2 command timeout") {
					return
				}
				continue
			}
			if err != io.EOF {
				s.tr.Errorf("reading command: %v", err)
			}
			return
		}

		cmd, perr := wire.ParseCommand(line)
		if perr != nil {
			if !s.bumpError(500, "5.5.2 syntax error") {
				return
			}
			continue
		}

		if cmd.Verb == "AUTH" {
			s.tr.Debugf("-> AUTH <redacted>")
		} else {
			s.tr.Debugf("-> %s %s", cmd.Verb, cmd.Params)
		}

		code, msg := s.dispatch(cmd)
		if code == 0 {
			// Handler already wrote its own response (e.g. STARTTLS).
			continue
		}

		if code >= 400 {
			if !s.bumpError(code, msg) {
				return
			}
		} else {
			s.errorCount = 0
			if err := s.writeLine(code, msg); err != nil {
				return
			}
		}
		if cmd.Verb == "QUIT" {
			return
		}
	}
}

// maxRetryCount returns the configured error-budget ceiling, defaulting
// to 3 to match spec.md's documented default.
func (s *Session) maxRetryCount() int {
	if s.deps.Config != nil && s.deps.Config.MaxRetryCount > 0 {
		return s.deps.Config.MaxRetryCount
	}
	return 3
}

// bumpError increments the per-connection error-budget counter. If the
// budget is not yet exhausted, it writes the given (code, msg) as the
// normal response to the offending command. Once the budget is
// exhausted, per RFC 5321 §4.3.2, it writes only a final 421 and returns
// false, skipping the individual error response entirely. A successful
// command resets the counter to zero elsewhere, in the main loop.
func (s *Session) bumpError(code int, msg string) bool {
	s.errorCount++
	if s.errorCount >= s.maxRetryCount() {
		s.writeLine(421, "4.5.0 too many errors")
		return false
	}
	return s.writeLine(code, msg) == nil
}

func (s *Session) dispatch(cmd wire.Command) (int, string) {
	switch cmd.Verb {
	case "HELO":
		return s.HELO(cmd.Params)
	case "EHLO":
		return s.EHLO(cmd.Params)
	case "HELP":
		return 214, "2.0.0 see RFC 5321"
	case "NOOP":
		return 250, "2.0.0 OK"
	case "RSET":
		s.resetEnvelope()
		return 250, "2.0.0 OK"
	case "VRFY", "EXPN":
		return 502, "5.5.1 command not implemented"
	case "MAIL":
		return s.MAIL(cmd.Params)
	case "RCPT":
		return s.RCPT(cmd.Params)
	case "DATA":
		return s.DATA(cmd.Params)
	case "STARTTLS":
		return s.STARTTLS(cmd.Params)
	case "AUTH":
		return s.AUTH(cmd.Params)
	case "QUIT":
		s.writeLine(221, "2.0.0 closing connection")
		return 0, ""
	default:
		return 500, "5.5.1 unrecognized command"
	}
}

// HELO command handler.
func (s *Session) HELO(params string) (int, string) {
	if strings.TrimSpace(params) == "" {
		return 501, "5.5.4 HELO requires a domain argument"
	}
	s.ehloDomain = strings.Fields(params)[0]
	s.state = Idle
	return 250, s.deps.Hostname
}

// EHLO command handler.
func (s *Session) EHLO(params string) (int, string) {
	if strings.TrimSpace(params) == "" {
		return 501, "5.5.4 EHLO requires a domain argument"
	}
	s.ehloDomain = strings.Fields(params)[0]
	s.isESMTP = true
	s.state = Idle

	maxSize := int64(50 * 1024 * 1024)
	if s.deps.Config != nil && s.deps.Config.MaxMessageSize > 0 {
		maxSize = s.deps.Config.MaxMessageSize
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", s.deps.Hostname)
	fmt.Fprintf(&buf, "8BITMIME\n")
	fmt.Fprintf(&buf, "PIPELINING\n")
	fmt.Fprintf(&buf, "SMTPUTF8\n")
	fmt.Fprintf(&buf, "ENHANCEDSTATUSCODES\n")
	fmt.Fprintf(&buf, "SIZE %d\n", maxSize)
	if s.onTLS {
		buf.WriteString("AUTH PLAIN LOGIN\n")
	} else {
		buf.WriteString("STARTTLS\n")
	}
	buf.WriteString("HELP")
	return 250, buf.String()
}

// MAIL command handler.
func (s *Session) MAIL(params string) (int, string) {
	if s.state != Idle {
		return 503, "5.5.1 EHLO/HELO first, or bad sequence of commands"
	}
	if !strings.HasPrefix(strings.ToUpper(params), "FROM:") {
		return 500, "5.5.2 expected MAIL FROM:<address>"
	}
	if s.requireSecureConnection() && !s.onTLS {
		return 530, "5.7.0 must issue STARTTLS first"
	}
	if s.requireAuthentication() && !s.completedAuth {
		return 550, "5.7.1 authentication required"
	}

	p, err := wire.ParseMailParams(params[len("FROM:"):])
	if err != nil {
		return 501, "5.5.4 " + err.Error()
	}

	s.resetEnvelope()

	addr := "<>"
	if p.From != "" {
		addr, err = s.normalizeSender(p.From)
		if err != nil {
			return 501, "5.1.7 sender address malformed"
		}
	}

	maxSize := int64(0)
	if s.deps.Config != nil {
		maxSize = s.deps.Config.MaxMessageSize
	}
	if maxSize > 0 && p.Size > maxSize {
		return 552, "5.3.4 message size exceeds fixed maximum"
	}

	if s.deps.Filter != nil {
		if ok, reason := s.deps.Filter.CanAcceptFrom(context.Background(), addr, p.Size); !ok {
			maillog.Rejected(s.remoteAddr, addr, nil, reason)
			return 550, "5.7.1 " + reason
		}
	}

	s.mailFrom = addr
	s.state = InMail
	return 250, "2.1.0 sender OK"
}

func (s *Session) normalizeSender(raw string) (string, error) {
	if raw == "" || strings.ReplaceAll(raw, " ", "") == "" {
		return "<>", nil
	}
	e, err := mail.ParseAddress(raw)
	if err != nil || e.Address == "" {
		return "", fmt.Errorf("malformed sender address")
	}
	addr := e.Address
	if !strings.Contains(addr, "@") {
		return "", fmt.Errorf("sender address must contain a domain")
	}
	if len(addr) > 256 {
		return "", fmt.Errorf("sender address too long")
	}
	domain, err := normalize.Domain(envelope.DomainOf(addr))
	if err != nil {
		return "", err
	}
	return envelope.UserOf(addr) + "@" + domain, nil
}

// RCPT command handler.
func (s *Session) RCPT(params string) (int, string) {
	if s.mailFrom == "" {
		return 503, "5.5.1 MAIL FROM first"
	}
	if !strings.HasPrefix(strings.ToUpper(params), "TO:") {
		return 500, "5.5.2 expected RCPT TO:<address>"
	}

	maxRcpt := 100
	if s.deps.Config != nil && s.deps.Config.MaxRecipients > 0 {
		maxRcpt = s.deps.Config.MaxRecipients
	}
	if len(s.rcptTo) >= maxRcpt {
		return 452, "4.5.3 too many recipients"
	}

	p, err := wire.ParseRcptParams(params[len("TO:"):])
	if err != nil {
		return 501, "5.5.4 " + err.Error()
	}

	e, err := mail.ParseAddress(p.To)
	if err != nil || e.Address == "" {
		return 501, "5.1.3 malformed destination address"
	}
	domain, err := normalize.Domain(envelope.DomainOf(e.Address))
	if err != nil {
		return 501, "5.1.2 malformed destination domain"
	}
	addr := envelope.UserOf(e.Address) + "@" + domain
	if len(addr) > 256 {
		return 501, "5.1.3 destination address too long"
	}

	local := s.deps.LocalDomains != nil && envelope.DomainIn(addr, s.deps.LocalDomains)
	if !local && !s.completedAuth {
		maillog.Rejected(s.remoteAddr, s.mailFrom, []string{addr}, "relay not allowed")
		return 550, "5.7.1 relay not allowed"
	}

	if s.deps.Filter != nil {
		if ok, reason := s.deps.Filter.CanDeliverTo(context.Background(), addr, s.mailFrom); !ok {
			maillog.Rejected(s.remoteAddr, s.mailFrom, []string{addr}, reason)
			return 550, "5.7.1 " + reason
		}
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = InMail
	return 250, "2.1.5 recipient OK"
}

// DATA command handler. On success, this performs the full data transfer,
// antispam evaluation, and hand-off to store/relay. The filter chain
// itself (CanAcceptFrom/CanDeliverTo) has already run at MAIL/RCPT time.
func (s *Session) DATA(params string) (int, string) {
	if s.ehloDomain == "" {
		return 503, "5.5.1 send HELO/EHLO first"
	}
	if s.mailFrom == "" {
		return 503, "5.5.1 sender not yet given"
	}
	if len(s.rcptTo) == 0 {
		return 503, "5.5.1 need at least one recipient"
	}

	if err := s.writeLine(354, "go ahead"); err != nil {
		return 554, fmt.Sprintf("5.4.0 error writing intermediate response: %v", err)
	}
	s.state = InData

	s.conn.SetDeadline(time.Now().Add(10 * time.Minute))

	maxSize := int64(50 * 1024 * 1024)
	if s.deps.Config != nil && s.deps.Config.MaxMessageSize > 0 {
		maxSize = s.deps.Config.MaxMessageSize
	}

	raw, err := wire.ReadDotBody(s.reader, maxSize)
	if err == wire.ErrMessageTooLarge {
		return 552, "5.3.4 message too big"
	}
	if err != nil {
		return 554, fmt.Sprintf("5.4.0 error reading message: %v", err)
	}

	if n := bytes.Count(raw, []byte("\nReceived:")); n > 50 {
		return 554, "5.4.6 too many hops, loop suspected"
	}

	msg := message.New(s.ID, message.Envelope{
		MailFrom: s.mailFrom,
		RcptTo:   append([]string(nil), s.rcptTo...),
	}, raw)
	msg.AddHeader("Received", s.receivedHeaderValue())

	if s.deps.Spam != nil {
		cc := &antispam.CheckContext{
			RemoteAddr:    s.remoteAddr,
			HeloDomain:    s.ehloDomain,
			MailFrom:      s.mailFrom,
			RcptTo:        s.rcptTo,
			Authenticated: s.completedAuth,
			TLS:           s.onTLS,
			Message:       msg,
		}
		result, err := s.deps.Spam.Evaluate(context.Background(), cc)
		if err == nil {
			switch result.Action {
			case antispam.Reject:
				maillog.Rejected(s.remoteAddr, s.mailFrom, s.rcptTo, "rejected by antispam: "+strings.Join(result.Reasons, "; "))
				s.resetEnvelope()
				return 550, "5.7.1 message rejected as spam"
			case antispam.Greylist:
				maillog.Rejected(s.remoteAddr, s.mailFrom, s.rcptTo, "greylisted")
				s.resetEnvelope()
				return 451, "4.7.1 greylisted, please try again later"
			case antispam.Quarantine:
				msg.AddHeader("X-Spam-Status", "quarantine")
				msg.Priority = message.Low
			case antispam.Mark:
				msg.AddHeader("X-Spam-Status", "marked")
			}
		}
	}

	if s.deps.Events != nil {
		ev := &events.Event{Type: events.MessageReceived, Data: msg}
		s.deps.Events.Publish(ev)
		if ev.Cancel {
			s.resetEnvelope()
			return 550, "5.7.1 message rejected"
		}
		if rep, ok := ev.Replacement.(*message.Message); ok && rep != nil {
			msg = rep
		}
	}

	var localRcpt, externalRcpt []string
	for _, r := range s.rcptTo {
		if s.deps.LocalDomains != nil && envelope.DomainIn(r, s.deps.LocalDomains) {
			localRcpt = append(localRcpt, r)
		} else {
			externalRcpt = append(externalRcpt, r)
		}
	}

	if len(localRcpt) > 0 && s.deps.Store != nil {
		info := store.SessionInfo{
			RemoteAddr:    s.remoteAddr.String(),
			HeloDomain:    s.ehloDomain,
			AuthUser:      s.authUser,
			AuthDomain:    s.authDomain,
			Authenticated: s.completedAuth,
			TLS:           s.onTLS,
		}
		if _, err := s.deps.Store.Save(context.Background(), info, msg); err != nil {
			return 451, fmt.Sprintf("4.3.0 failed to store message: %v", err)
		}
	}

	if len(externalRcpt) > 0 && s.deps.Relay != nil {
		if err := s.deps.Relay.Enqueue(s.mailFrom, externalRcpt, msg.Raw, msg.Priority); err != nil {
			return 451, fmt.Sprintf("4.3.0 failed to queue message: %v", err)
		}
	}

	maillog.Queued(s.remoteAddr, s.mailFrom, s.rcptTo, msg.ID)
	s.resetEnvelope()
	return 250, "2.0.0 message accepted for delivery"
}

func (s *Session) receivedHeaderValue() string {
	var v string
	if s.completedAuth {
		v += fmt.Sprintf("from %s\n", s.ehloDomain)
	} else {
		v += fmt.Sprintf("from [%s] (%s)\n", addrLiteral(s.remoteAddr), s.ehloDomain)
	}
	v += fmt.Sprintf("by %s ", s.deps.Hostname)
	with := "SMTP"
	if s.isESMTP {
		with = "ESMTP"
	}
	if s.onTLS {
		with += "S"
	}
	if s.completedAuth {
		with += "A"
	}
	v += fmt.Sprintf("with %s\n", with)
	v += fmt.Sprintf("for <%s>; %s", strings.Join(s.rcptTo, ", "), time.Now().Format(time.RFC1123Z))
	return v
}

func addrLiteral(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	ip := tcp.IP.String()
	if strings.Contains(ip, ":") {
		return "IPv6:" + ip
	}
	return ip
}

// STARTTLS command handler.
func (s *Session) STARTTLS(params string) (int, string) {
	if s.onTLS {
		return 503, "5.5.1 TLS already active"
	}
	if s.deps.TLSConfig == nil {
		return 454, "4.7.0 TLS not available"
	}

	if err := s.writeLine(220, "2.0.0 ready to start TLS"); err != nil {
		return 554, fmt.Sprintf("5.4.0 error writing STARTTLS response: %v", err)
	}

	tc := tls.Server(s.conn, s.deps.TLSConfig)
	if err := tc.Handshake(); err != nil {
		// Per the Non-goal on error-budget accounting for STARTTLS
		// failures, the connection is simply dropped rather than
		// counted as a protocol error.
		return 0, ""
	}

	s.conn = tc
	s.reader = bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)
	cstate := tc.ConnectionState()
	s.tlsState = &cstate
	s.onTLS = true
	s.resetEnvelope()
	s.state = WaitHelo

	return 0, ""
}

// AUTH command handler. Supports PLAIN and LOGIN, mirroring RFC 4954.
func (s *Session) AUTH(params string) (int, string) {
	if s.requireSecureConnection() && !s.onTLS {
		return 503, "5.7.10 AUTH requires a secure connection"
	}
	if s.completedAuth {
		return 503, "5.5.1 already authenticated"
	}
	if s.deps.Authr == nil {
		return 454, "4.7.0 authentication unavailable"
	}

	sp := strings.SplitN(params, " ", 2)
	if len(sp) < 1 || (sp[0] != "PLAIN" && sp[0] != "LOGIN") {
		return 504, "5.5.4 unrecognized authentication mechanism"
	}

	var response string
	switch {
	case len(sp) == 2:
		response = sp[1]
	case sp[0] == "LOGIN":
		if err := s.writeLine(334, "VXNlcm5hbWU6"); err != nil {
			return 554, fmt.Sprintf("5.4.0 %v", err)
		}
		userB64, err := s.readLine()
		if err != nil {
			return 554, fmt.Sprintf("5.4.0 error reading AUTH LOGIN username: %v", err)
		}
		if err := s.writeLine(334, "UGFzc3dvcmQ6"); err != nil {
			return 554, fmt.Sprintf("5.4.0 %v", err)
		}
		passB64, err := s.readLine()
		if err != nil {
			return 554, fmt.Sprintf("5.4.0 error reading AUTH LOGIN password: %v", err)
		}
		response = loginToPlain(userB64, passB64)
	default:
		if err := s.writeLine(334, ""); err != nil {
			return 554, fmt.Sprintf("5.4.0 %v", err)
		}
		r, err := s.readLine()
		if err != nil {
			return 554, fmt.Sprintf("5.4.0 error reading AUTH response: %v", err)
		}
		response = r
	}

	user, domain, passwd, err := auth.DecodeResponse(response)
	if err != nil {
		return 501, fmt.Sprintf("5.5.2 error decoding AUTH response: %v", err)
	}

	ok, err := s.deps.Authr.Authenticate(user, domain, passwd)
	if err != nil {
		maillog.Auth(s.remoteAddr, user+"@"+domain, false)
		return 454, "4.7.0 temporary authentication failure"
	}
	if !ok {
		maillog.Auth(s.remoteAddr, user+"@"+domain, false)
		return 535, "5.7.8 authentication failed"
	}

	s.authUser = user
	s.authDomain = domain
	s.completedAuth = true
	maillog.Auth(s.remoteAddr, user+"@"+domain, true)
	return 235, "2.7.0 authentication successful"
}

func (s *Session) requireAuthentication() bool {
	return s.deps.RequireAuthentication || (s.deps.Config != nil && s.deps.Config.RequireAuthentication)
}

// requireSecureConnection reports whether Config.RequireSecureConnection
// is set, gating AUTH and MAIL on a prior STARTTLS.
func (s *Session) requireSecureConnection() bool {
	return s.deps.Config != nil && s.deps.Config.RequireSecureConnection
}

func (s *Session) resetEnvelope() {
	s.mailFrom = ""
	s.rcptTo = nil
	s.state = Idle
	if s.ehloDomain == "" {
		s.state = WaitHelo
	}
}

func (s *Session) readLine() (string, error) {
	return wire.ReadLine(s.reader, wire.MaxCommandLine)
}

func (s *Session) writeLine(code int, msg string) error {
	defer s.writer.Flush()
	lines := strings.Split(msg, "\n")
	for i := 0; i < len(lines)-1; i++ {
		if _, err := fmt.Fprintf(s.writer, "%d-%s\r\n", code, lines[i]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(s.writer, "%d %s\r\n", code, lines[len(lines)-1])
	return err
}

// loginToPlain converts the two base64 AUTH LOGIN prompts (username,
// password) into the equivalent AUTH PLAIN response so both mechanisms
// can share auth.DecodeResponse.
func loginToPlain(userB64, passB64 string) string {
	user, _ := base64.StdEncoding.DecodeString(userB64)
	pass, _ := base64.StdEncoding.DecodeString(passB64)

	plain := append([]byte{}, user...)
	plain = append(plain, 0)
	plain = append(plain, user...)
	plain = append(plain, 0)
	plain = append(plain, pass...)
	return base64.StdEncoding.EncodeToString(plain)
}
