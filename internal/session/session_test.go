package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/Taiizor/Zetian-sub004/internal/auth"
	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/filter"
	"github.com/Taiizor/Zetian-sub004/internal/message"
	"github.com/Taiizor/Zetian-sub004/internal/set"
	"github.com/Taiizor/Zetian-sub004/internal/store"
	"github.com/Taiizor/Zetian-sub004/internal/testlib"
)

type recordingStore struct {
	saved []*message.Message
}

func (r *recordingStore) Save(ctx context.Context, info store.SessionInfo, m *message.Message) (bool, error) {
	r.saved = append(r.saved, m)
	return false, nil
}

type testBackend struct {
	user, pass string
}

func (b *testBackend) Authenticate(user, pass string) (bool, error) {
	return user == b.user && pass == b.pass, nil
}
func (b *testBackend) Exists(user string) (bool, error) { return user == b.user, nil }
func (b *testBackend) Reload() error                    { return nil }

func newTestDeps(t *testing.T, st store.MessageStore) (*Deps, net.Conn, net.Conn) {
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })

	authr := auth.NewAuthenticator()
	authr.AuthDuration = 0
	authr.Register("example.com", &testBackend{user: "alice", pass: "hunter2"})

	dir := testlib.MustTempDir(t)
	t.Cleanup(func() { testlib.RemoveIfOk(t, dir) })
	if _, err := testlib.GenerateCert(dir); err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	cert, err := tls.LoadX509KeyPair(dir+"/cert.pem", dir+"/key.pem")
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}

	deps := &Deps{
		Hostname:  "mail.example.com",
		Config:    &config.Config{MaxRecipients: 10, MaxMessageSize: 1024 * 1024, MaxRetryCount: 3, CommandTimeout: 5 * time.Second},
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		Authr:     authr,
		Store:     st,
		LocalDomains: set.NewString("example.com"),
	}
	return deps, c1, c2
}

func readResponse(t *testing.T, r *textproto.Reader) (int, string) {
	code, msg, err := r.ReadResponse(0)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	return code, msg
}

func TestLocalDeliveryAccepted(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	sess := New("m1", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)

	readResponse(t, tp) // banner

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 250 {
		t.Fatalf("EHLO: got %d", code)
	}

	fmt.Fprintf(w, "MAIL FROM:<bob@other.com>\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 250 {
		t.Fatalf("MAIL: got %d", code)
	}

	fmt.Fprintf(w, "RCPT TO:<alice@example.com>\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 250 {
		t.Fatalf("RCPT: got %d", code)
	}

	fmt.Fprintf(w, "DATA\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 354 {
		t.Fatalf("DATA: got %d", code)
	}

	fmt.Fprintf(w, "Subject: hi\r\n\r\nhello\r\n.\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 250 {
		t.Fatalf("after body: got %d", code)
	}

	fmt.Fprintf(w, "QUIT\r\n")
	w.Flush()
	readResponse(t, tp)

	if len(st.saved) != 1 {
		t.Fatalf("got %d saved messages, want 1", len(st.saved))
	}
}

func TestRelayRejectedWithoutAuth(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	sess := New("m2", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)

	readResponse(t, tp)
	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "MAIL FROM:<bob@other.com>\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "RCPT TO:<eve@external.com>\r\n")
	w.Flush()
	code, _ := readResponse(t, tp)
	if code != 550 {
		t.Fatalf("got %d, want 550 relay not allowed", code)
	}
}

func TestTooManyErrorsCloses(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	deps.Config.MaxRetryCount = 2
	sess := New("m3", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)
	readResponse(t, tp)

	for i := 0; i < 2; i++ {
		fmt.Fprintf(w, "BOGUS\r\n")
		w.Flush()
		code, _ := readResponse(t, tp)
		if i < 1 && code != 500 {
			t.Fatalf("attempt %d: got %d, want 500", i, code)
		}
		if i == 1 && code != 421 {
			t.Fatalf("final attempt: got %d, want 421", code)
		}
	}
}

func TestSTARTTLSThenAuth(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	sess := New("m4", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)
	readResponse(t, tp)

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "STARTTLS\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 220 {
		t.Fatalf("STARTTLS: got %d", code)
	}

	tlsConn := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	tp = textproto.NewReader(bufio.NewReader(tlsConn))
	w = bufio.NewWriter(tlsConn)

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 250 {
		t.Fatalf("EHLO after TLS: got %d", code)
	}

	fmt.Fprintf(w, "AUTH PLAIN %s\r\n", plainResponse("alice", "hunter2"))
	w.Flush()
	if code, _ := readResponse(t, tp); code != 235 {
		t.Fatalf("AUTH: got %d", code)
	}
}

func TestRCPTRejectedByFilter(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	deps.Filter = filter.NewDomainBlocklist("example.com")
	sess := New("m5", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)
	readResponse(t, tp)

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "MAIL FROM:<bob@other.com>\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "RCPT TO:<alice@example.com>\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 550 {
		t.Fatalf("got %d, want 550 from the filter chain", code)
	}
}

func TestMAILRejectedByFilter(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	deps.Filter = filter.NewSize(10)
	sess := New("m6", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)
	readResponse(t, tp)

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "MAIL FROM:<bob@other.com> SIZE=1000\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 550 {
		t.Fatalf("got %d, want 550 from the filter chain", code)
	}
}

func TestRequireSecureConnectionGatesMailAndAuth(t *testing.T) {
	st := &recordingStore{}
	deps, serverConn, clientConn := newTestDeps(t, st)
	deps.Config.RequireSecureConnection = true
	sess := New("m7", serverConn, deps, false)
	go sess.Handle()

	tp := textproto.NewReader(bufio.NewReader(clientConn))
	w := bufio.NewWriter(clientConn)
	readResponse(t, tp)

	fmt.Fprintf(w, "EHLO client.example.com\r\n")
	w.Flush()
	readResponse(t, tp)

	fmt.Fprintf(w, "MAIL FROM:<bob@other.com>\r\n")
	w.Flush()
	if code, _ := readResponse(t, tp); code != 530 {
		t.Fatalf("MAIL without TLS: got %d, want 530", code)
	}

	fmt.Fprintf(w, "AUTH PLAIN %s\r\n", plainResponse("alice", "hunter2"))
	w.Flush()
	if code, _ := readResponse(t, tp); code != 503 {
		t.Fatalf("AUTH without TLS: got %d, want 503", code)
	}
}

func plainResponse(user, pass string) string {
	identity := user + "@example.com"
	raw := identity + "\x00" + identity + "\x00" + pass
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
