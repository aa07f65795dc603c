package auth

import (
	"encoding/base64"
	"fmt"
)

// Mechanism implements the client-facing half of a SASL exchange: it owns
// the base64 challenge/response sub-protocol and, at the end, produces the
// decoded (user, domain, password) triple for the Authenticator to verify.
// The server hands it a line reader and a challenge writer; the mechanism
// never touches the TCP connection directly.
type Mechanism interface {
	// Name is the SASL mechanism name as advertised in EHLO (e.g. "PLAIN").
	Name() string

	// Negotiate drives the challenge/response exchange. initial is the
	// response that may have come attached to the AUTH command itself (RFC
	// 4954 §4); it is empty if the client did not supply one.
	// readLine reads one more base64 line from the client; writeChallenge
	// sends a "334 <text>" challenge. A client sending "*" cancels the
	// exchange (readLine returns ErrCancelled).
	Negotiate(initial string, readLine func() (string, error), writeChallenge func(string) error) (user, domain, passwd string, err error)
}

// ErrCancelled is returned by the line reader (and propagated by
// Negotiate) when the client sends "*" to abort an AUTH exchange.
var ErrCancelled = fmt.Errorf("authentication cancelled")

// PlainMechanism implements SASL PLAIN (RFC 4616): a single base64 blob of
// the form authzid NUL authcid NUL password.
type PlainMechanism struct{}

func (PlainMechanism) Name() string { return "PLAIN" }

func (PlainMechanism) Negotiate(initial string, readLine func() (string, error), writeChallenge func(string) error) (string, string, string, error) {
	response := initial
	if response == "" {
		if err := writeChallenge(""); err != nil {
			return "", "", "", err
		}
		line, err := readLine()
		if err != nil {
			return "", "", "", err
		}
		if line == "*" {
			return "", "", "", ErrCancelled
		}
		response = line
	}

	return DecodeResponse(response)
}

// LoginMechanism implements SASL LOGIN: separate base64-prompted Username
// and Password exchanges, reassembled into the PLAIN wire format so the
// rest of the pipeline (DecodeResponse, Authenticator) stays mechanism
// agnostic.
type LoginMechanism struct{}

func (LoginMechanism) Name() string { return "LOGIN" }

func (LoginMechanism) Negotiate(initial string, readLine func() (string, error), writeChallenge func(string) error) (string, string, string, error) {
	if err := writeChallenge(base64.StdEncoding.EncodeToString([]byte("Username:"))); err != nil {
		return "", "", "", err
	}
	userLine, err := readLine()
	if err != nil {
		return "", "", "", err
	}
	if userLine == "*" {
		return "", "", "", ErrCancelled
	}
	user, err := base64.StdEncoding.DecodeString(userLine)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid base64 username: %w", err)
	}

	if err := writeChallenge(base64.StdEncoding.EncodeToString([]byte("Password:"))); err != nil {
		return "", "", "", err
	}
	passLine, err := readLine()
	if err != nil {
		return "", "", "", err
	}
	if passLine == "*" {
		return "", "", "", ErrCancelled
	}
	pass, err := base64.StdEncoding.DecodeString(passLine)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid base64 password: %w", err)
	}

	plain := append(append(append([]byte{}, user...), 0), user...)
	plain = append(plain, 0)
	plain = append(plain, pass...)

	return DecodeResponse(base64.StdEncoding.EncodeToString(plain))
}
