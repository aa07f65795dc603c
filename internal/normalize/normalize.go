// Package normalize contains functions to normalize usernames and addresses.
package normalize

import (
	"strings"

	"github.com/Taiizor/Zetian-sub004/internal/envelope"
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// User normalices an username using PRECIS.
// On error, it will also return the original username to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}

	return norm, nil
}

// Domain normalizes a domain name to its Unicode form via IDNA, so
// "xn--caf-dma.com" and "café.com" compare equal after normalization.
// On error, it returns the original domain, lowercased, to simplify callers.
func Domain(domain string) (string, error) {
	norm, err := idna.ToUnicode(strings.ToLower(domain))
	if err != nil {
		return strings.ToLower(domain), err
	}
	return norm, nil
}

// Addr normalizes the user part of an email address using PRECIS.
// On error, it will also return the original address to simplify callers.
func Addr(addr string) (string, error) {
	user, domain := envelope.Split(addr)

	user, err := User(user)
	if err != nil {
		return addr, err
	}

	return user + "@" + domain, nil
}
