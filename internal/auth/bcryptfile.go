package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptFileBackend is a Backend implementation backed by a flat file of
// "user:bcrypthash" lines, one per account. It's the concrete Backend
// this module ships for deployments that don't want to stand up a
// separate userdb service: passwords are hashed with bcrypt rather than
// stored or compared in the clear.
type BcryptFileBackend struct {
	Path string

	mu       sync.RWMutex
	accounts map[string][]byte // user -> bcrypt hash
}

// NewBcryptFileBackend builds a BcryptFileBackend reading from path,
// loading it immediately.
func NewBcryptFileBackend(path string) (*BcryptFileBackend, error) {
	b := &BcryptFileBackend{Path: path}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Authenticate reports whether password matches user's stored hash.
func (b *BcryptFileBackend) Authenticate(user, password string) (bool, error) {
	b.mu.RLock()
	hash, ok := b.accounts[user]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

// Exists reports whether user has an entry in the backend.
func (b *BcryptFileBackend) Exists(user string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.accounts[user]
	return ok, nil
}

// Reload re-reads the account file from disk, replacing the in-memory
// table atomically on success. A malformed file leaves the previous
// table untouched.
func (b *BcryptFileBackend) Reload() error {
	f, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("auth: opening %q: %w", b.Path, err)
	}
	defer f.Close()

	accounts := map[string][]byte{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("auth: malformed line in %q: %q", b.Path, line)
		}
		accounts[user] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("auth: reading %q: %w", b.Path, err)
	}

	b.mu.Lock()
	b.accounts = accounts
	b.mu.Unlock()
	return nil
}

// HashPassword bcrypt-hashes password at the default cost, for use when
// provisioning a BcryptFileBackend's account file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}
