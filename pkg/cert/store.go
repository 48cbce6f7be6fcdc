package cert

import (
	"crypto/tls"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Store errors.
var (
	ErrCertNotFound = errors.New("certificate not found")
	ErrInvalidCert  = errors.New("invalid certificate")
)

// Store maps server names to key pairs.
// Implementations must be safe for concurrent access.
type Store interface {
	// Lookup returns the key pair for hostname. An exact entry wins over a
	// wildcard entry for the parent domain. Returns ErrCertNotFound if
	// neither exists.
	Lookup(hostname string) (tls.Certificate, error)

	// Names returns all stored names in sorted order.
	Names() []string
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	pairs map[string]tls.Certificate
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs: make(map[string]tls.Certificate),
	}
}

// Set stores pair under name. Wildcard names use the "*.domain" form.
func (s *MemoryStore) Set(name string, pair tls.Certificate) error {
	if len(pair.Certificate) == 0 || pair.PrivateKey == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[normalizeName(name)] = pair
	return nil
}

// Remove deletes the entry for name.
func (s *MemoryStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = normalizeName(name)
	if _, ok := s.pairs[name]; !ok {
		return ErrCertNotFound
	}
	delete(s.pairs, name)
	return nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(hostname string) (tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.pairs, hostname)
}

// Names implements Store.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.pairs)
}

var _ Store = (*MemoryStore)(nil)

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

func lookup(pairs map[string]tls.Certificate, hostname string) (tls.Certificate, error) {
	hostname = normalizeName(hostname)
	if pair, ok := pairs[hostname]; ok {
		return pair, nil
	}
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		if pair, ok := pairs["*"+hostname[i:]]; ok {
			return pair, nil
		}
	}
	return tls.Certificate{}, ErrCertNotFound
}

func sortedNames(pairs map[string]tls.Certificate) []string {
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
