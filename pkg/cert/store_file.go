package cert

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File name conventions for certificate storage.
const (
	certSuffix     = ".crt"
	keySuffix      = ".key"
	wildcardPrefix = "_wildcard."
)

// FileStore is a directory-backed Store. Each key pair lives in
// "<name>.crt" and "<name>.key"; a wildcard "*.example.com" is stored as
// "_wildcard.example.com".
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
	pairs   map[string]tls.Certificate
}

// NewFileStore creates a store rooted at baseDir. Call Load before use.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		baseDir: baseDir,
		pairs:   make(map[string]tls.Certificate),
	}
}

// Dir returns the base directory.
func (s *FileStore) Dir() string {
	return s.baseDir
}

// Load scans the directory and replaces the in-memory state. A missing
// directory yields an empty store. Certificates without a matching key are
// skipped.
func (s *FileStore) Load() error {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.pairs = make(map[string]tls.Certificate)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	pairs := make(map[string]tls.Certificate)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), certSuffix) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), certSuffix)
		keyPath := filepath.Join(s.baseDir, base+keySuffix)
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		pair, err := ReadKeyPairFiles(filepath.Join(s.baseDir, e.Name()), keyPath)
		if err != nil {
			return err
		}
		pairs[fileToName(base)] = pair
	}

	s.mu.Lock()
	s.pairs = pairs
	s.mu.Unlock()
	return nil
}

// Save writes pair to disk under name and adds it to the store.
func (s *FileStore) Save(name string, certPEM, keyPEM []byte) error {
	pair, err := LoadKeyPair(certPEM, keyPEM)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.baseDir, 0700); err != nil {
		return err
	}

	name = normalizeName(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid certificate name %q", name)
	}
	base := filepath.Join(s.baseDir, nameToFile(name))
	if err := os.WriteFile(base+certSuffix, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(base+keySuffix, keyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	s.mu.Lock()
	s.pairs[name] = pair
	s.mu.Unlock()
	return nil
}

// Lookup implements Store.
func (s *FileStore) Lookup(hostname string) (tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.pairs, hostname)
}

// Names implements Store.
func (s *FileStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.pairs)
}

var _ Store = (*FileStore)(nil)

func nameToFile(name string) string {
	if strings.HasPrefix(name, "*.") {
		return wildcardPrefix + name[2:]
	}
	return name
}

func fileToName(base string) string {
	if strings.HasPrefix(base, wildcardPrefix) {
		return "*." + base[len(wildcardPrefix):]
	}
	return normalizeName(base)
}
