// Package permission decides whether an operation may touch the network or
// read a file.
package permission

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrPermissionDenied is returned when a check fails.
var ErrPermissionDenied = errors.New("permission denied")

// Checker is consulted before any outbound connection, bind, or file read.
// api names the calling operation for diagnostics.
type Checker interface {
	CheckNet(host string, port int, api string) error
	CheckRead(path string, api string) error
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) CheckNet(string, int, string) error { return nil }
func (AllowAll) CheckRead(string, string) error     { return nil }

// DenyAll permits nothing.
type DenyAll struct{}

func (DenyAll) CheckNet(host string, port int, api string) error {
	return deniedNet(host, port, api)
}

func (DenyAll) CheckRead(path string, api string) error {
	return deniedRead(path, api)
}

// Policy is an allow-list checker.
//
// Net entries are "host" (any port), "host:port", or "*" (any host).
// Read entries are path prefixes; "*" allows any path.
type Policy struct {
	mu   sync.RWMutex
	net  map[string]bool
	read []string
}

// NewPolicy builds a Policy from the given allow-lists.
func NewPolicy(netAllow, readAllow []string) *Policy {
	p := &Policy{net: make(map[string]bool)}
	for _, n := range netAllow {
		p.AllowNet(n)
	}
	for _, r := range readAllow {
		p.AllowRead(r)
	}
	return p
}

// AllowNet adds a net entry.
func (p *Policy) AllowNet(entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.net[strings.ToLower(entry)] = true
}

// AllowRead adds a read prefix.
func (p *Policy) AllowRead(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prefix != "*" {
		prefix = filepath.Clean(prefix)
	}
	p.read = append(p.read, prefix)
}

// CheckNet implements Checker.
func (p *Policy) CheckNet(host string, port int, api string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := strings.ToLower(host)
	if p.net["*"] || p.net[h] || p.net[net.JoinHostPort(h, strconv.Itoa(port))] {
		return nil
	}
	return deniedNet(host, port, api)
}

// CheckRead implements Checker.
func (p *Policy) CheckRead(path string, api string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	clean := filepath.Clean(path)
	for _, prefix := range p.read {
		if prefix == "*" || clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return nil
		}
	}
	return deniedRead(path, api)
}

// Compile-time interface satisfaction checks.
var (
	_ Checker = AllowAll{}
	_ Checker = DenyAll{}
	_ Checker = (*Policy)(nil)
)

func deniedNet(host string, port int, api string) error {
	return fmt.Errorf("%w: net access to %s (%s)", ErrPermissionDenied, net.JoinHostPort(host, strconv.Itoa(port)), api)
}

func deniedRead(path, api string) error {
	return fmt.Errorf("%w: read access to %q (%s)", ErrPermissionDenied, path, api)
}
