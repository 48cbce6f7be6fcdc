package transport

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/net/idna"
)

var serverNames = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(true),
	idna.VerifyDNSLength(true),
	idna.Transitional(false),
	idna.BidiRule(),
)

// ValidateServerName returns the ASCII form of name suitable for SNI and
// certificate verification. IP literals are returned unchanged.
func ValidateServerName(name string) (string, error) {
	if name == "" {
		return "", configError("server name", ErrInvalidHostname)
	}
	if addr, err := netip.ParseAddr(strings.Trim(name, "[]")); err == nil {
		return addr.String(), nil
	}
	ascii, err := serverNames.ToASCII(strings.TrimSuffix(name, "."))
	if err != nil || ascii == "" {
		return "", configError("server name", fmt.Errorf("%w: %q", ErrInvalidHostname, name))
	}
	return ascii, nil
}

// BypassList names the hosts for which a caller may turn certificate
// verification off. The entry "*" matches every host. The zero value allows
// none.
type BypassList struct {
	mu    sync.RWMutex
	all   bool
	hosts map[string]struct{}
}

// NewBypassList returns a list of the given hosts.
func NewBypassList(hosts ...string) *BypassList {
	b := &BypassList{}
	for _, h := range hosts {
		b.Add(h)
	}
	return b
}

// Add appends host to the list.
func (b *BypassList) Add(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if host == "*" {
		b.all = true
		return
	}
	if b.hosts == nil {
		b.hosts = make(map[string]struct{})
	}
	b.hosts[normalizeHost(host)] = struct{}{}
}

// Allows reports whether verification may be skipped for host.
func (b *BypassList) Allows(host string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.all {
		return true
	}
	_, ok := b.hosts[normalizeHost(host)]
	return ok
}

// skipVerify reports whether a bypass request for host is honoured.
// Requests for unlisted hosts keep verification enabled.
func (b *BypassList) skipVerify(requested bool, host string) bool {
	return requested && b.Allows(host)
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.Trim(host, "[]"), "."))
}
