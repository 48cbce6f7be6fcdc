// Package advertise publishes tlsnet listeners over mDNS/DNS-SD and browses
// for them.
package advertise

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Config configures both advertising and browsing.
type Config struct {
	// Interface restricts mDNS to one network interface. Empty means all.
	Interface string

	// TTL of published records. Zero keeps the library default.
	TTL time.Duration
}

// Advertiser publishes one listener at a time.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an idle advertiser.
func NewAdvertiser(config Config) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise starts publishing info, replacing any previous record.
func (a *Advertiser) Advertise(info Info) error {
	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}
	if info.Port <= 0 || info.Port > 65535 {
		return fmt.Errorf("advertise %q: invalid port %d", info.Instance, info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		info.Port,
		EncodeTXT(info),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the record. It is safe to call when nothing is published.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Service is a listener found by Browse.
type Service struct {
	Info
	Host      string
	Addresses []string
}

// Browse searches for tlsnet listeners until ctx ends. Entries whose TXT
// records do not parse are skipped; the same instance seen on several
// interfaces is reported once.
func Browse(ctx context.Context, config Config) (<-chan Service, error) {
	out := make(chan Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)
		seen := make(map[string]bool)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, ok := entryToService(entry)
				if !ok || seen[svc.Instance] {
					continue
				}
				seen[svc.Instance] = true
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case entry, ok := <-removed:
				if ok {
					delete(seen, entry.Instance)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

func entryToService(entry *zeroconf.ServiceEntry) (Service, bool) {
	info, err := DecodeTXT(entry.Text)
	if err != nil {
		return Service{}, false
	}
	info.Instance = entry.Instance
	info.Port = entry.Port

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Service{Info: info, Host: entry.HostName, Addresses: addrs}, true
}

// interfaces returns the interface list for name; nil means all.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
