// Package ops is the id-based operation surface over listeners, streams,
// key handles and SNI resolvers.
//
// Every value handed to a caller is registered in a resource.Registry and
// referred to by its id. Operations borrow the resource for their duration,
// so closing an id while an operation is pending wakes that operation
// instead of pulling memory out from under it.
package ops

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/permission"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// Config configures an Ops.
type Config struct {
	// Dialer opens client streams. Its Permissions, Logger and Metrics
	// default to the ones below when unset.
	Dialer *transport.Dialer

	// Permissions guards binds, connects and file reads; AllowAll when nil.
	Permissions permission.Checker

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Metrics (optional).
	Metrics *metrics.Metrics
}

// Ops executes operations against one registry.
type Ops struct {
	reg     *resource.Registry
	dialer  *transport.Dialer
	perms   permission.Checker
	logger  log.Logger
	metrics *metrics.Metrics
}

// New creates an Ops with an empty registry.
func New(cfg Config) *Ops {
	perms := cfg.Permissions
	if perms == nil {
		perms = permission.AllowAll{}
	}

	d := &transport.Dialer{}
	if cfg.Dialer != nil {
		copied := *cfg.Dialer
		d = &copied
	}
	if d.Permissions == nil {
		d.Permissions = perms
	}
	if d.Logger == nil {
		d.Logger = cfg.Logger
	}
	if d.Metrics == nil {
		d.Metrics = cfg.Metrics
	}

	return &Ops{
		reg:     resource.NewRegistry(),
		dialer:  d,
		perms:   perms,
		logger:  log.OrNoop(cfg.Logger),
		metrics: cfg.Metrics,
	}
}

// Registry returns the resource table.
func (o *Ops) Registry() *resource.Registry {
	return o.reg
}

// Conn is the result of an operation that yields a stream.
type Conn struct {
	ID         resource.ID
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// Addr identifies a bind or connect destination. Path is used for "unix";
// Hostname and Port for "tcp".
type Addr struct {
	Network  string
	Hostname string
	Port     int
	Path     string
}

func (a Addr) network() string {
	if a.Network == "" {
		return "tcp"
	}
	return a.Network
}

func (a Addr) String() string {
	if a.network() == "unix" {
		return a.Path
	}
	return net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))
}

// check consults the permission hook for a.
func (o *Ops) check(a Addr, api string) error {
	if a.network() == "unix" {
		return o.perms.CheckRead(a.Path, api)
	}
	return o.perms.CheckNet(a.Hostname, a.Port, api)
}

// streamResource is what Read and Write accept: a plaintext or TLS stream.
type streamResource interface {
	resource.Resource
	io.Reader
	io.Writer
}

func (o *Ops) add(res resource.Resource) resource.ID {
	id := o.reg.Add(res)
	o.logRegistry(id, res.Name(), "", "REGISTERED")
	return id
}

func (o *Ops) logRegistry(id resource.ID, name, oldState, newState string) {
	o.logger.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerRegistry,
		Category:   log.CategoryState,
		ResourceID: uint32(id),
		StateChange: &log.StateChangeEvent{
			Entity:   entityOf(name),
			OldState: oldState,
			NewState: newState,
			Reason:   name,
		},
	})
}

func entityOf(name string) log.StateEntity {
	switch name {
	case "tlsListener", "tcpListener", "unixListener":
		return log.StateEntityListener
	case "tlsCertResolver":
		return log.StateEntityResolver
	default:
		return log.StateEntityStream
	}
}
