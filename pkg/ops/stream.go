package ops

import (
	"fmt"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// Read reads from stream id, plaintext or TLS.
func (o *Ops) Read(id resource.ID, p []byte) (int, error) {
	s, release, err := resource.Get[streamResource](o.reg, id)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.Read(p)
}

// Write writes p to stream id, plaintext or TLS.
func (o *Ops) Write(id resource.ID, p []byte) (int, error) {
	s, release, err := resource.Get[streamResource](o.reg, id)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.Write(p)
}

// Shutdown half-closes the write side of stream id.
func (o *Ops) Shutdown(id resource.ID) error {
	s, release, err := resource.Get[streamResource](o.reg, id)
	if err != nil {
		return err
	}
	defer release()

	switch v := s.(type) {
	case *transport.Stream:
		return v.Shutdown()
	case *socket.Stream:
		return v.CloseWrite()
	default:
		return fmt.Errorf("%w: %d is a %s", resource.ErrBadResource, id, s.Name())
	}
}

// Close closes resource id of any type. Operations pending on it are woken.
func (o *Ops) Close(id resource.ID) error {
	name := ""
	for _, e := range o.reg.Entries() {
		if e.ID == id {
			name = e.Name
			break
		}
	}
	if err := o.reg.Close(id); err != nil {
		return err
	}
	o.logRegistry(id, name, "REGISTERED", "CLOSED")
	return nil
}

// CloseAll closes every registered resource.
func (o *Ops) CloseAll() error {
	return o.reg.CloseAll()
}
