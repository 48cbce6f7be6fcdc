// Package resource hands out integer ids for open resources such as
// listeners, streams and key handles.
//
// A resource can be borrowed any number of times with Get, or removed
// outright with Take. Take refuses while a borrow is outstanding, which is
// how an operation demands exclusive ownership of a resource.
package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrBadResource = errors.New("bad resource id")
	ErrBusy        = errors.New("resource is in use")
)

// ID identifies a registered resource. IDs are never reused.
type ID uint32

// Resource is anything the registry can own.
type Resource interface {
	// Name returns a short type name for diagnostics.
	Name() string

	// Close releases the resource.
	Close() error
}

type slot struct {
	res     Resource
	borrows int
}

// Registry is a table of open resources. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	next  ID
	slots map[ID]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		next:  1,
		slots: make(map[ID]*slot),
	}
}

// Add registers res and returns its id.
func (r *Registry) Add(res Resource) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	r.slots[id] = &slot{res: res}
	return id
}

// Get borrows the resource id as a T. The returned release func must be
// called once the borrow ends; calling it more than once is harmless.
func Get[T Resource](r *Registry, id ID) (T, func(), error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return zero, nil, fmt.Errorf("%w: %d", ErrBadResource, id)
	}
	v, ok := s.res.(T)
	if !ok {
		return zero, nil, fmt.Errorf("%w: %d is a %s", ErrBadResource, id, s.res.Name())
	}
	s.borrows++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			s.borrows--
			r.mu.Unlock()
		})
	}
	return v, release, nil
}

// Take removes the resource id from the registry and returns it as a T.
// It fails with ErrBusy and leaves the resource registered if any borrow is
// outstanding.
func Take[T Resource](r *Registry, id ID) (T, error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return zero, fmt.Errorf("%w: %d", ErrBadResource, id)
	}
	v, ok := s.res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %d is a %s", ErrBadResource, id, s.res.Name())
	}
	if s.borrows > 0 {
		return zero, ErrBusy
	}
	delete(r.slots, id)
	return v, nil
}

// Restore puts res back under an id previously returned by Take. It fails
// with ErrBadResource if id was never issued or is in use.
func (r *Registry) Restore(id ID, res Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || id >= r.next {
		return fmt.Errorf("%w: %d was never issued", ErrBadResource, id)
	}
	if _, ok := r.slots[id]; ok {
		return fmt.Errorf("%w: %d is in use", ErrBadResource, id)
	}
	r.slots[id] = &slot{res: res}
	return nil
}

// Close removes the resource id and closes it. Outstanding borrows keep
// their reference; closing the resource is what wakes them.
func (r *Registry) Close(id ID) error {
	r.mu.Lock()
	s, ok := r.slots[id]
	if ok {
		delete(r.slots, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrBadResource, id)
	}
	return s.res.Close()
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Entry describes one registered resource.
type Entry struct {
	ID   ID
	Name string
}

// Entries lists the registered resources in id order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.slots))
	for id, s := range r.slots {
		out = append(out, Entry{ID: id, Name: s.res.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every registered resource and returns the first error.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[ID]*slot)
	r.mu.Unlock()

	ids := make([]ID, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var first error
	for _, id := range ids {
		if err := slots[id].res.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
