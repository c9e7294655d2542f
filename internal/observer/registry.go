package observer

import (
	"context"
	"sync"
)

type Handler func(ctx context.Context, ev Event)

// Source delivers raw page events. Listen returns a func that removes the
// listener again; calling it more than once is harmless.
type Source interface {
	Listen(kind EventKind, h Handler) (remove func())
}

type registration struct {
	kind   EventKind
	remove func()
}

// Registry owns every listener an observer installed so they can all be
// released together.
type Registry struct {
	mutex   sync.Mutex
	entries []registration
	closed  bool
}

// Add installs h on src. It is a no-op once the registry has been torn down.
func (r *Registry) Add(src Source, kind EventKind, h Handler) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return false
	}
	r.entries = append(r.entries, registration{kind: kind, remove: src.Listen(kind, h)})
	return true
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

// Teardown removes every listener and closes the registry. It returns how
// many listeners were removed.
func (r *Registry) Teardown() int {
	r.mutex.Lock()
	entries := r.entries
	r.entries = nil
	r.closed = true
	r.mutex.Unlock()

	for _, e := range entries {
		e.remove()
	}
	return len(entries)
}

type listener struct {
	id int
	h  Handler
}

// Dispatcher is an in-process Source. Handlers for one Dispatch call run
// sequentially in registration order on the caller's goroutine.
type Dispatcher struct {
	mutex     sync.RWMutex
	nextID    int
	listeners map[EventKind][]listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[EventKind][]listener)}
}

func (d *Dispatcher) Listen(kind EventKind, h Handler) func() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[kind] = append(d.listeners[kind], listener{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mutex.Lock()
			defer d.mutex.Unlock()
			ls := d.listeners[kind]
			for i, l := range ls {
				if l.id == id {
					d.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
			if len(d.listeners[kind]) == 0 {
				delete(d.listeners, kind)
			}
		})
	}
}

// Dispatch delivers ev to every listener of its kind and returns how many ran.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) int {
	d.mutex.RLock()
	ls := append([]listener(nil), d.listeners[ev.Kind]...)
	d.mutex.RUnlock()

	for _, l := range ls {
		l.h(ctx, ev)
	}
	return len(ls)
}

// Count returns the number of listeners across all kinds.
func (d *Dispatcher) Count() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	n := 0
	for _, ls := range d.listeners {
		n += len(ls)
	}
	return n
}
