// Package observer provides the listener table shared by protocol machines
// and orchestrators.
package observer

import "sync"

// ListenerID identifies a registered listener so it can be removed again.
type ListenerID uint64

type entry[P any] struct {
	id   ListenerID
	fn   func(P)
	once bool
}

// Emitter is a listener table keyed by event. The zero value is ready to
// use. Listeners are invoked outside the table lock, so a listener may
// register or remove listeners on the same emitter.
type Emitter[E comparable, P any] struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[E][]entry[P]
}

// On registers fn for ev.
func (e *Emitter[E, P]) On(ev E, fn func(P)) ListenerID {
	return e.add(ev, fn, false)
}

// Once registers fn for the next emission of ev only.
func (e *Emitter[E, P]) Once(ev E, fn func(P)) ListenerID {
	return e.add(ev, fn, true)
}

func (e *Emitter[E, P]) add(ev E, fn func(P), once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[E][]entry[P])
	}
	e.next++
	e.listeners[ev] = append(e.listeners[ev], entry[P]{id: e.next, fn: fn, once: once})
	return e.next
}

// Off removes a listener. It reports whether the listener was registered.
func (e *Emitter[E, P]) Off(ev E, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[ev]
	for i, l := range list {
		if l.id == id {
			e.listeners[ev] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every listener of ev in registration order and returns how
// many were called.
func (e *Emitter[E, P]) Emit(ev E, payload P) int {
	e.mu.Lock()
	list := e.listeners[ev]
	snapshot := make([]entry[P], len(list))
	copy(snapshot, list)
	kept := list[:0:0]
	for _, l := range list {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) != len(list) {
		e.listeners[ev] = kept
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(payload)
	}
	return len(snapshot)
}

// Count reports the number of listeners registered for ev.
func (e *Emitter[E, P]) Count(ev E) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[ev])
}

// Clear drops every listener.
func (e *Emitter[E, P]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
}
