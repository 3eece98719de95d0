package emitter

import "sync"

// Event is a named channel listeners subscribe to. The set of events is
// owned by whoever composes the emitter in.
type Event string

type Callback func(args ...any)

// Registration is one subscribed callback. The pointer doubles as the
// handle for Off, and as the unit the failover snapshot detaches and
// reattaches, so order and one-shot semantics survive a move between
// emitters untouched.
type Registration struct {
	event Event
	fn    Callback
	once  bool
}

func (r *Registration) Event() Event { return r.event }
func (r *Registration) Once() bool   { return r.once }

// Emitter is an ordered publish/subscribe dispatcher with persistent (On)
// and one-shot (Once) subscriptions. Safe for concurrent use.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Event][]*Registration
}

func New() *Emitter {
	return &Emitter{
		listeners: make(map[Event][]*Registration),
	}
}

func (e *Emitter) On(event Event, fn Callback) *Registration {
	return e.add(&Registration{event: event, fn: fn})
}

func (e *Emitter) Once(event Event, fn Callback) *Registration {
	return e.add(&Registration{event: event, fn: fn, once: true})
}

func (e *Emitter) add(reg *Registration) *Registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[reg.event] = append(e.listeners[reg.event], reg)
	return reg
}

// Off removes a single registration, returns false if it is not subscribed
// (already fired once-listener, already captured, or never added here).
func (e *Emitter) Off(reg *Registration) bool {
	if reg == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[reg.event]
	for i := range regs {
		if regs[i] == reg {
			e.listeners[reg.event] = append(regs[:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit invokes every listener of event in registration order and returns
// how many ran. Once-listeners are unsubscribed before their callback runs,
// so a re-entrant Emit cannot fire them twice.
func (e *Emitter) Emit(event Event, args ...any) int {
	e.mu.Lock()
	regs := e.listeners[event]
	fire := make([]*Registration, len(regs))
	copy(fire, regs)
	kept := regs[:0]
	for _, reg := range regs {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	e.listeners[event] = kept
	e.mu.Unlock()

	for _, reg := range fire {
		reg.fn(args...)
	}
	return len(fire)
}

func (e *Emitter) ListenerCount(event Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Take detaches and returns every registration of event in order, leaving
// the event with zero listeners. Returns nil when nothing is subscribed.
func (e *Emitter) Take(event Event) []*Registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[event]
	if len(regs) == 0 {
		return nil
	}
	delete(e.listeners, event)
	return regs
}

// Put reattaches registrations previously detached with Take, preserving
// their order and one-shot semantics.
func (e *Emitter) Put(event Event, regs []*Registration) {
	if len(regs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], regs...)
}

// RemoveAll drops every listener of event.
func (e *Emitter) RemoveAll(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}
