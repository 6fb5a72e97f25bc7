// Package events implements the handler registry used by every cache and
// updater to fan out lifecycle notifications.
//
// Each Manager is owned by exactly one component; there is no global pub/sub.
// Handlers are registered per event name with an optional guard condition, a
// data-transforming expression, one-shot semantics, and an execution priority.
// Emission is synchronous and runs on the emitter's goroutine.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxHandlersPerEvent caps registrations per event name to catch listener
// leaks early.
const MaxHandlersPerEvent = 100

// Context carries emission metadata into handlers, conditions, and expressions.
type Context struct {
	Event     string
	Timestamp time.Time
}

// Handler consumes the (possibly transformed) event payload.
type Handler func(data any, ctx Context) error

// Condition gates a handler; returning false skips it for this emission.
type Condition func(data any, ctx Context) bool

// Expression transforms the payload before the handler sees it.
type Expression func(data any, ctx Context) any

// Registration describes one handler subscription.
type Registration struct {
	// ID must be unique across the manager. Empty means "generate one".
	ID    string
	Event string

	Handler    Handler
	Condition  Condition
	Expression Expression

	// Once removes the registration after its first successful invocation.
	Once bool

	// Priority orders execution within an event; lower runs first.
	Priority int

	// StopOnError aborts the remaining handlers of this emission when this
	// handler fails.
	StopOnError bool
}

// HandlerError records one failed handler invocation during an emission.
type HandlerError struct {
	HandlerID string
	Err       error
}

// EmitResult summarizes one emission.
type EmitResult struct {
	HandlersInvoked int
	HandlersSkipped int
	Errors          []HandlerError
	ExecutionTime   time.Duration
}

// Manager is a prioritized, conditional handler registry. Safe for
// concurrent registration and emission.
type Manager struct {
	mu       sync.Mutex
	handlers map[string][]*Registration // event → registrations sorted by priority
	ids      map[string]string          // id → event, for Off
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[string][]*Registration),
		ids:      make(map[string]string),
	}
}

// On registers a handler and returns its ID. Registration fails on a
// duplicate ID, a missing handler, or a full event.
func (m *Manager) On(reg Registration) (string, error) {
	if reg.Event == "" {
		return "", fmt.Errorf("events: empty event name")
	}
	if reg.Handler == nil {
		return "", fmt.Errorf("events: nil handler for %q", reg.Event)
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.ids[reg.ID]; dup {
		return "", fmt.Errorf("events: duplicate handler id %q", reg.ID)
	}
	regs := m.handlers[reg.Event]
	if len(regs) >= MaxHandlersPerEvent {
		return "", fmt.Errorf("events: %q has %d handlers, cap reached", reg.Event, len(regs))
	}

	regs = append(regs, &reg)
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Priority < regs[j].Priority })
	m.handlers[reg.Event] = regs
	m.ids[reg.ID] = reg.Event
	return reg.ID, nil
}

// Subscribe is the common-case registration: every emission of event, no
// condition, default priority.
func (m *Manager) Subscribe(event string, h Handler) (string, error) {
	return m.On(Registration{Event: event, Handler: h})
}

// Off removes a registration by ID. Returns whether it existed.
func (m *Manager) Off(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) bool {
	event, ok := m.ids[id]
	if !ok {
		return false
	}
	delete(m.ids, id)
	regs := m.handlers[event]
	for i, r := range regs {
		if r.ID == id {
			m.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
	return true
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}

// Clear removes every registration. Called on dispose so no listener
// outlives its owning cache or updater.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = make(map[string][]*Registration)
	m.ids = make(map[string]string)
}

// Emit invokes the event's handlers in ascending priority order. Handler
// panics and errors are recorded in the result; emission continues unless
// the failing handler set StopOnError. One-shot handlers are removed after a
// successful invocation.
func (m *Manager) Emit(event string, data any) EmitResult {
	start := time.Now()
	ctx := Context{Event: event, Timestamp: start}

	m.mu.Lock()
	regs := make([]*Registration, len(m.handlers[event]))
	copy(regs, m.handlers[event])
	m.mu.Unlock()

	var res EmitResult
	var exhausted []string

	for _, reg := range regs {
		if reg.Condition != nil && !reg.Condition(data, ctx) {
			res.HandlersSkipped++
			continue
		}
		payload := data
		if reg.Expression != nil {
			payload = reg.Expression(data, ctx)
		}

		err := invoke(reg.Handler, payload, ctx)
		res.HandlersInvoked++
		if err != nil {
			res.Errors = append(res.Errors, HandlerError{HandlerID: reg.ID, Err: err})
			if reg.StopOnError {
				break
			}
			continue
		}
		if reg.Once {
			exhausted = append(exhausted, reg.ID)
		}
	}

	if len(exhausted) > 0 {
		m.mu.Lock()
		for _, id := range exhausted {
			m.removeLocked(id)
		}
		m.mu.Unlock()
	}

	res.ExecutionTime = time.Since(start)
	return res
}

// invoke runs a handler, converting a panic into an error so one bad
// subscriber cannot take down the emitting updater.
func invoke(h Handler, data any, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(data, ctx)
}
