// Package session tracks per-call state from answer to hangup.
package session

import (
	"strings"
	"sync"
	"time"
)

// HistoryCapacity is the number of prior replies kept as generation context.
// Only the immediately preceding reply is retained to keep prompts short.
const HistoryCapacity = 1

// Session is the state for one call.
type Session struct {
	CallID string
	Name   string
	Phone  string
	// Context is the optional briefing supplied when the call was placed.
	Context string
	// Greeting, when set, is spoken instead of the time-of-day greeting.
	Greeting             string
	CreatedAt            time.Time
	History              []string
	TranscriptionStarted bool
}

// AddToHistory appends a reply, evicting the oldest entries past capacity.
func (s *Session) AddToHistory(reply string) {
	s.History = append(s.History, reply)
	if over := len(s.History) - HistoryCapacity; over > 0 {
		s.History = append(s.History[:0:0], s.History[over:]...)
	}
}

// ConversationContext is the short context string handed to the reply
// generator. The call briefing is used until a reply has been spoken.
func (s Session) ConversationContext() string {
	if len(s.History) == 0 {
		return s.Context
	}
	return strings.Join(s.History, " | ")
}

func (s Session) clone() Session {
	out := s
	if s.History != nil {
		out.History = append([]string(nil), s.History...)
	}
	return out
}

type entry struct {
	mu sync.Mutex
	s  Session
}

// Registry is a concurrent call-id to Session map. Different keys may be
// mutated in parallel; mutations of a single key are serialized.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

// Create registers a fresh session, silently replacing any existing one for
// the same id.
func (r *Registry) Create(callID, name, phone string) Session {
	e := &entry{s: Session{CallID: callID, Name: name, Phone: phone, CreatedAt: r.now()}}
	r.mu.Lock()
	r.entries[callID] = e
	r.mu.Unlock()
	return e.s.clone()
}

// Ensure returns the existing session for callID, creating one with the
// given identity if none exists. The bool reports whether it was created.
func (r *Registry) Ensure(callID, name, phone string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[callID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.s.clone(), false
	}
	e := &entry{s: Session{CallID: callID, Name: name, Phone: phone, CreatedAt: r.now()}}
	r.entries[callID] = e
	return e.s.clone(), true
}

func (r *Registry) lookup(callID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callID]
	return e, ok
}

// Get returns a copy of the session.
func (r *Registry) Get(callID string) (Session, bool) {
	e, ok := r.lookup(callID)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone(), true
}

// Update runs fn with exclusive access to the session and reports whether
// the session existed. fn must not call back into the registry.
func (r *Registry) Update(callID string, fn func(*Session)) bool {
	e, ok := r.lookup(callID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.s)
	return true
}

// Remove drops the session and reports whether it existed.
func (r *Registry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[callID]
	delete(r.entries, callID)
	return ok
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns copies of every live session.
func (r *Registry) List() []Session {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		es = append(es, e)
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.s.clone())
		e.mu.Unlock()
	}
	return out
}
