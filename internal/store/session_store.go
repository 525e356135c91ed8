package store

import (
	"sync"
	"time"

	"parkflow/parking"
)

// Listener receives a snapshot after every store mutation. active is nil
// when no session occupies the slot. The history slice is a copy.
type Listener func(active *parking.Session, history []parking.Session)

// SessionStore holds the single active session slot and the completed
// session history for one driver. Every mutation is a compare-and-set
// against the expected status and reservation identity, never a blind
// overwrite: timers and in-flight backend responses race against sensor
// events for this slot.
type SessionStore struct {
	mu        sync.RWMutex
	active    *parking.Session
	history   []parking.Session
	listeners []Listener
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Subscribe registers a listener. Listeners are invoked synchronously after
// each mutation, outside the store lock.
func (s *SessionStore) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Active returns a copy of the current session, if any.
func (s *SessionStore) Active() (parking.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return parking.Session{}, false
	}
	return *s.active, true
}

// History returns the completed sessions, most recent first.
func (s *SessionStore) History() []parking.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyHistory()
}

// PlaceReserved installs a freshly booked session into the active slot.
// Fails when the slot is occupied (single active-session invariant).
func (s *SessionStore) PlaceReserved(session parking.Session) bool {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return false
	}
	session.Status = parking.StatusReserved
	s.active = &session
	s.mu.Unlock()

	s.notify()
	return true
}

// Restore places a persisted session back into the slot on startup. Only
// reserved and active sessions are eligible and the slot must be empty.
func (s *SessionStore) Restore(session parking.Session) bool {
	if session.Status != parking.StatusReserved && session.Status != parking.StatusActive {
		return false
	}
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return false
	}
	s.active = &session
	s.mu.Unlock()

	s.notify()
	return true
}

// Activate transitions reserved -> active for the matching reservation.
// StartTime is set exactly once here. Returns the updated session and
// whether the transition applied.
func (s *SessionStore) Activate(reservationID int64, startTime time.Time) (parking.Session, bool) {
	s.mu.Lock()
	if s.active == nil ||
		s.active.Status != parking.StatusReserved ||
		s.active.ReservationID != reservationID {
		s.mu.Unlock()
		return parking.Session{}, false
	}
	updated := *s.active
	updated.Status = parking.StatusActive
	updated.StartTime = &startTime
	s.active = &updated
	result := updated
	s.mu.Unlock()

	s.notify()
	return result, true
}

// Complete transitions active -> completed for the matching reservation,
// moves the session into history and clears the slot.
func (s *SessionStore) Complete(reservationID int64, endTime time.Time, totalCost float64) (parking.Session, bool) {
	s.mu.Lock()
	if s.active == nil ||
		s.active.Status != parking.StatusActive ||
		s.active.ReservationID != reservationID {
		s.mu.Unlock()
		return parking.Session{}, false
	}
	completed := *s.active
	completed.Status = parking.StatusCompleted
	completed.EndTime = &endTime
	completed.TotalCost = totalCost
	s.history = append([]parking.Session{completed}, s.history...)
	s.active = nil
	s.mu.Unlock()

	s.notify()
	return completed, true
}

// Release clears the slot when the session is still reserved with the same
// reservation identity. A cancelled reservation is discarded, not retained
// as a session. Used by manual cancel and the auto-expiry timer; when the
// session moved on before the timer fired this is a no-op.
func (s *SessionStore) Release(reservationID int64) (parking.Session, bool) {
	s.mu.Lock()
	if s.active == nil ||
		s.active.Status != parking.StatusReserved ||
		s.active.ReservationID != reservationID {
		s.mu.Unlock()
		return parking.Session{}, false
	}
	released := *s.active
	s.active = nil
	s.mu.Unlock()

	s.notify()
	return released, true
}

// MergeHistory folds backend-derived completed sessions into history,
// deduplicating on reservation id. History is append-only; existing
// entries are never edited.
func (s *SessionStore) MergeHistory(sessions []parking.Session) int {
	s.mu.Lock()
	known := make(map[int64]struct{}, len(s.history))
	for _, h := range s.history {
		known[h.ReservationID] = struct{}{}
	}
	added := 0
	for _, session := range sessions {
		if session.Status != parking.StatusCompleted {
			continue
		}
		if _, ok := known[session.ReservationID]; ok {
			continue
		}
		known[session.ReservationID] = struct{}{}
		s.history = append(s.history, session)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		s.notify()
	}
	return added
}

func (s *SessionStore) copyHistory() []parking.Session {
	out := make([]parking.Session, len(s.history))
	copy(out, s.history)
	return out
}

func (s *SessionStore) notify() {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	var active *parking.Session
	if s.active != nil {
		copied := *s.active
		active = &copied
	}
	history := s.copyHistory()
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(active, history)
	}
}
