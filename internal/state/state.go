// Package state holds the mutable settings shared between the control
// session, the beacon watcher and the monitoring loop.
package state

import "sync"

// Session is a live control connection that receives outbound events.
type Session interface {
	// Publish queues an event without blocking. It reports whether the event was accepted.
	Publish(event any) bool
	// Close terminates the connection.
	Close() error
}

// State is safe for concurrent use. Fields have a single writer each and no
// cross-field atomicity is provided.
type State struct {
	mu sync.RWMutex

	threshold     float64
	filterEnabled bool
	operator      string
	beaconID      string
	session       Session
}

// New creates a State with the given initial threshold.
func New(threshold float64) *State {
	return &State{threshold: threshold}
}

// Threshold returns the current notification threshold in dB.
func (s *State) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold updates the notification threshold.
func (s *State) SetThreshold(db float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = db
}

// FilterEnabled reports whether transcription and relay are enabled.
func (s *State) FilterEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterEnabled
}

// SetFilterEnabled updates filter mode and returns the previous value.
func (s *State) SetFilterEnabled(enabled bool) (previous bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.filterEnabled
	s.filterEnabled = enabled
	return previous
}

// Operator returns the operator display name, empty when unset.
func (s *State) Operator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

// SetOperator updates the operator display name.
func (s *State) SetOperator(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operator = name
}

// BeaconID returns the most recently observed beacon identifier, empty when none.
func (s *State) BeaconID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beaconID
}

// SetBeaconID updates the beacon identifier and reports whether it changed.
func (s *State) SetBeaconID(id string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.beaconID != id
	s.beaconID = id
	return changed
}

// ActiveSession returns the active control session, or nil.
func (s *State) ActiveSession() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// SwapSession installs session as the active session and returns the one it
// displaced. Displacing a session ends it, so filter mode and operator
// identity are reset in the same step.
func (s *State) SwapSession(session Session) (previous Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.session
	s.session = session
	if previous != nil {
		s.filterEnabled = false
		s.operator = ""
	}
	return previous
}

// ClearSession ends session if it is still the active one. Filter mode and
// operator identity are reset together with the slot. It reports whether
// session was active; a displaced session ending later changes nothing.
func (s *State) ClearSession(session Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session != session {
		return false
	}
	s.session = nil
	s.filterEnabled = false
	s.operator = ""
	return true
}

// Publish sends event to the active session. It is a no-op without one.
func (s *State) Publish(event any) bool {
	session := s.ActiveSession()
	if session == nil {
		return false
	}
	return session.Publish(event)
}

// Snapshot is a point-in-time copy of the shared state.
type Snapshot struct {
	Threshold     float64
	FilterEnabled bool
	Operator      string
	BeaconID      string
	SessionActive bool
}

// Snapshot returns a copy of all values under a single lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Threshold:     s.threshold,
		FilterEnabled: s.filterEnabled,
		Operator:      s.operator,
		BeaconID:      s.beaconID,
		SessionActive: s.session != nil,
	}
}
