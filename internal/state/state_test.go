package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	events []any
	closed bool
}

func (f *fakeSession) Publish(event any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return true
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestPublishWithoutSessionIsNoop(t *testing.T) {
	s := New(85)
	assert.False(t, s.Publish("x"))
}

func TestSwapSessionDisplaces(t *testing.T) {
	s := New(85)
	first := &fakeSession{}
	second := &fakeSession{}

	assert.Nil(t, s.SwapSession(first))
	assert.Same(t, first, s.SwapSession(second))

	require.True(t, s.Publish(1))
	assert.Empty(t, first.events)
	assert.Equal(t, []any{1}, second.events)
}

func TestClearSessionResetsSessionScopedState(t *testing.T) {
	s := New(85)
	session := &fakeSession{}
	s.SwapSession(session)
	s.SetFilterEnabled(true)
	s.SetOperator("Anna")
	s.SetThreshold(70)
	s.SetBeaconID("014522")

	assert.True(t, s.ClearSession(session))

	snap := s.Snapshot()
	assert.False(t, snap.SessionActive)
	assert.False(t, snap.FilterEnabled)
	assert.Empty(t, snap.Operator)
	assert.Equal(t, 70.0, snap.Threshold, "threshold survives the session")
	assert.Equal(t, "014522", snap.BeaconID, "beacon has its own lifecycle")
	assert.False(t, s.Publish("x"))
}

func TestClearSessionIgnoresDisplacedSession(t *testing.T) {
	s := New(85)
	old := &fakeSession{}
	current := &fakeSession{}
	s.SwapSession(old)
	s.SwapSession(current)
	s.SetFilterEnabled(true)
	s.SetOperator("Marco")

	assert.False(t, s.ClearSession(old))

	assert.Same(t, current, s.ActiveSession())
	assert.True(t, s.FilterEnabled())
	assert.Equal(t, "Marco", s.Operator())
}

func TestSwapSessionResetsDisplacedSettings(t *testing.T) {
	s := New(85)
	s.SwapSession(&fakeSession{})
	s.SetFilterEnabled(true)
	s.SetOperator("Anna")
	s.SetThreshold(70)

	s.SwapSession(&fakeSession{})

	snap := s.Snapshot()
	assert.True(t, snap.SessionActive)
	assert.False(t, snap.FilterEnabled)
	assert.Empty(t, snap.Operator)
	assert.Equal(t, 70.0, snap.Threshold)
}

func TestClearSessionNil(t *testing.T) {
	s := New(85)
	assert.False(t, s.ClearSession(nil))
}

func TestSetters(t *testing.T) {
	s := New(85)
	assert.Equal(t, 85.0, s.Threshold())

	assert.False(t, s.SetFilterEnabled(true))
	assert.True(t, s.SetFilterEnabled(true))
	assert.True(t, s.SetFilterEnabled(false))

	assert.True(t, s.SetBeaconID("A1"))
	assert.False(t, s.SetBeaconID("A1"))
	assert.True(t, s.SetBeaconID(""))
}

func TestConcurrentAccess(t *testing.T) {
	s := New(85)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := &fakeSession{}
			for j := range 100 {
				s.SetThreshold(float64(i * j))
				s.SetFilterEnabled(j%2 == 0)
				s.SwapSession(session)
				s.Publish(j)
				_ = s.Snapshot()
				s.ClearSession(session)
			}
		}()
	}
	wg.Wait()
}
