package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var (
	selfCoord = geodesy.Coordinate{Latitude: 52.0, Longitude: 4.0}
	peerCoord = geodesy.Coordinate{Latitude: 52.0, Longitude: 4.001}
)

func newTestSession(t *testing.T) (*Session, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(64, zerolog.Nop())
	t.Cleanup(st.Close)
	s := NewSession(st, zerolog.Nop())
	t.Cleanup(s.Stop)
	return s, st
}

// watchQuiet subscribes to readings and discards the initial value, so the
// channel only yields readings published from now on.
func watchQuiet(t *testing.T, s *Session) <-chan DirectionReading {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := s.Watch(ctx)
	<-ch
	return ch
}

func assertNoReading(t *testing.T, ch <-chan DirectionReading) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

// settle waits until the store's dispatcher has drained everything queued so far.
func settle(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	done := make(chan struct{})
	var once sync.Once
	h, err := st.SubscribeAll(func(models.Roster, error) { once.Do(func() { close(done) }) })
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("dispatcher did not drain")
	}
	st.Unsubscribe(h)
}

func TestSession_StopWhileIdle(t *testing.T) {
	s, st := newTestSession(t)

	s.Stop()
	s.Stop()

	assert.Equal(t, Idle, s.State())
	assert.Equal(t, Unavailable, s.Reading())
	assert.Equal(t, 0, st.Subscriptions())
}

func TestSession_RejectsSelfTracking(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))

	err := s.Start("me", "me")
	assert.ErrorIs(t, err, ErrSelfTracking)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, st.Subscriptions())

	settle(t, st)
	assert.Equal(t, Unavailable, s.Reading())
}

func TestSession_RejectionLeavesCurrentTargetAlone(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, s.Start("me", "you"))

	assert.ErrorIs(t, s.Start("you", "you"), ErrSelfTracking)
	assert.ErrorIs(t, s.Start("", "you"), ErrEmptyIdentity)
	assert.ErrorIs(t, s.Start("me", "a/b"), store.ErrBadIdentity)

	target, ok := s.Target()
	require.True(t, ok)
	assert.Equal(t, Target{Self: "me", Peer: "you"}, target)
	assert.Equal(t, 2, st.Subscriptions())
}

func TestSession_ScenarioDueEast(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))

	require.NoError(t, s.Start("me", "you"))

	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)
	r := s.Reading()
	assert.True(t, r.Available)
	assert.False(t, r.Stale)
	assert.InDelta(t, 69, r.DistanceMeters, 1)
	assert.InDelta(t, 90, r.BearingDegrees, 0.1)
}

func TestSession_ArmedUntilBothSidesHaveFix(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))

	require.NoError(t, s.Start("me", "you"))
	settle(t, st)
	assert.Equal(t, Armed, s.State())
	assert.Equal(t, Unavailable, s.Reading())

	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)

	// Peer loses its fix: back to Armed, no partial reading.
	st.Put(models.PeerLocation{Identity: "you", Latitude: floatPtr(52.0), Timestamp: time.Now().UnixMilli() + 1000})
	assert.Eventually(t, func() bool { return s.State() == Armed }, waitFor, tick)
	assert.Equal(t, Unavailable, s.Reading())
}

func TestSession_OrderIndependence(t *testing.T) {
	run := func(first, second string, firstCoord, secondCoord geodesy.Coordinate) DirectionReading {
		s, st := newTestSession(t)
		require.NoError(t, s.Start("me", "you"))
		require.NoError(t, st.PublishOwnLocation(first, firstCoord))
		require.NoError(t, st.PublishOwnLocation(second, secondCoord))
		assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)
		settle(t, st)
		return s.Reading()
	}

	selfFirst := run("me", "you", selfCoord, peerCoord)
	peerFirst := run("you", "me", peerCoord, selfCoord)

	assert.Equal(t, selfFirst, peerFirst)
	assert.True(t, selfFirst.Available)
}

func TestSession_EachUpdateRecomputesWithLatestOtherSide(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	require.NoError(t, s.Start("me", "you"))
	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)

	north := geodesy.Coordinate{Latitude: 52.001, Longitude: 4.0}
	require.NoError(t, st.PublishOwnLocation("you", north))
	assert.Eventually(t, func() bool {
		r := s.Reading()
		return r.Available && (r.BearingDegrees < 1 || r.BearingDegrees > 359)
	}, waitFor, tick)
}

func TestSession_RestartLeavesOnePairAndSilencesOldHandles(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	require.NoError(t, st.PublishOwnLocation("them", geodesy.Coordinate{Latitude: 52.001, Longitude: 4.0}))

	require.NoError(t, s.Start("me", "you"))
	require.NoError(t, s.Start("me", "them"))
	assert.Equal(t, 2, st.Subscriptions())

	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)
	settle(t, st)
	updates := watchQuiet(t, s)
	reading := s.Reading()

	// The old peer moves; nothing subscribed to it any more.
	require.NoError(t, st.PublishOwnLocation("you", geodesy.Coordinate{Latitude: 10, Longitude: 10}))
	settle(t, st)

	assertNoReading(t, updates)
	assert.Equal(t, reading, s.Reading())
	assert.InDelta(t, 0, reading.BearingDegrees, 0.1)
}

func TestSession_NoRecomputeAfterStop(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	require.NoError(t, s.Start("me", "you"))
	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)
	settle(t, st)

	s.Stop()
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, Unavailable, s.Reading())
	assert.Equal(t, 0, st.Subscriptions())
	updates := watchQuiet(t, s)

	require.NoError(t, st.PublishOwnLocation("you", geodesy.Coordinate{Latitude: 10, Longitude: 10}))
	settle(t, st)
	assertNoReading(t, updates)
	assert.Equal(t, Unavailable, s.Reading())
}

func TestSession_LateCallbackFromOldGenerationIsDropped(t *testing.T) {
	s, _ := newTestSession(t)

	s.mu.Lock()
	s.state = Armed
	s.generation = 5
	s.lastSelf = models.NewPeerLocation("me", selfCoord, 1)
	s.mu.Unlock()
	updates := watchQuiet(t, s)

	s.update(4, peerSide, models.NewPeerLocation("you", peerCoord, 1), nil)
	assertNoReading(t, updates)
	assert.Equal(t, Armed, s.State())

	s.update(5, peerSide, models.NewPeerLocation("you", peerCoord, 1), nil)
	r := <-updates
	assert.True(t, r.Available)
	assert.Equal(t, Active, s.State())
}

func TestSession_StoreErrorKeepsReadingAndMarksStale(t *testing.T) {
	s, st := newTestSession(t)
	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	require.NoError(t, s.Start("me", "you"))
	assert.Eventually(t, func() bool { return s.State() == Active }, waitFor, tick)
	before := s.Reading()

	st.SetAvailable(false)
	assert.Eventually(t, func() bool { return s.Reading().Stale }, waitFor, tick)
	after := s.Reading()
	assert.Equal(t, before.DistanceMeters, after.DistanceMeters)
	assert.Equal(t, before.BearingDegrees, after.BearingDegrees)
	assert.True(t, after.Available)

	st.SetAvailable(true)
	assert.Eventually(t, func() bool { return !s.Reading().Stale }, waitFor, tick)
}

func TestSession_WatchStreamsReadings(t *testing.T) {
	s, st := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := s.Watch(ctx)
	assert.Equal(t, Unavailable, <-updates)

	require.NoError(t, st.PublishOwnLocation("me", selfCoord))
	require.NoError(t, st.PublishOwnLocation("you", peerCoord))
	require.NoError(t, s.Start("me", "you"))

	select {
	case r := <-updates:
		assert.True(t, r.Available)
	case <-time.After(waitFor):
		t.Fatal("no reading")
	}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) PublishOwnLocation(identity string, c geodesy.Coordinate, opts ...store.PublishOption) error {
	args := m.Called(identity, c)
	return args.Error(0)
}

func (m *mockStore) SubscribeAll(handler store.RosterHandler) (store.Handle, error) {
	args := m.Called(handler)
	return args.Get(0).(store.Handle), args.Error(1)
}

func (m *mockStore) SubscribeOne(identity string, handler store.PeerHandler) (store.Handle, error) {
	args := m.Called(identity, handler)
	return args.Get(0).(store.Handle), args.Error(1)
}

func (m *mockStore) Unsubscribe(h store.Handle) {
	m.Called(h)
}

func TestSession_SubscribeFailureReleasesPeerAndReturnsToIdle(t *testing.T) {
	ms := new(mockStore)
	peerHandle := store.Handle{}
	ms.On("SubscribeOne", "you", mock.Anything).Return(peerHandle, nil)
	ms.On("SubscribeOne", "me", mock.Anything).Return(store.Handle{}, store.ErrStoreClosed)
	ms.On("Unsubscribe", peerHandle).Return()

	s := NewSession(ms, zerolog.Nop())
	err := s.Start("me", "you")
	assert.True(t, errors.Is(err, store.ErrStoreClosed))
	assert.Equal(t, Idle, s.State())
	ms.AssertNumberOfCalls(t, "Unsubscribe", 1)
}

func floatPtr(f float64) *float64 { return &f }
