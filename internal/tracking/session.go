// Package tracking turns the confirmed locations of two members into a live
// distance and bearing reading.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/observe"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/rs/zerolog"
)

var (
	// ErrSelfTracking is returned when asked to track one's own identity.
	ErrSelfTracking = errors.New("cannot track own identity")
	// ErrEmptyIdentity is returned when either identity of a target is empty.
	ErrEmptyIdentity = errors.New("tracking target identity must not be empty")
)

// State is the lifecycle state of a Session.
type State int

const (
	// Idle means no target is selected.
	Idle State = iota
	// Armed means subscriptions are open but no reading is available yet.
	Armed
	// Active means both sides have a fix and a reading is published.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target is the pair of identities a session follows.
type Target struct {
	Self string `json:"self"`
	Peer string `json:"peer"`
}

// DirectionReading is the distance and initial bearing from self to peer.
// When Available is false the other fields carry no meaning. Stale is set
// when the store failed after the reading was computed.
type DirectionReading struct {
	DistanceMeters float64 `json:"distance_meters"`
	BearingDegrees float64 `json:"bearing_degrees"`
	Available      bool    `json:"available"`
	Stale          bool    `json:"stale"`
}

// Unavailable is the reading published while no direction can be computed.
var Unavailable = DirectionReading{}

type side int

const (
	selfSide side = iota
	peerSide
)

// Session follows at most one Target. All state changes happen under one
// mutex; store callbacks carry the generation they were opened for and are
// dropped once the session has moved on.
type Session struct {
	store  store.PeerLocationStore
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	target     Target
	generation uint64
	selfHandle store.Handle
	peerHandle store.Handle
	lastSelf   models.PeerLocation
	lastPeer   models.PeerLocation

	reading *observe.Value[DirectionReading]
}

// NewSession creates an Idle session over s.
func NewSession(s store.PeerLocationStore, logger zerolog.Logger) *Session {
	return &Session{
		store:   s,
		logger:  logger,
		reading: observe.NewValue(Unavailable),
	}
}

// Start tears down any current target and begins following self and peer.
// Rejected targets leave the session untouched.
func (s *Session) Start(self, peer string) error {
	if self == "" || peer == "" {
		return ErrEmptyIdentity
	}
	if self == peer {
		return ErrSelfTracking
	}
	for _, id := range []string{self, peer} {
		if err := store.ValidateIdentity(id); err != nil {
			return fmt.Errorf("tracking target %q: %w", id, err)
		}
	}

	s.mu.Lock()
	old := s.teardownLocked()
	gen := s.generation
	s.target = Target{Self: self, Peer: peer}
	s.state = Armed
	s.mu.Unlock()

	s.release(old)

	peerHandle, err := s.store.SubscribeOne(peer, s.handler(gen, peerSide))
	if err != nil {
		s.abort(gen)
		return fmt.Errorf("subscribe to peer %s: %w", peer, err)
	}
	selfHandle, err := s.store.SubscribeOne(self, s.handler(gen, selfSide))
	if err != nil {
		s.store.Unsubscribe(peerHandle)
		s.abort(gen)
		return fmt.Errorf("subscribe to self %s: %w", self, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// Superseded by Stop or another Start while subscribing.
		s.mu.Unlock()
		s.release([]store.Handle{peerHandle, selfHandle})
		return nil
	}
	s.peerHandle = peerHandle
	s.selfHandle = selfHandle
	s.mu.Unlock()

	s.logger.Info().Str("self", self).Str("peer", peer).Msg("Tracking started")
	return nil
}

// Stop releases both subscriptions and returns to Idle. It is safe to call
// when already Idle.
func (s *Session) Stop() {
	s.mu.Lock()
	wasTracking := s.state != Idle
	handles := s.teardownLocked()
	s.mu.Unlock()

	s.release(handles)
	if wasTracking {
		s.logger.Info().Msg("Tracking stopped")
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the followed pair, if any.
func (s *Session) Target() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.state != Idle
}

// Reading returns the latest direction reading.
func (s *Session) Reading() DirectionReading {
	return s.reading.Get()
}

// Watch streams direction readings until ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan DirectionReading {
	return s.reading.Watch(ctx)
}

// teardownLocked resets the session to Idle and returns the handles that
// must be released. Callers hold s.mu.
func (s *Session) teardownLocked() []store.Handle {
	var handles []store.Handle
	for _, h := range []store.Handle{s.peerHandle, s.selfHandle} {
		if !h.IsZero() {
			handles = append(handles, h)
		}
	}
	s.peerHandle = store.Handle{}
	s.selfHandle = store.Handle{}
	s.generation++
	s.state = Idle
	s.target = Target{}
	s.lastSelf = models.PeerLocation{}
	s.lastPeer = models.PeerLocation{}
	if s.reading.Get() != Unavailable {
		s.reading.Set(Unavailable)
	}
	return handles
}

func (s *Session) release(handles []store.Handle) {
	for _, h := range handles {
		s.store.Unsubscribe(h)
	}
}

// abort returns to Idle after a failed Start, unless something newer has
// taken over in the meantime.
func (s *Session) abort(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	// No handles have been stored for gen yet.
	s.teardownLocked()
}

func (s *Session) handler(gen uint64, which side) store.PeerHandler {
	return func(loc models.PeerLocation, err error) {
		s.update(gen, which, loc, err)
	}
}

func (s *Session) update(gen uint64, which side, loc models.PeerLocation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || s.state == Idle {
		return
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("identity", loc.Identity).Msg("Location update failed, keeping last reading")
		if current := s.reading.Get(); current.Available && !current.Stale {
			current.Stale = true
			s.reading.Set(current)
		}
		return
	}

	clean, invalid := loc.Sanitized()
	if invalid {
		s.logger.Warn().Str("identity", loc.Identity).Msg("Ignoring incomplete coordinate")
	}
	switch which {
	case selfSide:
		s.lastSelf = clean
	case peerSide:
		s.lastPeer = clean
	}
	s.recomputeLocked()
}

func (s *Session) recomputeLocked() {
	from, okSelf := s.lastSelf.Fix()
	to, okPeer := s.lastPeer.Fix()
	if !okSelf || !okPeer {
		s.state = Armed
		if s.reading.Get() != Unavailable {
			s.reading.Set(Unavailable)
		}
		return
	}

	distance, bearing := geodesy.DistanceAndBearing(from, to)
	s.state = Active
	s.reading.Set(DirectionReading{
		DistanceMeters: distance,
		BearingDegrees: bearing,
		Available:      true,
	})
}
