package store

import (
	"sync"
	"time"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/rs/zerolog"
)

// MemoryStore is an in-process PeerLocationStore. It assigns server
// timestamps itself and can be switched unavailable to exercise the
// degraded paths of its consumers.
type MemoryStore struct {
	mu        sync.Mutex
	records   models.Roster
	available bool
	closed    bool
	now       func() int64

	hub    *hub
	logger zerolog.Logger
}

// NewMemoryStore creates an empty, available MemoryStore.
func NewMemoryStore(queueSize int, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		records:   make(models.Roster),
		available: true,
		now:       func() int64 { return time.Now().UnixMilli() },
		hub:       newHub(queueSize, logger),
		logger:    logger,
	}
}

// PublishOwnLocation stores the coordinate under identity with a fresh
// server timestamp.
func (m *MemoryStore) PublishOwnLocation(identity string, c geodesy.Coordinate, opts ...PublishOption) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	o := applyPublishOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if !m.available {
		m.logger.Error().Str("identity", identity).Msg("Failed to write location: store unavailable")
		return ErrStoreUnavailable
	}

	ts := m.now()
	if prev, ok := m.records[identity]; ok && ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}
	loc := models.NewPeerLocation(identity, c, ts)
	loc.Label = o.label
	m.apply(loc)
	return nil
}

// Put writes a raw record as another member's client would, including
// records that are invalid. Records older than the stored one are dropped
// and Put reports false.
func (m *MemoryStore) Put(loc models.PeerLocation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if prev, ok := m.records[loc.Identity]; ok && loc.Timestamp < prev.Timestamp {
		return false
	}
	clean, invalid := loc.Sanitized()
	if invalid {
		m.logger.Warn().Str("identity", loc.Identity).Msg("Stored record has an incomplete coordinate, treating as no fix")
	}
	m.apply(clean)
	return true
}

// Delete removes identity's record.
func (m *MemoryStore) Delete(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.records[identity]; !ok {
		return
	}
	delete(m.records, identity)
	if m.available {
		m.hub.publish(models.PeerLocation{Identity: identity}, m.records.Clone())
	}
}

// SetAvailable toggles the simulated availability of the store. Going
// unavailable notifies every subscriber with ErrStoreUnavailable; coming back
// re-sends the current state.
func (m *MemoryStore) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.available == available {
		return
	}
	m.available = available
	if available {
		m.hub.resync(m.records.Clone())
		return
	}
	m.hub.fail(ErrStoreUnavailable)
}

// SubscribeAll registers handler for roster snapshots.
func (m *MemoryStore) SubscribeAll(handler RosterHandler) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Handle{}, ErrStoreClosed
	}
	sub := m.hub.addRoster(handler)
	if m.available {
		m.hub.deliverRoster(sub, m.records.Clone(), nil)
	} else {
		m.hub.deliverRoster(sub, nil, ErrStoreUnavailable)
	}
	return sub.handle, nil
}

// SubscribeOne registers handler for changes to identity's record.
func (m *MemoryStore) SubscribeOne(identity string, handler PeerHandler) (Handle, error) {
	if err := ValidateIdentity(identity); err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Handle{}, ErrStoreClosed
	}
	sub := m.hub.addPeer(identity, handler)
	if !m.available {
		m.hub.deliverPeer(sub, models.PeerLocation{Identity: identity}, ErrStoreUnavailable)
		return sub.handle, nil
	}
	loc, ok := m.records[identity]
	if !ok {
		loc = models.PeerLocation{Identity: identity}
	}
	m.hub.deliverPeer(sub, loc, nil)
	return sub.handle, nil
}

// Unsubscribe releases h. Unknown or already released handles are ignored.
func (m *MemoryStore) Unsubscribe(h Handle) {
	m.hub.remove(h)
}

// Subscriptions returns the number of live subscriptions.
func (m *MemoryStore) Subscriptions() int {
	return m.hub.count()
}

// Start is a no-op; a MemoryStore is usable as soon as it is created.
func (m *MemoryStore) Start() error { return nil }

// Stop closes the store.
func (m *MemoryStore) Stop() error {
	m.Close()
	return nil
}

// Close releases all subscriptions and stops the dispatcher.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.hub.close()
}

// apply stores loc and notifies subscribers. Callers hold m.mu.
func (m *MemoryStore) apply(loc models.PeerLocation) {
	m.records[loc.Identity] = loc
	if m.available {
		m.hub.publish(loc, m.records.Clone())
	}
}
