// Package presence keeps the roster of every known member up to date from a
// single full-set subscription on the location store.
package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/observe"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/rs/zerolog"
)

// Snapshot is one immutable view of the roster. Stale is set when the store
// reported an error after Roster was received. Snapshots delivered by Watch
// share their Roster with every other watcher and must be treated as
// read-only.
type Snapshot struct {
	Roster models.Roster
	Stale  bool
}

// Aggregator wraps one SubscribeAll for as long as it is started. Every
// snapshot replaces the previous one as a whole, so readers never observe a
// partially updated roster.
type Aggregator struct {
	store  store.PeerLocationStore
	logger zerolog.Logger

	mu         sync.Mutex
	running    bool
	generation uint64
	handle     store.Handle

	snapshot *observe.Value[Snapshot]
}

// NewAggregator creates a stopped Aggregator over s.
func NewAggregator(s store.PeerLocationStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:    s,
		logger:   logger,
		snapshot: observe.NewValue(Snapshot{Roster: models.Roster{}}),
	}
}

// Start opens the roster subscription. Starting a running Aggregator is a no-op.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	h, err := a.store.SubscribeAll(func(roster models.Roster, err error) {
		a.apply(gen, roster, err)
	})

	a.mu.Lock()
	if err != nil {
		if a.generation == gen {
			a.running = false
		}
		a.mu.Unlock()
		return fmt.Errorf("subscribe roster: %w", err)
	}
	if a.generation != gen {
		// Stopped while subscribing.
		a.mu.Unlock()
		a.store.Unsubscribe(h)
		return nil
	}
	a.handle = h
	a.mu.Unlock()

	a.logger.Info().Msg("Presence aggregator started")
	return nil
}

// Stop releases the subscription and clears the roster. It is safe to call
// on a stopped Aggregator.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.generation++
	h := a.handle
	a.handle = store.Handle{}
	a.snapshot.Set(Snapshot{Roster: models.Roster{}})
	a.mu.Unlock()

	if !h.IsZero() {
		a.store.Unsubscribe(h)
	}
	a.logger.Info().Msg("Presence aggregator stopped")
	return nil
}

func (a *Aggregator) apply(gen uint64, roster models.Roster, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.generation != gen {
		return
	}

	if err != nil {
		prev := a.snapshot.Get()
		a.logger.Warn().Err(err).Int("members", len(prev.Roster)).Msg("Roster update failed, keeping last known roster")
		if !prev.Stale {
			a.snapshot.Set(Snapshot{Roster: prev.Roster, Stale: true})
		}
		return
	}

	clean := make(models.Roster, len(roster))
	for id, loc := range roster {
		sanitized, invalid := loc.Sanitized()
		if invalid {
			a.logger.Warn().Str("identity", id).Msg("Ignoring incomplete coordinate in roster")
		}
		clean[id] = sanitized
	}
	a.snapshot.Set(Snapshot{Roster: clean})
}

// Snapshot returns a copy of the current roster view that the caller owns.
func (a *Aggregator) Snapshot() Snapshot {
	snap := a.snapshot.Get()
	snap.Roster = snap.Roster.Clone()
	return snap
}

// Lookup returns the record stored for identity, with or without a fix.
func (a *Aggregator) Lookup(identity string) (models.PeerLocation, bool) {
	loc, ok := a.snapshot.Get().Roster[identity]
	return loc, ok
}

// All returns every member that has a fix, ordered by identity.
func (a *Aggregator) All() []models.PeerLocation {
	return withFix(a.snapshot.Get().Roster, "")
}

// Peers is All without the entry for self.
func (a *Aggregator) Peers(self string) []models.PeerLocation {
	return withFix(a.snapshot.Get().Roster, self)
}

// Self returns the last confirmed fix stored for identity.
func (a *Aggregator) Self(identity string) (models.PeerLocation, bool) {
	loc, ok := a.Lookup(identity)
	if !ok || !loc.HasFix() {
		return models.PeerLocation{}, false
	}
	return loc, true
}

// Stale reports whether the last store interaction failed.
func (a *Aggregator) Stale() bool {
	return a.snapshot.Get().Stale
}

// Watch streams roster snapshots until ctx is done.
func (a *Aggregator) Watch(ctx context.Context) <-chan Snapshot {
	return a.snapshot.Watch(ctx)
}

func withFix(roster models.Roster, exclude string) []models.PeerLocation {
	sorted := roster.Sorted()
	out := sorted[:0]
	for _, loc := range sorted {
		if loc.Identity == exclude || !loc.HasFix() {
			continue
		}
		out = append(out, loc)
	}
	return out
}
