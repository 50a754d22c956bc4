// Package core is the boundary the presentation layer talks to. It ties the
// signed-in member to the roster, the tracking session and the device heading.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/presence"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/internal/tracking"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/benmeehan/peertrack/pkg/identity"
	"github.com/rs/zerolog"
)

// Core owns the presence aggregator and tracking session for one signed-in
// member. Start and Stop bracket the signed-in lifetime.
type Core struct {
	store    store.PeerLocationStore
	members  identity.MemberInfoInterface
	presence *presence.Aggregator
	session  *tracking.Session
	fuser    *heading.Fuser
	logger   zerolog.Logger
}

// New assembles a Core over the given store, identity and heading fuser.
func New(s store.PeerLocationStore, members identity.MemberInfoInterface, fuser *heading.Fuser, logger zerolog.Logger) *Core {
	return &Core{
		store:    s,
		members:  members,
		presence: presence.NewAggregator(s, logger.With().Str("component", "presence").Logger()),
		session:  tracking.NewSession(s, logger.With().Str("component", "tracking").Logger()),
		fuser:    fuser,
		logger:   logger,
	}
}

// Start opens the roster subscription for the signed-in member.
func (c *Core) Start() error {
	id, err := c.members.GetIdentity()
	if err != nil {
		return err
	}
	if err := c.presence.Start(); err != nil {
		return err
	}
	c.logger.Info().Str("identity", id.ID).Msg("Core started")
	return nil
}

// Stop ends tracking and releases the roster subscription.
func (c *Core) Stop() error {
	c.session.Stop()
	return c.presence.Stop()
}

// Roster returns every member with a fix, ordered by identity.
func (c *Core) Roster() []models.PeerLocation {
	return c.presence.All()
}

// Peers returns the roster without the signed-in member.
func (c *Core) Peers() []models.PeerLocation {
	id, err := c.members.GetIdentity()
	if err != nil {
		return c.presence.All()
	}
	return c.presence.Peers(id.ID)
}

// Self returns the signed-in member's last confirmed fix.
func (c *Core) Self() (models.PeerLocation, bool) {
	id, err := c.members.GetIdentity()
	if err != nil {
		return models.PeerLocation{}, false
	}
	return c.presence.Self(id.ID)
}

// RosterStale reports whether the roster may be out of date.
func (c *Core) RosterStale() bool {
	return c.presence.Stale()
}

// WatchRoster streams roster snapshots until ctx is done.
func (c *Core) WatchRoster(ctx context.Context) <-chan presence.Snapshot {
	return c.presence.Watch(ctx)
}

// Direction returns the current direction reading.
func (c *Core) Direction() tracking.DirectionReading {
	return c.session.Reading()
}

// WatchDirection streams direction readings until ctx is done.
func (c *Core) WatchDirection(ctx context.Context) <-chan tracking.DirectionReading {
	return c.session.Watch(ctx)
}

// Azimuth returns the current device heading.
func (c *Core) Azimuth() heading.Azimuth {
	return c.fuser.Current()
}

// WatchAzimuth streams heading updates until ctx is done.
func (c *Core) WatchAzimuth(ctx context.Context) <-chan heading.Azimuth {
	return c.fuser.Watch(ctx)
}

// Target returns the peer being tracked, if any.
func (c *Core) Target() (string, bool) {
	t, ok := c.session.Target()
	return t.Peer, ok
}

// StartTracking follows peer from the signed-in member's location.
func (c *Core) StartTracking(peer string) error {
	id, err := c.members.GetIdentity()
	if err != nil {
		return err
	}
	return c.session.Start(id.ID, peer)
}

// StopTracking stops following the current peer.
func (c *Core) StopTracking() {
	c.session.Stop()
}

// PublishOwnLocation writes the signed-in member's location to the store.
func (c *Core) PublishOwnLocation(coord geodesy.Coordinate) error {
	if !coord.Valid() {
		return fmt.Errorf("%w: coordinate out of range", store.ErrInvalidRecord)
	}
	id, err := c.members.GetIdentity()
	if err != nil {
		return err
	}
	if err := c.store.PublishOwnLocation(id.ID, coord, store.WithLabel(id.Label)); err != nil {
		c.logger.Error().Err(err).Str("identity", id.ID).Msg("Failed to publish own location")
		return err
	}
	return nil
}

// SignOut stops tracking, releases the roster and forgets the identity.
func (c *Core) SignOut() error {
	stopErr := c.Stop()
	signOutErr := c.members.SignOut()
	if err := errors.Join(stopErr, signOutErr); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	c.logger.Info().Msg("Signed out")
	return nil
}
