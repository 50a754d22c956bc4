package store

import (
	"sync/atomic"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/utils"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// Handle identifies one live subscription. The zero Handle is never issued.
type Handle struct {
	id string
}

// ID returns the handle's unique identifier.
func (h Handle) ID() string { return h.id }

// IsZero reports whether h was never issued by a store.
func (h Handle) IsZero() bool { return h.id == "" }

type subscription struct {
	handle   Handle
	identity string // empty for roster subscriptions
	onRoster RosterHandler
	onPeer   PeerHandler
	released atomic.Bool
}

// hub owns every live subscription of a store and delivers notifications to
// them on a single dispatcher goroutine, so each handler sees its updates in
// order and never concurrently with itself.
type hub struct {
	subs       cmap.ConcurrentMap[string, *subscription]
	dispatcher *utils.WorkerPool
	logger     zerolog.Logger
}

func newHub(queueSize int, logger zerolog.Logger) *hub {
	return &hub{
		subs:       cmap.New[*subscription](),
		dispatcher: utils.NewWorkerPool(1, queueSize),
		logger:     logger,
	}
}

func (h *hub) addRoster(handler RosterHandler) *subscription {
	sub := &subscription{handle: Handle{id: uuid.NewString()}, onRoster: handler}
	h.subs.Set(sub.handle.id, sub)
	return sub
}

func (h *hub) addPeer(identity string, handler PeerHandler) *subscription {
	sub := &subscription{handle: Handle{id: uuid.NewString()}, identity: identity, onPeer: handler}
	h.subs.Set(sub.handle.id, sub)
	return sub
}

// remove releases the subscription behind handle. It reports whether the
// handle was live.
func (h *hub) remove(handle Handle) bool {
	if handle.IsZero() {
		return false
	}
	sub, ok := h.subs.Pop(handle.id)
	if !ok {
		return false
	}
	sub.released.Store(true)
	return true
}

func (h *hub) count() int {
	return h.subs.Count()
}

// deliverRoster queues one roster notification for sub.
func (h *hub) deliverRoster(sub *subscription, roster models.Roster, err error) {
	h.submit(func() {
		if sub.released.Load() {
			return
		}
		sub.onRoster(roster, err)
	})
}

// deliverPeer queues one record notification for sub.
func (h *hub) deliverPeer(sub *subscription, loc models.PeerLocation, err error) {
	h.submit(func() {
		if sub.released.Load() {
			return
		}
		sub.onPeer(loc, err)
	})
}

// publish fans a change to one identity out to every roster subscriber and to
// the peer subscribers of that identity. roster must already be a private copy.
func (h *hub) publish(changed models.PeerLocation, roster models.Roster) {
	for _, sub := range h.live() {
		switch {
		case sub.onRoster != nil:
			h.deliverRoster(sub, roster, nil)
		case sub.identity == changed.Identity:
			h.deliverPeer(sub, changed, nil)
		}
	}
}

// resync re-sends the full current state to every subscriber.
func (h *hub) resync(roster models.Roster) {
	for _, sub := range h.live() {
		if sub.onRoster != nil {
			h.deliverRoster(sub, roster, nil)
			continue
		}
		loc, ok := roster[sub.identity]
		if !ok {
			loc = models.PeerLocation{Identity: sub.identity}
		}
		h.deliverPeer(sub, loc, nil)
	}
}

// fail notifies every subscriber that the store is unavailable.
func (h *hub) fail(err error) {
	for _, sub := range h.live() {
		if sub.onRoster != nil {
			h.deliverRoster(sub, nil, err)
			continue
		}
		h.deliverPeer(sub, models.PeerLocation{Identity: sub.identity}, err)
	}
}

// live copies the current subscriptions so delivery never holds a shard lock.
func (h *hub) live() []*subscription {
	items := h.subs.Items()
	out := make([]*subscription, 0, len(items))
	for _, sub := range items {
		out = append(out, sub)
	}
	return out
}

func (h *hub) submit(task func()) {
	if err := h.dispatcher.Submit(task); err != nil {
		h.logger.Debug().Err(err).Msg("Dropping notification after shutdown")
	}
}

// close releases every subscription and drains the dispatcher.
func (h *hub) close() {
	for _, key := range h.subs.Keys() {
		if sub, ok := h.subs.Pop(key); ok {
			sub.released.Store(true)
		}
	}
	h.dispatcher.Shutdown()
}
