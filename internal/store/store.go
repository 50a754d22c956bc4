// Package store defines the shared location store the tracking core consumes
// and provides in-memory and MQTT-backed implementations of it.
package store

import (
	"errors"
	"strings"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/pkg/geodesy"
)

var (
	// ErrStoreUnavailable signals a failed read or write against the remote store.
	ErrStoreUnavailable = errors.New("location store unavailable")
	// ErrInvalidRecord marks a record that cannot be used as a fix.
	ErrInvalidRecord = errors.New("invalid location record")
	// ErrStoreClosed is returned by operations on a store that has been stopped.
	ErrStoreClosed = errors.New("location store closed")
	// ErrEmptyIdentity is returned when an operation needs an identity and none was given.
	ErrEmptyIdentity = errors.New("identity must not be empty")
	// ErrBadIdentity is returned for identities that cannot be used as a record key.
	ErrBadIdentity = errors.New("identity contains reserved characters")
)

// ValidateIdentity checks that identity can be used as a record key.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if strings.ContainsAny(identity, "/+#") {
		return ErrBadIdentity
	}
	return nil
}

// RosterHandler receives full roster snapshots. The roster must be treated as
// read-only. A non-nil error means the store is currently unavailable and
// the roster argument is nil.
type RosterHandler func(roster models.Roster, err error)

// PeerHandler receives every change to a single identity's record. A record
// without a fix means the identity has no usable location.
type PeerHandler func(loc models.PeerLocation, err error)

// PeerLocationStore is the capability the tracking core needs from the
// shared store. Handlers are invoked asynchronously, one at a time and in
// order; they must not block.
type PeerLocationStore interface {
	// PublishOwnLocation writes the caller's location. Failures are logged by
	// the store and returned; they are never retried here.
	PublishOwnLocation(identity string, c geodesy.Coordinate, opts ...PublishOption) error
	// SubscribeAll fires once with the current roster and again on every change.
	SubscribeAll(handler RosterHandler) (Handle, error)
	// SubscribeOne fires once with the identity's current record and again on
	// every change to it.
	SubscribeOne(identity string, handler PeerHandler) (Handle, error)
	// Unsubscribe releases a subscription. It is idempotent.
	Unsubscribe(h Handle)
}

// PublishOption customises a PublishOwnLocation call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	label string
}

// WithLabel attaches a display label (for example an email) to the record.
func WithLabel(label string) PublishOption {
	return func(o *publishOptions) {
		o.label = label
	}
}

func applyPublishOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
