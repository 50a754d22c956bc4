package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/benmeehan/peertrack/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig configures an MQTTStore.
type MQTTConfig struct {
	Namespace        string // topic prefix, records live under "<Namespace>/<identity>"
	QOS              int
	SchemaVersion    string
	SchemaConstraint string
	QueueSize        int
}

// MQTTStore keeps every member's record as a retained message on the broker.
// A single wildcard subscription mirrors the namespace locally and the
// store's own subscriptions are served from that mirror.
type MQTTStore struct {
	namespace string
	qos       byte
	codec     *codec

	client mqtt.MQTTClient
	logger zerolog.Logger
	now    func() int64

	mu        sync.Mutex
	records   models.Roster
	stamped   map[string]int64
	available bool
	started   bool
	closed    bool

	hub *hub
}

// NewMQTTStore creates an MQTTStore. Start must be called before records
// flow in.
func NewMQTTStore(cfg MQTTConfig, client mqtt.MQTTClient, logger zerolog.Logger) (*MQTTStore, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("mqtt store namespace must not be empty")
	}
	c, err := newCodec(cfg.SchemaVersion, cfg.SchemaConstraint)
	if err != nil {
		return nil, err
	}
	return &MQTTStore{
		namespace: strings.TrimSuffix(cfg.Namespace, "/"),
		qos:       byte(cfg.QOS),
		codec:     c,
		client:    client,
		logger:    logger,
		now:       func() int64 { return time.Now().UnixMilli() },
		records:   make(models.Roster),
		stamped:   make(map[string]int64),
		hub:       newHub(cfg.QueueSize, logger),
	}, nil
}

// Start subscribes to the namespace wildcard topic.
func (s *MQTTStore) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("mqtt store is already running")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.subscribeNamespace(); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info().Str("topic", s.wildcard()).Msg("Location store subscribed")
	return nil
}

// Stop unsubscribes from the broker and releases every subscription.
func (s *MQTTStore) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	wasStarted := s.started
	s.closed = true
	s.available = false
	s.mu.Unlock()

	var err error
	if wasStarted {
		token := s.client.Unsubscribe(s.wildcard())
		token.Wait()
		if err = token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", s.wildcard()).Msg("Failed to unsubscribe from location namespace")
		}
	}

	s.hub.close()
	s.logger.Info().Msg("Location store stopped")
	return err
}

// HandleConnectionLost marks the store unavailable and tells subscribers.
func (s *MQTTStore) HandleConnectionLost(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.available {
		return
	}
	s.available = false
	s.logger.Warn().Err(cause).Msg("Location store unavailable")
	s.hub.fail(fmt.Errorf("%w: %v", ErrStoreUnavailable, cause))
}

// HandleReconnect re-establishes the namespace subscription after the client
// reconnected. The broker replays retained records, which rebuilds the mirror.
func (s *MQTTStore) HandleReconnect() {
	s.mu.Lock()
	run := s.started && !s.closed
	s.mu.Unlock()
	if !run {
		return
	}

	// Runs off the client's callback goroutine so the token can be awaited.
	go func() {
		if err := s.subscribeNamespace(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to resubscribe location namespace")
		}
	}()
}

// PublishOwnLocation writes identity's record as a retained message.
func (s *MQTTStore) PublishOwnLocation(identity string, c geodesy.Coordinate, opts ...PublishOption) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	o := applyPublishOptions(opts)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	ts := s.nextTimestampLocked(identity)
	s.mu.Unlock()

	payload, err := s.codec.encode(o.label, c, ts)
	if err != nil {
		return err
	}

	topic := s.topicFor(identity)
	token := s.client.Publish(topic, s.qos, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish location")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Debug().Str("topic", topic).Msg("Location published")
	return nil
}

// nextTimestampLocked stamps a record for identity. Timestamps never go
// backwards per key even if the wall clock does.
func (s *MQTTStore) nextTimestampLocked(identity string) int64 {
	ts := s.now()
	last := s.stamped[identity]
	if prev, ok := s.records[identity]; ok && prev.Timestamp > last {
		last = prev.Timestamp
	}
	if ts <= last {
		ts = last + 1
	}
	s.stamped[identity] = ts
	return ts
}

// SubscribeAll registers handler for roster snapshots.
func (s *MQTTStore) SubscribeAll(handler RosterHandler) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}, ErrStoreClosed
	}
	sub := s.hub.addRoster(handler)
	if s.available {
		s.hub.deliverRoster(sub, s.records.Clone(), nil)
	} else {
		s.hub.deliverRoster(sub, nil, ErrStoreUnavailable)
	}
	return sub.handle, nil
}

// SubscribeOne registers handler for changes to identity's record.
func (s *MQTTStore) SubscribeOne(identity string, handler PeerHandler) (Handle, error) {
	if err := ValidateIdentity(identity); err != nil {
		return Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}, ErrStoreClosed
	}
	sub := s.hub.addPeer(identity, handler)
	if !s.available {
		s.hub.deliverPeer(sub, models.PeerLocation{Identity: identity}, ErrStoreUnavailable)
		return sub.handle, nil
	}
	loc, ok := s.records[identity]
	if !ok {
		loc = models.PeerLocation{Identity: identity}
	}
	s.hub.deliverPeer(sub, loc, nil)
	return sub.handle, nil
}

// Unsubscribe releases h. Unknown or already released handles are ignored.
func (s *MQTTStore) Unsubscribe(h Handle) {
	s.hub.remove(h)
}

// HandleMessage applies one message from the namespace subscription.
func (s *MQTTStore) HandleMessage(_ MQTT.Client, msg MQTT.Message) {
	identity, ok := s.identityFromTopic(msg.Topic())
	if !ok {
		s.logger.Debug().Str("topic", msg.Topic()).Msg("Ignoring message outside location namespace")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(msg.Payload()) == 0 {
		if _, exists := s.records[identity]; exists {
			delete(s.records, identity)
			s.hub.publish(models.PeerLocation{Identity: identity}, s.records.Clone())
		}
		return
	}

	loc, err := s.codec.decode(identity, msg.Payload())
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("Invalid location record, treating as no fix")
	}

	if prev, exists := s.records[identity]; exists && loc.Timestamp < prev.Timestamp {
		s.logger.Debug().
			Str("identity", identity).
			Int64("timestamp", loc.Timestamp).
			Int64("current", prev.Timestamp).
			Msg("Dropping out of date location record")
		return
	}

	s.records[identity] = loc
	if s.available {
		s.hub.publish(loc, s.records.Clone())
	}
}

func (s *MQTTStore) subscribeNamespace() error {
	token := s.client.Subscribe(s.wildcard(), s.qos, s.HandleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", s.wildcard()).Msg("Failed to subscribe to location namespace")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available && !s.closed {
		s.available = true
		s.hub.resync(s.records.Clone())
	}
	return nil
}

func (s *MQTTStore) wildcard() string {
	return s.namespace + "/+"
}

func (s *MQTTStore) topicFor(identity string) string {
	return s.namespace + "/" + identity
}

func (s *MQTTStore) identityFromTopic(topic string) (string, bool) {
	identity, ok := strings.CutPrefix(topic, s.namespace+"/")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}
