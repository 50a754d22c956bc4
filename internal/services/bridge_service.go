package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/internal/presence"
	"github.com/benmeehan/peertrack/internal/tracking"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Presenter is the part of the core the bridge exposes to UI clients.
type Presenter interface {
	Peers() []models.PeerLocation
	WatchRoster(ctx context.Context) <-chan presence.Snapshot
	WatchDirection(ctx context.Context) <-chan tracking.DirectionReading
	WatchAzimuth(ctx context.Context) <-chan heading.Azimuth
	StartTracking(peer string) error
	StopTracking()
	PublishOwnLocation(c geodesy.Coordinate) error
	SignOut() error
}

// Event types sent to clients
const (
	EventRoster    = "roster"
	EventDirection = "direction"
	EventAzimuth   = "azimuth"
	EventAck       = "ack"
	EventError     = "error"
)

// Command types accepted from clients
const (
	CommandTrack   = "track"
	CommandStop    = "stop"
	CommandPublish = "publish"
	CommandSignOut = "sign_out"
)

// Event is one message pushed to a client.
type Event struct {
	Type            string                     `json:"type"`
	Peers           []models.PeerLocation      `json:"peers,omitempty"`
	Stale           bool                       `json:"stale,omitempty"`
	Direction       *tracking.DirectionReading `json:"direction,omitempty"`
	RelativeBearing *float64                   `json:"relative_bearing,omitempty"`
	Azimuth         *heading.Azimuth           `json:"azimuth,omitempty"`
	Command         string                     `json:"command,omitempty"`
	Error           string                     `json:"error,omitempty"`
}

var errMissingCoordinate = errors.New("publish requires latitude and longitude")

// Command is one message received from a client.
type Command struct {
	Type string `json:"type"`
	Peer string `json:"peer,omitempty"`
	// Latitude and Longitude are both required by publish; a missing one
	// means no fix, not zero.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// BridgeService serves the presentation boundary over websocket. Each client
// receives roster, direction and heading updates and may send commands.
type BridgeService struct {
	address   string
	path      string
	presenter Presenter
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	conns    sync.WaitGroup
	running  bool
}

// NewBridgeService creates a BridgeService listening on address at path.
func NewBridgeService(address, path string, presenter Presenter, logger zerolog.Logger) *BridgeService {
	return &BridgeService{
		address:   address,
		path:      path,
		presenter: presenter,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start begins listening for websocket clients.
func (b *BridgeService) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("bridge service is already running")
	}

	ln, err := net.Listen("tcp", b.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	mux.HandleFunc(b.path, func(w http.ResponseWriter, r *http.Request) {
		b.handleWebsocket(ctx, w, r)
	})

	b.cancel = cancel
	b.listener = ln
	b.server = &http.Server{Handler: mux, ReadHeaderTimeout: constants.BridgeWriteTimeout}
	b.running = true

	go func(server *http.Server) {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error().Err(err).Msg("Bridge server failed")
		}
	}(b.server)

	b.logger.Info().Str("address", ln.Addr().String()).Str("path", b.path).Msg("BridgeService started")
	return nil
}

// Stop closes the listener and every client connection.
func (b *BridgeService) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	// Hijacked websocket connections are not tracked by Shutdown; cancelling
	// first makes every client loop exit.
	b.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), constants.BridgeWriteTimeout)
	defer cancel()
	err := b.server.Shutdown(ctx)
	b.conns.Wait()
	b.running = false
	b.listener = nil

	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to shut down bridge server")
		return err
	}
	b.logger.Info().Msg("BridgeService stopped")
	return nil
}

// Addr returns the bound listen address, or nil when not running.
func (b *BridgeService) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// handleWebsocket registers the client before upgrading, while Shutdown
// still tracks the request, so Stop's wait covers it.
func (b *BridgeService) handleWebsocket(parent context.Context, w http.ResponseWriter, r *http.Request) {
	b.conns.Add(1)
	defer b.conns.Done()

	if parent.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	b.serveConn(parent, conn)
}

// serveConn runs one client: a writer goroutine owns all writes while this
// goroutine reads commands.
func (b *BridgeService) serveConn(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	replies := make(chan Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.writeLoop(ctx, conn, replies)
		// Unblock the reader.
		_ = conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	b.logger.Info().Str("remote", remote).Msg("Bridge client connected")

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				b.logger.Debug().Err(err).Str("remote", remote).Msg("Bridge client read failed")
			}
			break
		}

		reply := b.handleCommand(cmd)
		select {
		case replies <- reply:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-done
	b.logger.Info().Str("remote", remote).Msg("Bridge client disconnected")
}

func (b *BridgeService) handleCommand(cmd Command) Event {
	var err error
	switch cmd.Type {
	case CommandTrack:
		err = b.presenter.StartTracking(cmd.Peer)
	case CommandStop:
		b.presenter.StopTracking()
	case CommandPublish:
		if cmd.Latitude == nil || cmd.Longitude == nil {
			err = errMissingCoordinate
			break
		}
		err = b.presenter.PublishOwnLocation(geodesy.Coordinate{Latitude: *cmd.Latitude, Longitude: *cmd.Longitude})
	case CommandSignOut:
		err = b.presenter.SignOut()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if err != nil {
		b.logger.Warn().Err(err).Str("command", cmd.Type).Msg("Bridge command failed")
		return Event{Type: EventError, Command: cmd.Type, Error: err.Error()}
	}
	return Event{Type: EventAck, Command: cmd.Type}
}

func (b *BridgeService) writeLoop(ctx context.Context, conn *websocket.Conn, replies <-chan Event) {
	rosters := b.presenter.WatchRoster(ctx)
	directions := b.presenter.WatchDirection(ctx)
	azimuths := b.presenter.WatchAzimuth(ctx)

	var (
		direction tracking.DirectionReading
		azimuth   heading.Azimuth
	)

	for {
		var ev Event
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case snap, ok := <-rosters:
			if !ok {
				return
			}
			ev = Event{Type: EventRoster, Peers: b.presenter.Peers(), Stale: snap.Stale}
		case r, ok := <-directions:
			if !ok {
				return
			}
			direction = r
			ev = directionEvent(direction, azimuth)
		case az, ok := <-azimuths:
			if !ok {
				return
			}
			azimuth = az
			ev = Event{Type: EventAzimuth, Azimuth: &az}
			if rel, ok := tracking.RelativeBearing(direction, azimuth); ok {
				ev.RelativeBearing = &rel
			}
		case ev = <-replies:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(constants.BridgeWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			b.logger.Debug().Err(err).Msg("Bridge client write failed")
			return
		}
	}
}

func directionEvent(r tracking.DirectionReading, az heading.Azimuth) Event {
	ev := Event{Type: EventDirection, Direction: &r}
	if rel, ok := tracking.RelativeBearing(r, az); ok {
		ev.RelativeBearing = &rel
	}
	return ev
}
