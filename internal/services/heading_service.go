package services

import (
	"context"
	"errors"
	"sync"

	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/pkg/sensors"
	"github.com/rs/zerolog"
)

// HeadingService feeds the orientation sensor stream into the heading fuser.
// Missing sensors do not fail Start; the fuser is marked unavailable instead.
type HeadingService struct {
	source sensors.Source
	fuser  *heading.Fuser
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewHeadingService creates a HeadingService reading from source.
func NewHeadingService(source sensors.Source, fuser *heading.Fuser, logger zerolog.Logger) *HeadingService {
	return &HeadingService{
		source: source,
		fuser:  fuser,
		logger: logger,
	}
}

// Start opens the sensors and begins fusing their samples.
func (h *HeadingService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.New("heading service is already running")
	}

	if err := h.source.Open(); err != nil {
		h.logger.Warn().Err(err).Msg("Orientation sensors unavailable")
		h.fuser.MarkUnavailable()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.fuser.Run(ctx, h.source.Readings(ctx))
		if ctx.Err() == nil {
			// The stream ended on its own: the device is gone.
			h.fuser.MarkUnavailable()
		}
	}()

	h.logger.Info().Msg("HeadingService started")
	return nil
}

// Stop ends the sensor stream and closes the device.
func (h *HeadingService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.cancel()
	// Closing the source unblocks a pending read.
	err := h.source.Close()
	h.wg.Wait()
	h.running = false

	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to close orientation sensors")
		return err
	}
	h.logger.Info().Msg("HeadingService stopped")
	return nil
}
