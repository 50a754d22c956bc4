package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// SerialSource reads an IMU that prints one sample per line over a serial
// port, in the form "ACC,x,y,z" or "MAG,x,y,z".
type SerialSource struct {
	port     string
	baudRate int
	logger   zerolog.Logger

	mu   sync.Mutex
	conn io.ReadCloser
}

// NewSerialSource creates a SerialSource for the given port and baud rate.
func NewSerialSource(port string, baudRate int, logger zerolog.Logger) *SerialSource {
	return &SerialSource{
		port:     port,
		baudRate: baudRate,
		logger:   logger,
	}
}

// Open opens the serial port.
func (s *SerialSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	if s.port == "" {
		return ErrUnavailable
	}
	conn, err := serial.OpenPort(&serial.Config{Name: s.port, Baud: s.baudRate})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.conn = conn
	return nil
}

// Readings streams parsed samples from the port. Malformed lines are skipped.
func (s *SerialSource) Readings(ctx context.Context) <-chan Reading {
	out := make(chan Reading)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	go func() {
		defer close(out)
		if conn == nil {
			return
		}
		scanReadings(ctx, conn, out, s.logger)
	}()

	return out
}

// Close releases the serial port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func scanReadings(ctx context.Context, r io.Reader, out chan<- Reading, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		reading, err := ParseLine(scanner.Text())
		if err != nil {
			logger.Debug().Err(err).Msg("Skipping malformed sensor line")
			continue
		}
		select {
		case out <- reading:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Sensor stream failed")
	}
}

// ParseLine parses a single "ACC,x,y,z" or "MAG,x,y,z" line.
func ParseLine(line string) (Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return Reading{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}

	var kind Kind
	switch strings.ToUpper(strings.TrimSpace(parts[0])) {
	case "ACC":
		kind = Accelerometer
	case "MAG":
		kind = Magnetometer
	default:
		return Reading{}, fmt.Errorf("unknown sensor tag %q", parts[0])
	}

	var v Vector3
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("axis %d: %w", i, err)
		}
		v[i] = f
	}
	if !v.Finite() {
		return Reading{}, fmt.Errorf("non-finite axis value in %q", line)
	}
	return Reading{Kind: kind, Values: v}, nil
}
