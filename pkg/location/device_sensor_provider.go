package location

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// DeviceSensorProvider is responsible for retrieving location data from a GPS device connected via serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
	}
}

// GetLocation reads NMEA sentences from the device until a valid GGA or RMC
// fix is seen.
func (d *DeviceSensorProvider) GetLocation(ctx context.Context) (Location, error) {
	c := &serial.Config{Name: d.port, Baud: d.baudRate}
	if deadline, ok := ctx.Deadline(); ok {
		c.ReadTimeout = time.Until(deadline)
	}
	s, err := serial.OpenPort(c)
	if err != nil {
		return Location{}, fmt.Errorf("open gps device %s: %w", d.port, err)
	}

	// Unblock the scanner if ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer func() {
		if stop() {
			_ = s.Close()
		}
	}()

	loc, err := readFix(s)
	if err != nil && ctx.Err() != nil {
		return Location{}, ctx.Err()
	}
	return loc, err
}

// readFix scans r line by line and returns the first usable fix.
func readFix(r io.Reader) (Location, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		loc, ok := parseSentence(strings.TrimSpace(scanner.Text()))
		if ok {
			return loc, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Location{}, err
	}
	return Location{}, ErrNoFix
}

// parseSentence extracts a fix from a GGA or RMC sentence. Sentences of other
// types, with bad checksums, or reporting no fix are skipped.
func parseSentence(line string) (Location, bool) {
	if !strings.HasPrefix(line, "$") {
		return Location{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Location{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return Location{}, false
		}
		return Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.HDOP, // Use HDOP as a proxy for accuracy
		}, true
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Location{}, false
		}
		return Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
		}, true
	}
	return Location{}, false
}
