package services

import (
	"testing"
	"time"

	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/mocks"
	"github.com/benmeehan/peertrack/pkg/sensors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHeadingService_MissingSensorsMarkUnavailable(t *testing.T) {
	source := new(mocks.MockSensorSource)
	source.On("Open").Return(sensors.ErrUnavailable)
	fuser := heading.NewFuser(zerolog.Nop())

	svc := NewHeadingService(source, fuser, zerolog.Nop())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())

	assert.ErrorIs(t, fuser.Err(), heading.ErrSensorUnavailable)
	source.AssertNotCalled(t, "Readings", mock.Anything)
	source.AssertNotCalled(t, "Close")
}

func TestHeadingService_FusesStream(t *testing.T) {
	readings := make(chan sensors.Reading, 2)
	readings <- sensors.Reading{Kind: sensors.Accelerometer, Values: sensors.Vector3{0, 0, 9.81}}
	readings <- sensors.Reading{Kind: sensors.Magnetometer, Values: sensors.Vector3{-22, 0, -40}}

	source := new(mocks.MockSensorSource)
	source.On("Open").Return(nil)
	source.On("Readings", mock.Anything).Return((<-chan sensors.Reading)(readings))
	source.On("Close").Return(nil)
	fuser := heading.NewFuser(zerolog.Nop())

	svc := NewHeadingService(source, fuser, zerolog.Nop())
	require.NoError(t, svc.Start())

	assert.Eventually(t, func() bool { return fuser.Current().Available }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 90, fuser.Current().Degrees, 1e-6)

	require.NoError(t, svc.Stop())
	assert.NoError(t, fuser.Err())
	source.AssertExpectations(t)
}

func TestHeadingService_StreamEndMarksUnavailable(t *testing.T) {
	readings := make(chan sensors.Reading)
	close(readings)

	source := new(mocks.MockSensorSource)
	source.On("Open").Return(nil)
	source.On("Readings", mock.Anything).Return((<-chan sensors.Reading)(readings))
	source.On("Close").Return(nil)
	fuser := heading.NewFuser(zerolog.Nop())

	svc := NewHeadingService(source, fuser, zerolog.Nop())
	require.NoError(t, svc.Start())

	assert.Eventually(t, func() bool { return fuser.Err() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop())
}
