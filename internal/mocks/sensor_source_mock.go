package mocks

import (
	"context"

	"github.com/benmeehan/peertrack/pkg/sensors"
	"github.com/stretchr/testify/mock"
)

// MockSensorSource is a mock implementation of the sensors.Source interface
type MockSensorSource struct {
	mock.Mock
}

func (m *MockSensorSource) Open() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSensorSource) Readings(ctx context.Context) <-chan sensors.Reading {
	args := m.Called(ctx)
	return args.Get(0).(<-chan sensors.Reading)
}

func (m *MockSensorSource) Close() error {
	args := m.Called()
	return args.Error(0)
}
