package mqtt

import (
	"errors"
	"testing"

	"github.com/benmeehan/peertrack/internal/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMqttService_DelegatesToClient(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "locations/alice", byte(1), true, []byte("{}")).Return(mocks.NewCompletedToken(nil))
	client.On("Subscribe", "locations/+", byte(1), mock.Anything).Return(mocks.NewCompletedToken(nil))
	client.On("Unsubscribe", []string{"locations/+"}).Return(mocks.NewCompletedToken(nil))
	client.On("Disconnect", uint(250)).Return()

	s := NewMqttService(new(mocks.MockFileOperations), zerolog.Nop())
	s.client = client

	require.NoError(t, s.Publish("locations/alice", 1, true, []byte("{}")).Error())
	require.NoError(t, s.Subscribe("locations/+", 1, nil).Error())
	require.NoError(t, s.Unsubscribe("locations/+").Error())
	s.Disconnect(250)

	client.AssertExpectations(t)
}

func TestMqttService_InitializeFailsOnUnreadableCA(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadFileRaw", "ca.pem").Return(nil, errors.New("permission denied"))

	s := NewMqttService(fileOps, zerolog.Nop())
	err := s.Initialize(Options{Broker: "ssl://localhost:8883", ClientID: "test", CACertificate: "ca.pem"})
	assert.ErrorContains(t, err, "failed to read CA certificate")
}

func TestMqttService_InitializeFailsOnBadCA(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadFileRaw", "ca.pem").Return([]byte("not a certificate"), nil)

	s := NewMqttService(fileOps, zerolog.Nop())
	err := s.Initialize(Options{Broker: "ssl://localhost:8883", ClientID: "test", CACertificate: "ca.pem"})
	assert.ErrorContains(t, err, "failed to append CA certificate")
}

func TestMqttService_HandlersAreRegistered(t *testing.T) {
	s := NewMqttService(new(mocks.MockFileOperations), zerolog.Nop())
	s.OnConnect(func() {})
	s.OnConnectionLost(func(error) {})

	assert.Len(t, s.onConnect, 1)
	assert.Len(t, s.onConnectionLost, 1)
}
