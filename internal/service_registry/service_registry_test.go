package service_registry

import (
	"errors"
	"testing"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/internal/core"
	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/mocks"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/internal/utils"
	"github.com/benmeehan/peertrack/pkg/identity"
	"github.com/benmeehan/peertrack/pkg/location"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func orderRecorder(order *[]string, name string, svc *mocks.MockService, startErr, stopErr error) {
	svc.On("Start").Run(func(_ mock.Arguments) { *order = append(*order, "start "+name) }).Return(startErr)
	svc.On("Stop").Run(func(_ mock.Arguments) { *order = append(*order, "stop "+name) }).Return(stopErr)
}

func TestServiceRegistry_StartAndStopOrder(t *testing.T) {
	var order []string
	a, b := new(mocks.MockService), new(mocks.MockService)
	orderRecorder(&order, "a", a, nil, nil)
	orderRecorder(&order, "b", b, nil, nil)

	sr := NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", a)
	sr.RegisterService("b", b)
	sr.RegisterService("a", b) // duplicate names are ignored

	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, order)

	// Nothing left to stop.
	require.NoError(t, sr.StopServices())
	assert.Len(t, order, 4)
}

func TestServiceRegistry_RollbackOnStartFailure(t *testing.T) {
	var order []string
	a, b, c := new(mocks.MockService), new(mocks.MockService), new(mocks.MockService)
	orderRecorder(&order, "a", a, nil, nil)
	orderRecorder(&order, "b", b, nil, nil)
	orderRecorder(&order, "c", c, errors.New("boom"), nil)

	sr := NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", a)
	sr.RegisterService("b", b)
	sr.RegisterService("c", c)

	err := sr.StartServices()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start c")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, order)

	require.NoError(t, sr.StopServices())
	c.AssertNotCalled(t, "Stop")
}

func TestServiceRegistry_StopErrorsAreJoined(t *testing.T) {
	var order []string
	errA, errB := errors.New("a failed"), errors.New("b failed")
	a, b := new(mocks.MockService), new(mocks.MockService)
	orderRecorder(&order, "a", a, nil, errA)
	orderRecorder(&order, "b", b, nil, errB)

	sr := NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", a)
	sr.RegisterService("b", b)
	require.NoError(t, sr.StartServices())

	err := sr.StopServices()
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func testConfig() *utils.Config {
	cfg := &utils.Config{}
	cfg.Identity.MemberFile = "member.json"
	cfg.Store.Backend = constants.StoreBackendMemory
	cfg.Store.Namespace = constants.DefaultNamespace
	cfg.Store.DispatchQueueSize = 16
	cfg.Store.SchemaConstraint = constants.DefaultSchemaConstraint
	cfg.Services.Location.Enabled = true
	cfg.Services.Location.Interval = constants.DefaultPublishInterval
	cfg.Services.Location.Provider = constants.ProviderStatic
	cfg.Services.Location.Latitude = 52
	cfg.Services.Location.Longitude = 4
	return cfg
}

func TestServiceRegistry_NewStore(t *testing.T) {
	sr := NewServiceRegistry(nil, zerolog.Nop())

	s, err := sr.NewStore(testConfig())
	require.NoError(t, err)
	mem, ok := s.(*store.MemoryStore)
	require.True(t, ok)
	defer mem.Close()
	assert.Equal(t, []string{constants.StoreServiceName}, sr.serviceKeys)

	cfg := testConfig()
	cfg.Store.Backend = constants.StoreBackendMQTT
	_, err = NewServiceRegistry(nil, zerolog.Nop()).NewStore(cfg)
	assert.Error(t, err)

	mq, err := NewServiceRegistry(new(mocks.MockMQTTClient), zerolog.Nop()).NewStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MQTTStore{}, mq)

	cfg.Store.Backend = "redis"
	_, err = NewServiceRegistry(nil, zerolog.Nop()).NewStore(cfg)
	assert.Error(t, err)
}

func TestServiceRegistry_RegisterServices(t *testing.T) {
	sr := NewServiceRegistry(nil, zerolog.Nop())
	cfg := testConfig()
	cfg.Services.Bridge.Enabled = true
	cfg.Services.Bridge.Address = "127.0.0.1:0"
	cfg.Services.Bridge.Path = "/ws"

	s, err := sr.NewStore(cfg)
	require.NoError(t, err)

	fuser := heading.NewFuser(zerolog.Nop())
	members := identity.NewMemberInfo("member.json", new(mocks.MockFileOperations))
	c := core.New(s, members, fuser, zerolog.Nop())

	require.NoError(t, sr.RegisterServices(cfg, c, fuser))

	assert.Equal(t, []string{
		constants.StoreServiceName,
		constants.CoreServiceName,
		constants.LocationServiceName,
		constants.BridgeServiceName,
	}, sr.serviceKeys)

	// Heading disabled: the device heading is permanently unavailable.
	assert.ErrorIs(t, fuser.Err(), heading.ErrSensorUnavailable)

	// Nobody is signed in, so the core refuses to start and the store is rolled back.
	assert.ErrorIs(t, sr.StartServices(), identity.ErrSignedOut)
	assert.Empty(t, sr.started)
}

func TestServiceRegistry_NewLocationProvider(t *testing.T) {
	sr := NewServiceRegistry(nil, zerolog.Nop())
	cfg := testConfig()

	p, err := sr.newLocationProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &location.StaticProvider{}, p)

	cfg.Services.Location.Provider = constants.ProviderGPS
	cfg.Services.Location.GPSPort = "/dev/ttyUSB0"
	p, err = sr.newLocationProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &location.DeviceSensorProvider{}, p)

	cfg.Services.Location.Provider = constants.ProviderGoogle
	cfg.Services.Location.MapsAPIKey = "AIza-test-key"
	p, err = sr.newLocationProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &location.GoogleGeolocationProvider{}, p)

	cfg.Services.Location.Provider = "carrier-pigeon"
	_, err = sr.newLocationProvider(cfg)
	assert.Error(t, err)
}
