package service_registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/internal/core"
	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/registry"
	"github.com/benmeehan/peertrack/internal/services"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/internal/utils"
	"github.com/benmeehan/peertrack/pkg/location"
	"github.com/benmeehan/peertrack/pkg/mqtt"
	"github.com/benmeehan/peertrack/pkg/sensors"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of the services in the system.
type ServiceRegistry struct {
	mu          sync.Mutex
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	started     []string                    // Services currently running, in start order

	mqttClient mqtt.MQTTClient
	Logger     zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	for _, name := range sr.serviceKeys {
		if sr.isStarted(name) {
			continue
		}
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			_ = sr.stopStarted()
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		sr.started = append(sr.started, name)
	}

	return nil
}

// StopServices stops all running services in reverse start order.
func (sr *ServiceRegistry) StopServices() error {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.stopStarted()
}

func (sr *ServiceRegistry) stopStarted() error {
	var stopErrors []error
	for i := len(sr.started) - 1; i >= 0; i-- {
		name := sr.started[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	sr.started = nil

	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

func (sr *ServiceRegistry) isStarted(name string) bool {
	for _, n := range sr.started {
		if n == name {
			return true
		}
	}
	return false
}

// NewStore builds the location store selected by the configuration. The
// store is also a service and is registered first so it starts before, and
// stops after, everything that uses it.
func (sr *ServiceRegistry) NewStore(config *utils.Config) (store.PeerLocationStore, error) {
	logger := sr.Logger.With().Str("component", "store").Logger()

	switch config.Store.Backend {
	case constants.StoreBackendMemory:
		s := store.NewMemoryStore(config.Store.DispatchQueueSize, logger)
		sr.RegisterService(constants.StoreServiceName, s)
		return s, nil
	case constants.StoreBackendMQTT:
		if sr.mqttClient == nil {
			return nil, errors.New("mqtt store backend needs an mqtt client")
		}
		s, err := store.NewMQTTStore(store.MQTTConfig{
			Namespace:        config.Store.Namespace,
			QOS:              config.MQTT.QOS,
			SchemaVersion:    constants.SchemaVersion,
			SchemaConstraint: config.Store.SchemaConstraint,
			QueueSize:        config.Store.DispatchQueueSize,
		}, sr.mqttClient, logger)
		if err != nil {
			return nil, err
		}
		sr.RegisterService(constants.StoreServiceName, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
}

// RegisterServices registers the core followed by every enabled service.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, c *core.Core, fuser *heading.Fuser) error {
	sr.RegisterService(constants.CoreServiceName, c)

	if !config.Services.Heading.Enabled {
		fuser.MarkUnavailable()
	}

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    constants.LocationServiceName,
			enabled: config.Services.Location.Enabled,
			constructor: func() (registry.Service, error) {
				provider, err := sr.newLocationProvider(config)
				if err != nil {
					return nil, err
				}
				return services.NewLocationService(
					config.Services.Location.Interval,
					c,
					sr.Logger.With().Str("service", constants.LocationServiceName).Logger(),
					provider,
				), nil
			},
		},
		{
			name:    constants.HeadingServiceName,
			enabled: config.Services.Heading.Enabled,
			constructor: func() (registry.Service, error) {
				logger := sr.Logger.With().Str("service", constants.HeadingServiceName).Logger()
				source := sensors.NewSerialSource(config.Services.Heading.DevicePort, config.Services.Heading.BaudRate, logger)
				return services.NewHeadingService(source, fuser, logger), nil
			},
		},
		{
			name:    constants.BridgeServiceName,
			enabled: config.Services.Bridge.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewBridgeService(
					config.Services.Bridge.Address,
					config.Services.Bridge.Path,
					c,
					sr.Logger.With().Str("service", constants.BridgeServiceName).Logger(),
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return fmt.Errorf("failed to create %s service: %w", svc.name, err)
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

// newLocationProvider builds the provider named in the configuration.
func (sr *ServiceRegistry) newLocationProvider(config *utils.Config) (location.Provider, error) {
	cfg := config.Services.Location
	switch cfg.Provider {
	case constants.ProviderStatic:
		return location.NewStaticProvider(cfg.Latitude, cfg.Longitude), nil
	case constants.ProviderGPS:
		return location.NewDeviceSensorProvider(cfg.GPSPort, cfg.GPSBaud), nil
	case constants.ProviderGoogle:
		provider, err := location.NewGoogleGeolocationProvider(cfg.MapsAPIKey, cfg.ModemIndex, sr.Logger)
		if err != nil {
			sr.Logger.Error().Err(err).Msg("failed to create Google Geolocation provider")
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown location provider %q", cfg.Provider)
	}
}
