package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/internal/core"
	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/internal/service_registry"
	"github.com/benmeehan/peertrack/internal/store"
	"github.com/benmeehan/peertrack/internal/utils"
	"github.com/benmeehan/peertrack/pkg/file"
	"github.com/benmeehan/peertrack/pkg/identity"
	"github.com/benmeehan/peertrack/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid log level")
	}
	logger = logger.Level(level)

	members := identity.NewMemberInfo(config.Identity.MemberFile, fileClient)
	if err := members.LoadMemberInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load member identity")
	}

	var mqttService *mqtt.MqttService
	var mqttClient mqtt.MQTTClient
	if config.Store.Backend == constants.StoreBackendMQTT {
		mqttService = mqtt.NewMqttService(fileClient, logger)
		mqttClient = mqttService
	}

	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, logger)

	locationStore, err := serviceRegistry.NewStore(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create location store")
	}

	if mqttService != nil {
		if mqttStore, ok := locationStore.(*store.MQTTStore); ok {
			mqttService.OnConnect(mqttStore.HandleReconnect)
			mqttService.OnConnectionLost(mqttStore.HandleConnectionLost)
		}

		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		err = mqttService.Initialize(mqtt.Options{
			Broker:        config.MQTT.Broker,
			ClientID:      clientID,
			CACertificate: config.MQTT.CACertificate,
			Username:      config.MQTT.Username,
			Password:      config.MQTT.Password,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
	}

	fuser := heading.NewFuser(logger.With().Str("component", "heading").Logger())
	app := core.New(locationStore, members, fuser, logger)

	if err := serviceRegistry.RegisterServices(config, app, fuser); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Some services failed to stop")
	}
	if mqttService != nil {
		mqttService.Disconnect(constants.MQTTDisconnectQuiesce)
	}
}
