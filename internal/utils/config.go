package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/pkg/file"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"` // zerolog level name
	} `yaml:"log"`

	MQTT struct {
		Broker        string `yaml:"broker"`                     // MQTT broker address
		ClientID      string `yaml:"client_id"`                  // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"`             // Path to the CA certificate
		Username      string `yaml:"username"`                   // Optional broker username
		Password      string `yaml:"password"`                   // Optional broker password
		QOS           int    `yaml:"qos" validate:"min=0,max=2"` // QoS for location records
	} `yaml:"mqtt"`

	Identity struct {
		MemberFile string `yaml:"member_file" validate:"required"` // Path to the member identity file
	} `yaml:"identity"`

	Store struct {
		Backend           string `yaml:"backend" validate:"omitempty,oneof=memory mqtt"` // memory or mqtt
		Namespace         string `yaml:"namespace" validate:"excludesall=+#"`            // Topic prefix for records
		DispatchQueueSize int    `yaml:"dispatch_queue_size" validate:"min=0"`           // Pending notification bound
		SchemaConstraint  string `yaml:"schema_constraint"`                              // Accepted record schema range
	} `yaml:"store"`

	Services struct {
		Location struct {
			Enabled    bool          `yaml:"enabled"`                                               // Enable/disable own-location publishing
			Interval   time.Duration `yaml:"interval" validate:"min=0"`                             // Interval between publishes
			Provider   string        `yaml:"provider" validate:"omitempty,oneof=static gps google"` // Location source
			Latitude   float64       `yaml:"latitude" validate:"min=-90,max=90"`                    // Static provider latitude
			Longitude  float64       `yaml:"longitude" validate:"min=-180,max=180"`                 // Static provider longitude
			GPSPort    string        `yaml:"gps_device_port"`                                       // Serial port of the GPS receiver
			GPSBaud    int           `yaml:"gps_baud_rate" validate:"min=0"`                        // Baud rate of the GPS receiver
			MapsAPIKey string        `yaml:"maps_api_key"`                                          // Google maps API key
			ModemIndex int           `yaml:"modem_index" validate:"min=0"`                          // mmcli modem for cell data
		} `yaml:"location_service"`

		Heading struct {
			Enabled    bool   `yaml:"enabled"`                    // Enable/disable the orientation sensors
			DevicePort string `yaml:"device_port"`                // Serial port of the IMU
			BaudRate   int    `yaml:"baud_rate" validate:"min=0"` // Baud rate of the IMU
		} `yaml:"heading_service"`

		Bridge struct {
			Enabled bool   `yaml:"enabled"` // Enable/disable the websocket bridge
			Address string `yaml:"address"` // Listen address
			Path    string `yaml:"path"`    // HTTP path of the websocket endpoint
		} `yaml:"bridge_service"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, fills in
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	// Zero is a valid QoS, so its default is seeded before decoding and
	// only survives when the key is absent.
	config.MQTT.QOS = constants.DefaultQOS
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
	if c.Store.Backend == "" {
		c.Store.Backend = constants.StoreBackendMQTT
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = constants.DefaultNamespace
	}
	if c.Store.DispatchQueueSize == 0 {
		c.Store.DispatchQueueSize = constants.DefaultDispatchQueueSize
	}
	if c.Store.SchemaConstraint == "" {
		c.Store.SchemaConstraint = constants.DefaultSchemaConstraint
	}

	loc := &c.Services.Location
	if loc.Interval == 0 {
		loc.Interval = constants.DefaultPublishInterval
	}
	if loc.Provider == "" {
		loc.Provider = constants.ProviderStatic
	}
	if loc.GPSBaud == 0 {
		loc.GPSBaud = constants.DefaultBaudRate
	}

	if c.Services.Heading.BaudRate == 0 {
		c.Services.Heading.BaudRate = constants.DefaultBaudRate
	}

	bridge := &c.Services.Bridge
	if bridge.Address == "" {
		bridge.Address = constants.DefaultBridgeAddress
	}
	if bridge.Path == "" {
		bridge.Path = constants.DefaultBridgePath
	}
}

// Validate checks field constraints and the settings each enabled feature needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.Store.Backend == constants.StoreBackendMQTT && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required for the mqtt store backend"))
	}

	loc := c.Services.Location
	if loc.Enabled {
		switch loc.Provider {
		case constants.ProviderGPS:
			if loc.GPSPort == "" {
				errs = append(errs, errors.New("services.location_service.gps_device_port is required for the gps provider"))
			}
		case constants.ProviderGoogle:
			if loc.MapsAPIKey == "" {
				errs = append(errs, errors.New("services.location_service.maps_api_key is required for the google provider"))
			}
		}
	}

	if c.Services.Heading.Enabled && c.Services.Heading.DevicePort == "" {
		errs = append(errs, errors.New("services.heading_service.device_port is required when enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
