package constants

import "time"

// Service names, in start order.
const (
	StoreServiceName    = "store"
	CoreServiceName     = "core"
	LocationServiceName = "location"
	HeadingServiceName  = "heading"
	BridgeServiceName   = "bridge"
)

// Location providers
const (
	ProviderStatic = "static"
	ProviderGPS    = "gps"
	ProviderGoogle = "google"
)

const (
	// DefaultPublishInterval is how often the own location is published.
	DefaultPublishInterval = 10 * time.Second

	// LocationTimeout bounds a single provider read.
	LocationTimeout = 10 * time.Second

	// DefaultBaudRate is used for serial devices without an explicit rate.
	DefaultBaudRate = 9600

	// DefaultBridgeAddress and DefaultBridgePath locate the websocket endpoint.
	DefaultBridgeAddress = "127.0.0.1:8787"
	DefaultBridgePath    = "/ws"

	// BridgeWriteTimeout bounds a single websocket write.
	BridgeWriteTimeout = 5 * time.Second

	// MQTTDisconnectQuiesce is the time, in milliseconds, allowed for in-flight work on disconnect.
	MQTTDisconnectQuiesce = 250
)
