package constants

const (
	// DefaultNamespace is the topic prefix under which location records live.
	DefaultNamespace = "locations"

	// SchemaVersion is the record schema this build writes.
	SchemaVersion = "1.0.0"

	// DefaultSchemaConstraint is the range of record schemas accepted on read.
	DefaultSchemaConstraint = "^1"

	// DefaultDispatchQueueSize bounds the queue of pending subscriber notifications.
	DefaultDispatchQueueSize = 256

	// DefaultQOS is the MQTT QoS used for location records.
	DefaultQOS = 1
)

// Store backends
const (
	StoreBackendMemory = "memory"
	StoreBackendMQTT   = "mqtt"
)
