package backend

// Capabilities describes what a backend can do. Upper layers use this to
// introspect the resolved backend instead of branching on its name.
type Capabilities struct {
	// SupportsSharedKV indicates the KV leg is visible to every process that
	// connects to the same backend. False means cache entries and counters
	// are process-local.
	SupportsSharedKV bool

	// SupportsAtomicCounters indicates Incr is atomic across all clients of
	// the backend. Always true when SupportsSharedKV is false, since a
	// process-local store serialises increments internally.
	SupportsAtomicCounters bool

	// SupportsCrossProcessFanout indicates a message published by one process
	// reaches subscribers in every other process on the same backend.
	SupportsCrossProcessFanout bool

	// SupportsOrdering indicates per-channel FIFO delivery for a single
	// publisher.
	SupportsOrdering bool

	// Name is the human-readable name of the backend.
	Name string
}

// Predefined capability sets for the built-in backends.
var (
	// MemoryCapabilities for the in-process fallback backend.
	MemoryCapabilities = Capabilities{
		Name:                       "memory",
		SupportsSharedKV:           false,
		SupportsAtomicCounters:     true,
		SupportsCrossProcessFanout: false,
		SupportsOrdering:           true,
	}

	// NATSCapabilities for the NATS core + JetStream KV backend.
	NATSCapabilities = Capabilities{
		Name:                       "nats",
		SupportsSharedKV:           true,
		SupportsAtomicCounters:     true,
		SupportsCrossProcessFanout: true,
		SupportsOrdering:           true,
	}

	// KafkaCapabilities for the Kafka broker-only backend.
	KafkaCapabilities = Capabilities{
		Name:                       "kafka",
		SupportsSharedKV:           false,
		SupportsAtomicCounters:     true,
		SupportsCrossProcessFanout: true,
		SupportsOrdering:           true,
	}

	// RabbitMQCapabilities for the RabbitMQ broker-only backend.
	RabbitMQCapabilities = Capabilities{
		Name:                       "rabbitmq",
		SupportsSharedKV:           false,
		SupportsAtomicCounters:     true,
		SupportsCrossProcessFanout: true,
		SupportsOrdering:           true,
	}
)
