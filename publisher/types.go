package publisher

// MembershipEvent is one delivered membership notification, as exported to sinks
type MembershipEvent struct {
	SeqNum     uint64     `msgpack:"seq" json:"seq"`               // Monotonic sequence
	ID         uint64     `msgpack:"id" json:"id"`                 // Hash of the agreed view, equal on every daemon
	Daemon     string     `msgpack:"daemon" json:"daemon"`         // Delivering daemon
	Group      string     `msgpack:"group" json:"group"`           // Group name
	Kind       string     `msgpack:"kind" json:"kind"`             // regular, transitional or self_leave
	Cause      string     `msgpack:"cause" json:"cause"`           // join, leave, disconnect, network or none
	Service    uint32     `msgpack:"service" json:"service"`       // Session protocol type bits
	MembProc   string     `msgpack:"memb_proc" json:"memb_proc"`   // Group id coordinator
	MembTime   int32      `msgpack:"memb_time" json:"memb_time"`   // Group id logical time
	Index      int32      `msgpack:"index" json:"index"`           // Group id operation index
	Members    []string   `msgpack:"members" json:"members"`       // Ordered member names
	VSSets     [][]string `msgpack:"vs_sets" json:"vs_sets"`       // Virtual synchrony sets
	LocalSet   int        `msgpack:"local_set" json:"local_set"`   // Set of the receivers, or -1
	Recipients int        `msgpack:"recipients" json:"recipients"` // Local mailboxes notified
	TS         int64      `msgpack:"ts" json:"ts"`                 // Delivery timestamp (unix ms)
}

// Sink represents a destination for membership events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts membership events to sink-specific formats
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event MembershipEvent) ([]byte, error)
}

// Filter determines whether an event should be published
type Filter interface {
	// Match returns true if events of the group should be published
	Match(group string) bool
}
