package telemetry

// Histogram bucket definitions
var (
	// GatherBuckets for state exchange rounds (GTRANS/GGATHER until GOP)
	GatherBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

	// BufferCountBuckets for GROUPS messages sent per round
	BufferCountBuckets = []float64{1, 2, 4, 8, 16, 32, 64}
)

// Membership engine metrics
var (
	// GroupsTotal tracks the number of groups in the registry
	GroupsTotal Gauge = NoopStat{}

	// MembersTotal tracks members across all groups
	MembersTotal Gauge = NoopStat{}

	// LocalMailboxes tracks mailboxes of local members across all groups
	LocalMailboxes Gauge = NoopStat{}

	// SyncedSetSize tracks how many daemons this daemon is synchronized with
	SyncedSetSize Gauge = NoopStat{}

	// StateTransitionsTotal counts engine state changes (from -> to)
	StateTransitionsTotal CounterVec = noopCounterVec{}

	// MembershipEventsTotal counts membership deliveries by kind (transitional, regular)
	MembershipEventsTotal CounterVec = noopCounterVec{}

	// GroupsMessagesTotal counts GROUPS messages by direction (sent, received) and result
	GroupsMessagesTotal CounterVec = noopCounterVec{}

	// GroupsBuffersPerRound measures GROUPS messages built per round
	GroupsBuffersPerRound Histogram = NoopStat{}

	// GatherDurationSeconds measures time from a membership change until GOP
	GatherDurationSeconds Histogram = NoopStat{}

	// GatherStallsTotal counts watchdog expirations while gathering
	GatherStallsTotal Counter = NoopStat{}

	// NotificationsTotal counts local notifications by kind (regular, transitional, self_leave)
	NotificationsTotal CounterVec = noopCounterVec{}

	// SessionOpsTotal counts join/leave/kill by operation and result
	SessionOpsTotal CounterVec = noopCounterVec{}

	// ProtocolViolationsTotal counts events refused because of an ordering violation
	ProtocolViolationsTotal Counter = NoopStat{}
)

// Publisher metrics
var (
	// PublishedEventsTotal counts events delivered to sinks by sink and result
	PublishedEventsTotal CounterVec = noopCounterVec{}

	// PublishLogDropped counts events evicted before every sink consumed them
	PublishLogDropped Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	GroupsTotal = NewGauge(
		"groups",
		"Number of groups in the registry",
	)
	MembersTotal = NewGauge(
		"members",
		"Number of members across all groups",
	)
	LocalMailboxes = NewGauge(
		"local_mailboxes",
		"Number of local member mailboxes across all groups",
	)
	SyncedSetSize = NewGauge(
		"synced_set_size",
		"Number of daemons in this daemon's synced set",
	)
	StateTransitionsTotal = NewCounterVec(
		"state_transitions_total",
		"Engine state transitions",
		[]string{"from", "to"},
	)
	MembershipEventsTotal = NewCounterVec(
		"membership_events_total",
		"Membership deliveries by kind",
		[]string{"kind"},
	)
	GroupsMessagesTotal = NewCounterVec(
		"groups_messages_total",
		"GROUPS messages by direction and result",
		[]string{"direction", "result"},
	)
	GroupsBuffersPerRound = NewHistogramWithBuckets(
		"groups_buffers_per_round",
		"GROUPS messages built per state exchange",
		BufferCountBuckets,
	)
	GatherDurationSeconds = NewHistogramWithBuckets(
		"gather_duration_seconds",
		"Time from a membership change until groups are operational again",
		GatherBuckets,
	)
	GatherStallsTotal = NewCounter(
		"gather_stalls_total",
		"Watchdog expirations while gathering",
	)
	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Local membership notifications by kind",
		[]string{"kind"},
	)
	SessionOpsTotal = NewCounterVec(
		"session_ops_total",
		"Join, leave and kill operations by result",
		[]string{"op", "result"},
	)
	ProtocolViolationsTotal = NewCounter(
		"protocol_violations_total",
		"Events refused because of an ordering violation",
	)

	PublishedEventsTotal = NewCounterVec(
		"published_events_total",
		"Membership events delivered to sinks",
		[]string{"sink", "result"},
	)
	PublishLogDropped = NewCounter(
		"publish_log_dropped_total",
		"Membership events evicted before all sinks consumed them",
	)
}

// UpdateRegistryStats updates registry gauges in one call
func UpdateRegistryStats(groups, members, mailboxes, synced int) {
	GroupsTotal.Set(float64(groups))
	MembersTotal.Set(float64(members))
	LocalMailboxes.Set(float64(mailboxes))
	SyncedSetSize.Set(float64(synced))
}
