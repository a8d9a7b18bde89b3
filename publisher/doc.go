// Package publisher exports membership notifications delivered by a daemon
// to external systems (NATS JetStream, Kafka).
//
// # Architecture
//
// The publisher package consists of three main components:
//
// 1. PublishLog: bounded, ordered in-memory log with per-sink cursors
// 2. Filters: glob-based group filtering
// 3. Interfaces: Sink, Transformer, and Filter abstractions
//
// The Registry observes the session directory. Each delivered notification
// becomes one MembershipEvent appended to the log; one Worker per sink polls
// the log, transforms events and publishes them with exponential backoff.
//
// Example usage:
//
//	reg, err := NewRegistry(RegistryConfig{
//		Daemon:      "a",
//		SinkConfigs: cfg.Config.Publisher.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	dir := session.NewDirectory("a", reg)
//	_ = reg.Start()
//	defer reg.Stop()
//
// # Delivery
//
// Delivery is at-least-once while the daemon runs. Events consumed by every
// sink are released immediately; when a sink falls behind by more than the
// log capacity the oldest events are dropped and counted.
//
// Topics are "{topic_prefix}.{group}" and the message key is the group name,
// so one group's views stay ordered within a Kafka partition.
package publisher
