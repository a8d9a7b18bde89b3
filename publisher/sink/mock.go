package sink

import (
	"slices"
	"sync"
)

// MockMessage is one payload captured by MockSink.
type MockMessage struct {
	Topic string
	Key   string // group name
	Value []byte
}

// MockSink keeps membership payloads in memory. PublishErr, when set, fails
// every publish so retry and skip paths can be driven from tests.
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	closed     bool
	mu         sync.Mutex
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

// Published returns a copy of everything captured so far.
func (m *MockSink) Published() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Messages)
}

// Groups lists the group keys of captured payloads in publish order.
func (m *MockSink) Groups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		out[i] = msg.Key
	}
	return out
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether the registry released this sink.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
