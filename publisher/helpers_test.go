package publisher

import (
	"errors"
	"sync"

	"github.com/maxpert/groupd/encoding"
)

type published struct {
	Topic string
	Key   string
	Value []byte
}

// fakeSink records messages and fails the first failures publishes
type fakeSink struct {
	mu       sync.Mutex
	msgs     []published
	failures int
	closed   bool
}

func (s *fakeSink) Publish(topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.msgs = append(s.msgs, published{Topic: topic, Key: key, Value: value})
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) messages() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.msgs...)
}

type msgpackTransformer struct{}

func (msgpackTransformer) Transform(event MembershipEvent) ([]byte, error) {
	return encoding.Marshal(event)
}

func init() {
	RegisterTransformer("test-msgpack", func() Transformer { return msgpackTransformer{} })
}
