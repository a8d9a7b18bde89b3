package publisher

import (
	"testing"
	"time"

	"github.com/maxpert/groupd/cfg"
	"github.com/maxpert/groupd/encoding"
	"github.com/maxpert/groupd/groups"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.UnixMilli(5000) }

func TestNewRegistry_RequiresDaemon(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)
}

func TestNewRegistry_UnknownSinkType(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		Daemon:      "a",
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	assert.ErrorContains(t, err, "unknown sink type")
}

func TestRegistry_UnknownFormatClosesSink(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Daemon: "a"})
	require.NoError(t, err)

	snk := &fakeSink{}
	err = r.addWorker(cfg.SinkConfiguration{Name: "x", Format: "xml"}, snk)
	assert.ErrorContains(t, err, "unknown format")
	assert.True(t, snk.closed)
}

func TestRegistry_ObservePublishes(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Daemon: "a", Clock: fixedClock})
	require.NoError(t, err)

	snk := &fakeSink{}
	require.NoError(t, r.addWorker(cfg.SinkConfiguration{
		Name:           "events",
		Format:         "test-msgpack",
		TopicPrefix:    "groupd",
		PollIntervalMS: 1,
	}, snk))

	// Not running yet: dropped
	r.Observe([]groups.Mailbox{1}, sampleNotification())

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	r.Observe([]groups.Mailbox{1, 2}, sampleNotification())

	require.Eventually(t, func() bool { return len(snk.messages()) == 1 }, time.Second, time.Millisecond)
	msg := snk.messages()[0]
	assert.Equal(t, "groupd.chat", msg.Topic)
	assert.Equal(t, "chat", msg.Key)

	var e MembershipEvent
	require.NoError(t, encoding.Unmarshal(msg.Value, &e))
	assert.Equal(t, uint64(1), e.SeqNum)
	assert.Equal(t, "a", e.Daemon)
	assert.Equal(t, 2, e.Recipients)
	assert.Equal(t, int64(5000), e.TS)

	r.Stop()
	r.Stop()
	assert.True(t, snk.closed)
	assert.Error(t, r.Append(events("chat")))
}

func TestRegistry_CompressedPayloads(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Daemon: "a", Clock: fixedClock})
	require.NoError(t, err)

	snk := &fakeSink{}
	require.NoError(t, r.addWorker(cfg.SinkConfiguration{
		Name:           "zipped",
		Format:         "test-msgpack",
		Compress:       true,
		PollIntervalMS: 1,
	}, snk))
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Observe([]groups.Mailbox{1}, sampleNotification())

	require.Eventually(t, func() bool { return len(snk.messages()) == 1 }, time.Second, time.Millisecond)
	raw, err := encoding.Decompress(snk.messages()[0].Value)
	require.NoError(t, err)

	var e MembershipEvent
	require.NoError(t, encoding.Unmarshal(raw, &e))
	assert.Equal(t, "chat", e.Group)
	assert.Equal(t, "chat", snk.messages()[0].Topic)
}
