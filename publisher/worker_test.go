package publisher

import (
	"testing"
	"time"

	"github.com/maxpert/groupd/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, pl *PublishLog, snk Sink, patterns ...string) *Worker {
	t.Helper()
	filter, err := NewGlobFilter(patterns)
	require.NoError(t, err)
	w, err := NewWorker(WorkerConfig{
		Name:         "test",
		Log:          pl,
		Sink:         snk,
		Transformer:  msgpackTransformer{},
		Filter:       filter,
		TopicPrefix:  "groupd",
		PollInterval: time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
		MaxRetries:   3,
	})
	require.NoError(t, err)
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	pl := NewPublishLog(10)
	filter, _ := NewGlobFilter(nil)

	_, err := NewWorker(WorkerConfig{Log: pl, Sink: &fakeSink{}, Transformer: msgpackTransformer{}, Filter: filter})
	assert.Error(t, err)
	_, err = NewWorker(WorkerConfig{Name: "x", Sink: &fakeSink{}, Transformer: msgpackTransformer{}, Filter: filter})
	assert.Error(t, err)
	_, err = NewWorker(WorkerConfig{Name: "x", Log: pl, Transformer: msgpackTransformer{}, Filter: filter})
	assert.Error(t, err)
	_, err = NewWorker(WorkerConfig{Name: "x", Log: pl, Sink: &fakeSink{}, Filter: filter})
	assert.Error(t, err)
	_, err = NewWorker(WorkerConfig{Name: "x", Log: pl, Sink: &fakeSink{}, Transformer: msgpackTransformer{}})
	assert.Error(t, err)
}

func TestWorker_PublishesInOrder(t *testing.T) {
	pl := NewPublishLog(10)
	snk := &fakeSink{}
	w := newTestWorker(t, pl, snk)
	require.NoError(t, pl.Append(events("chat", "ops.east", "chat")))

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(snk.messages()) == 3 }, time.Second, time.Millisecond)
	msgs := snk.messages()
	assert.Equal(t, "groupd.chat", msgs[0].Topic)
	assert.Equal(t, "chat", msgs[0].Key)
	assert.Equal(t, "groupd.ops_east", msgs[1].Topic)

	var e MembershipEvent
	require.NoError(t, encoding.Unmarshal(msgs[2].Value, &e))
	assert.Equal(t, uint64(3), e.SeqNum)

	require.Eventually(t, func() bool { return w.Cursor() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, pl.Len())
}

func TestWorker_FilteredEventsAdvanceCursor(t *testing.T) {
	pl := NewPublishLog(10)
	snk := &fakeSink{}
	w := newTestWorker(t, pl, snk, "chat")
	require.NoError(t, pl.Append(events("ops", "chat")))

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Cursor() == 2 }, time.Second, time.Millisecond)
	msgs := snk.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chat", msgs[0].Key)
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	pl := NewPublishLog(10)
	snk := &fakeSink{failures: 2}
	w := newTestWorker(t, pl, snk)
	require.NoError(t, pl.Append(events("chat")))

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(snk.messages()) == 1 }, time.Second, time.Millisecond)
}

func TestWorker_SkipsAfterMaxRetries(t *testing.T) {
	pl := NewPublishLog(10)
	snk := &fakeSink{failures: 3}
	w := newTestWorker(t, pl, snk)
	require.NoError(t, pl.Append(events("lost", "kept")))

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Cursor() == 2 }, time.Second, time.Millisecond)
	msgs := snk.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Key)
}

func TestWorker_StartsAtEarliestRetained(t *testing.T) {
	pl := NewPublishLog(2)
	require.NoError(t, pl.Append(events("a", "b", "c")))

	w := newTestWorker(t, pl, &fakeSink{})
	assert.Equal(t, uint64(1), w.Cursor())
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w := newTestWorker(t, NewPublishLog(10), &fakeSink{})
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}
