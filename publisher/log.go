package publisher

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/maxpert/groupd/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultLogCapacity bounds how many unconsumed events are retained
	DefaultLogCapacity = 10_000
	defaultReadLimit   = 100
	btreeDegree        = 32
)

// PublishLog is a bounded, ordered in-memory log of membership events with
// per-sink consumption cursors. Events consumed by every sink are released;
// when a slow sink lets the log reach capacity the oldest events are dropped.
type PublishLog struct {
	mu       sync.RWMutex
	events   *btree.BTreeG[MembershipEvent]
	cursors  map[string]uint64
	nextSeq  uint64
	capacity int
	closed   bool
}

// NewPublishLog creates an empty publish log retaining at most capacity events
func NewPublishLog(capacity int) *PublishLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &PublishLog{
		events: btree.NewG(btreeDegree, func(a, b MembershipEvent) bool {
			return a.SeqNum < b.SeqNum
		}),
		cursors:  make(map[string]uint64),
		capacity: capacity,
	}
}

// Append assigns sequence numbers and stores the events.
// Note: This function modifies the input events slice by setting SeqNum on each event.
func (pl *PublishLog) Append(events []MembershipEvent) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.closed {
		return fmt.Errorf("publish log is closed")
	}

	for i := range events {
		pl.nextSeq++
		events[i].SeqNum = pl.nextSeq
		pl.events.ReplaceOrInsert(events[i])
	}

	dropped := 0
	for pl.events.Len() > pl.capacity {
		pl.events.DeleteMin()
		dropped++
	}
	if dropped > 0 {
		telemetry.PublishLogDropped.Add(float64(dropped))
		log.Warn().
			Int("dropped", dropped).
			Uint64("next_seq", pl.nextSeq).
			Msg("Publish log full, dropped oldest events")
	}

	return nil
}

// ReadFrom returns up to limit events with sequence numbers after cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]MembershipEvent, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}

	pl.mu.RLock()
	defer pl.mu.RUnlock()

	if pl.closed {
		return nil, fmt.Errorf("publish log is closed")
	}

	out := make([]MembershipEvent, 0, min(limit, pl.events.Len()))
	pl.events.AscendGreaterOrEqual(MembershipEvent{SeqNum: cursor + 1}, func(e MembershipEvent) bool {
		out = append(out, e)
		return len(out) < limit
	})
	return out, nil
}

// GetCursor returns the last consumed sequence of a sink, registering the
// sink at zero on first use so cleanup waits for it.
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.closed {
		return 0, fmt.Errorf("publish log is closed")
	}
	c, ok := pl.cursors[sinkName]
	if !ok {
		pl.cursors[sinkName] = 0
	}
	return c, nil
}

// AdvanceCursor records that a sink consumed every event up to newSeq and
// releases events that all sinks have consumed.
func (pl *PublishLog) AdvanceCursor(sinkName string, newSeq uint64) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.closed {
		return fmt.Errorf("publish log is closed")
	}
	if newSeq <= pl.cursors[sinkName] {
		return nil
	}
	pl.cursors[sinkName] = newSeq
	pl.cleanup()
	return nil
}

// cleanup removes events at or below the minimum cursor; caller holds mu
func (pl *PublishLog) cleanup() {
	if len(pl.cursors) == 0 {
		return
	}
	floor := pl.nextSeq
	for _, c := range pl.cursors {
		floor = min(floor, c)
	}
	for {
		e, ok := pl.events.Min()
		if !ok || e.SeqNum > floor {
			return
		}
		pl.events.DeleteMin()
	}
}

// Len returns the number of retained events
func (pl *PublishLog) Len() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.events.Len()
}

// Close releases the retained events; later calls fail
func (pl *PublishLog) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return nil
	}
	pl.closed = true
	pl.events.Clear(false)
	return nil
}
