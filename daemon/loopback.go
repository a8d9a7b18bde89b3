package daemon

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/wire"
)

// Loopback is the transport of a daemon running without peers: control
// messages come straight back to the sender's own loop.
type Loopback struct {
	loop     *Loop
	queue    atomic.Uint32
	priority atomic.Uint32
	sent     atomic.Uint64
}

// NewLoopback creates an unattached loopback transport.
func NewLoopback() *Loopback {
	lb := &Loopback{}
	lb.queue.Store(uint32(groups.QueueNormal))
	lb.priority.Store(uint32(groups.PriorityLow))
	return lb
}

// Attach binds the transport to the loop that owns its engine.
func (lb *Loopback) Attach(l *Loop) {
	lb.loop = l
}

// SendControl implements groups.Transport. It runs on the loop goroutine, so
// the message is queued behind the current event instead of re-entering.
func (lb *Loopback) SendControl(dest groups.Destination, msg []byte, _ wire.Class) error {
	if lb.loop == nil {
		return errors.New("loopback transport not attached")
	}
	lb.sent.Add(1)
	if !dest.All && dest.Proc != lb.loop.engine.Self().ID {
		return nil
	}
	lb.loop.deliverLocal(func(e *groups.Engine) error {
		return e.HandleGroupsMessage(msg)
	})
	return nil
}

// SetOutboundQueue implements groups.Transport.
func (lb *Loopback) SetOutboundQueue(q groups.Queue) {
	lb.queue.Store(uint32(q))
}

// SetPriorityThreshold implements groups.Transport.
func (lb *Loopback) SetPriorityThreshold(p groups.Priority) {
	lb.priority.Store(uint32(p))
}

// Outbound reports the queue and threshold last requested by the engine.
func (lb *Loopback) Outbound() (groups.Queue, groups.Priority) {
	return groups.Queue(lb.queue.Load()), groups.Priority(lb.priority.Load())
}

// Sent counts control messages handed to the transport.
func (lb *Loopback) Sent() uint64 {
	return lb.sent.Load()
}
