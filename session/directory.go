// Package session tracks the client sessions connected to this daemon and
// delivers membership notifications to them.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// defaultBufferSize is the notification buffer of one session.
// Sessions that can't keep up lose notifications (non-blocking send).
const defaultBufferSize = 64

// Observer sees every notification the directory delivers.
type Observer interface {
	Observe(boxes []groups.Mailbox, n groups.Notification)
}

// Session is one connected client.
type Session struct {
	Name    string
	Mailbox groups.Mailbox

	mu      sync.RWMutex
	ch      chan groups.Notification
	closed  bool
	dropped atomic.Uint64
}

// Notifications returns the session's delivery channel. It is closed when
// the session disconnects.
func (s *Session) Notifications() <-chan groups.Notification {
	return s.ch
}

// Dropped counts notifications lost because the channel was full.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer sends n without blocking and reports whether it was queued.
func (s *Session) offer(n groups.Notification) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- n:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Directory implements groups.Sessions and groups.Notifier.
// Thread-safe: sessions connect from client goroutines while the engine
// resolves and notifies them from the event loop.
type Directory struct {
	daemon    string
	buffer    int
	byName    *xsync.MapOf[string, *Session]
	byMailbox *xsync.MapOf[groups.Mailbox, *Session]
	nextBox   atomic.Uint64
	observers []Observer
}

// NewDirectory creates an empty directory for the named daemon.
func NewDirectory(daemon string, observers ...Observer) *Directory {
	return &Directory{
		daemon:    daemon,
		buffer:    defaultBufferSize,
		byName:    xsync.NewMapOf[string, *Session](),
		byMailbox: xsync.NewMapOf[groups.Mailbox, *Session](),
		observers: observers,
	}
}

// Connect registers a session for user and returns it.
func (d *Directory) Connect(user string) (*Session, error) {
	name := membership.PrivateName{User: user, Daemon: d.daemon}.String()
	if _, err := membership.ParsePrivateName(name); err != nil {
		telemetry.SessionOpsTotal.With("connect", "refused").Inc()
		return nil, err
	}

	s := &Session{
		Name:    name,
		Mailbox: groups.Mailbox(d.nextBox.Add(1)),
		ch:      make(chan groups.Notification, d.buffer),
	}
	if _, loaded := d.byName.LoadOrStore(name, s); loaded {
		telemetry.SessionOpsTotal.With("connect", "refused").Inc()
		return nil, fmt.Errorf("session %s already connected", name)
	}
	d.byMailbox.Store(s.Mailbox, s)
	telemetry.SessionOpsTotal.With("connect", "ok").Inc()
	log.Debug().Str("member", name).Uint64("mailbox", uint64(s.Mailbox)).Msg("Session connected")
	return s, nil
}

// Disconnect removes the session and closes its channel. It is idempotent.
func (d *Directory) Disconnect(name string) {
	s, ok := d.byName.LoadAndDelete(name)
	if !ok {
		return
	}
	d.byMailbox.Delete(s.Mailbox)
	s.close()
	telemetry.SessionOpsTotal.With("disconnect", "ok").Inc()
	log.Debug().Str("member", name).Msg("Session disconnected")
}

// Lookup finds a connected session.
func (d *Directory) Lookup(name string) (*Session, bool) {
	return d.byName.Load(name)
}

// Len returns the number of connected sessions.
func (d *Directory) Len() int {
	return d.byName.Size()
}

// Mailbox implements groups.Sessions.
func (d *Directory) Mailbox(privateName string) (groups.Mailbox, bool) {
	s, ok := d.byName.Load(privateName)
	if !ok {
		return 0, false
	}
	return s.Mailbox, true
}

// NotifyLocal implements groups.Notifier (non-blocking).
func (d *Directory) NotifyLocal(boxes []groups.Mailbox, n groups.Notification) {
	for _, box := range boxes {
		s, ok := d.byMailbox.Load(box)
		if !ok {
			continue
		}
		if !s.offer(n) {
			log.Warn().Str("member", s.Name).Str("group", n.Group).Msg("Session notification buffer full, dropping")
		}
	}
	for _, o := range d.observers {
		o.Observe(boxes, n)
	}
}
