package groups

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
	"github.com/maxpert/groupd/wire"
	"github.com/rs/zerolog/log"
)

// Errors returned for session operations that are refused without changing
// any state. They are not protocol violations.
var (
	ErrUnknownDaemon   = errors.New("daemon not in configuration")
	ErrNoSuchGroup     = errors.New("no such group")
	ErrNoSuchMember    = errors.New("no such member")
	ErrAlreadyMember   = errors.New("already a member")
	ErrInvalidName     = errors.New("invalid name")
	ErrNotOperational  = errors.New("engine not operational")
	ErrRosterMissing   = errors.New("daemon missing from new configuration")
	ErrMissingMailbox  = errors.New("local session has no mailbox")
	errNilCollaborator = errors.New("notifier, transport and sessions are required")
)

// Config wires an Engine to its collaborators.
type Config struct {
	Self   membership.Proc
	Roster *membership.Configuration
	// InitialID is the id of the startup view holding only Self. The zero
	// value means (Self, 0).
	InitialID     membership.MembershipID
	BufferSize    int
	NameCacheSize int

	Notifier  Notifier
	Transport Transport
	Sessions  Sessions
	Clock     func() time.Time
}

// contribution is everything one synced set sent during a gathering round.
type contribution struct {
	rep           membership.ProcID
	msgs          []*wire.Message
	complete      bool
	syncedSetSize int
}

type gatherState struct {
	contribs     map[membership.ProcID]*contribution
	selfComplete bool
	daemons      int
}

func (g *gatherState) reset() {
	g.contribs = make(map[membership.ProcID]*contribution)
	g.selfComplete = false
	g.daemons = 0
}

// Engine maintains group membership across daemon membership changes. It is
// not safe for concurrent use; every call must come from one event loop.
type Engine struct {
	self     membership.Proc
	conf     *membership.Configuration
	registry *Registry
	synced   *SyncedSet
	state    State

	regular membership.View
	trans   membership.View
	// cascade holds the transitional view that interrupted a gathering round.
	cascade *membership.View

	gather gatherState
	bufs   [][]byte
	// fresh means bufs still describe the registry and only need restamping.
	fresh bool

	encoder   *wire.Encoder
	names     *membership.NameParser
	notifier  Notifier
	transport Transport
	sessions  Sessions
	clock     func() time.Time

	gatherStart time.Time
	failure     error
}

// NewEngine creates an engine in GOP whose regular view holds only Self.
func NewEngine(c Config) (*Engine, error) {
	if c.Roster == nil {
		return nil, errors.New("configuration is required")
	}
	if c.Notifier == nil || c.Transport == nil || c.Sessions == nil {
		return nil, errNilCollaborator
	}
	if p, ok := c.Roster.ProcByID(c.Self.ID); !ok || p.Name != c.Self.Name {
		return nil, errors.Wrapf(ErrUnknownDaemon, "self %s (%s)", c.Self.Name, c.Self.ID)
	}
	if c.BufferSize == 0 {
		c.BufferSize = wire.DefaultCapacity
	}
	if c.NameCacheSize == 0 {
		c.NameCacheSize = 4096
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	id := c.InitialID
	if id == (membership.MembershipID{}) {
		id = membership.MembershipID{ProcID: c.Self.ID}
	}

	enc, err := wire.NewEncoder(c.BufferSize)
	if err != nil {
		return nil, err
	}
	names, err := membership.NewNameParser(c.NameCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		self:      c.Self,
		conf:      c.Roster,
		registry:  NewRegistry(c.Roster),
		synced:    NewSyncedSet(c.Self.ID),
		state:     StateOperational,
		regular:   membership.NewView(id, c.Self.ID),
		encoder:   enc,
		names:     names,
		notifier:  c.Notifier,
		transport: c.Transport,
		sessions:  c.Sessions,
		clock:     c.Clock,
	}
	e.trans = e.regular
	e.gather.reset()

	log.Info().
		Str("daemon", e.self.Name).
		Str("membership_id", id.String()).
		Int("roster", c.Roster.NumProcs()).
		Msg("Group membership engine started")
	return e, nil
}

// State returns the current protocol state.
func (e *Engine) State() State {
	return e.state
}

// Self returns this daemon.
func (e *Engine) Self() membership.Proc {
	return e.self
}

// Registry exposes the group registry for read-only inspection.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// SyncedSet returns the daemons currently known to share our group state.
func (e *Engine) SyncedSet() []membership.ProcID {
	return e.synced.Procs()
}

// RegularView returns the last regular membership.
func (e *Engine) RegularView() membership.View {
	return e.regular
}

// Failure returns the violation that stopped the engine, if any.
func (e *Engine) Failure() error {
	return e.failure
}

// GatheringSince reports when the engine left GOP, if it has.
func (e *Engine) GatheringSince() (time.Time, bool) {
	if e.state == StateOperational {
		return time.Time{}, false
	}
	return e.gatherStart, true
}

// fail latches err. Every later event is refused with the first failure.
func (e *Engine) fail(err error) error {
	if e.failure != nil {
		return e.failure
	}
	e.failure = err
	if errors.IsAssertionFailure(err) {
		telemetry.ProtocolViolationsTotal.Inc()
	}
	log.Error().
		Err(err).
		Str("daemon", e.self.Name).
		Str("state", e.state.String()).
		Msg("Group membership engine stopped")
	return err
}

func (e *Engine) setState(next State) {
	if next == e.state {
		return
	}
	now := e.clock()
	switch {
	case e.state == StateOperational:
		e.gatherStart = now
	case next == StateOperational:
		telemetry.GatherDurationSeconds.Observe(now.Sub(e.gatherStart).Seconds())
	}
	telemetry.StateTransitionsTotal.With(e.state.String(), next.String()).Inc()
	log.Debug().
		Str("daemon", e.self.Name).
		Str("from", e.state.String()).
		Str("to", next.String()).
		Msg("Membership state changed")
	e.state = next
}
