// Package daemon runs a group membership engine on a single event loop.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	// ErrStopped is returned for work submitted after the loop ended.
	ErrStopped = errors.New("event loop stopped")
	// ErrGatherStalled ends the loop when gathering outlives the watchdog.
	ErrGatherStalled = errors.New("membership gathering stalled")
)

// Options tunes the loop and its watchdog.
type Options struct {
	GatherTimeout time.Duration
	CheckInterval time.Duration
	FailFast      bool
	QueueSize     int
	Clock         func() time.Time
}

type request struct {
	fn    func(*groups.Engine) error
	reply chan error
}

// Loop owns an Engine and runs every call into it on one goroutine.
type Loop struct {
	engine   *groups.Engine
	opts     Options
	requests chan request
	// local holds deliveries the engine made to itself; only the loop goroutine touches it.
	local []func(*groups.Engine) error

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
	stalled  bool
}

// NewLoop wraps engine. Call Start to begin processing.
func NewLoop(engine *groups.Engine, opts Options) *Loop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Loop{
		engine:   engine,
		opts:     opts,
		requests: make(chan request, opts.QueueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop ends the loop and returns the error that stopped it, if any.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
	return l.err
}

// Done is closed once the loop has ended.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns why the loop ended. Only valid after Done is closed.
func (l *Loop) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Submit runs fn on the loop and waits for its result.
func (l *Loop) Submit(ctx context.Context, fn func(*groups.Engine) error) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-l.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting. Transport deliveries use it.
func (l *Loop) Post(fn func(*groups.Engine) error) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.requests <- request{fn: fn}:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// deliverLocal queues fn behind the event being processed. It must only be
// called from the loop goroutine.
func (l *Loop) deliverLocal(fn func(*groups.Engine) error) {
	l.local = append(l.local, fn)
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.opts.CheckInterval)
	defer ticker.Stop()

	log.Info().
		Str("daemon", l.engine.Self().Name).
		Dur("gather_timeout", l.opts.GatherTimeout).
		Bool("fail_fast", l.opts.FailFast).
		Msg("Event loop started")

	for {
		select {
		case req := <-l.requests:
			err := l.apply(req.fn)
			if req.reply != nil {
				req.reply <- err
			} else if err != nil && l.engine.Failure() == nil {
				log.Warn().Err(err).Str("daemon", l.engine.Self().Name).Msg("Event refused")
			}
			if l.halted() {
				return
			}
		case <-ticker.C:
			if err := l.checkGather(); err != nil {
				l.err = err
				return
			}
		case <-l.stopCh:
			log.Info().Str("daemon", l.engine.Self().Name).Msg("Event loop stopped")
			return
		}
	}
}

func (l *Loop) apply(fn func(*groups.Engine) error) error {
	err := fn(l.engine)
	for len(l.local) > 0 && l.engine.Failure() == nil {
		next := l.local[0]
		l.local = l.local[1:]
		if lerr := next(l.engine); lerr != nil && l.engine.Failure() == nil {
			log.Warn().Err(lerr).Str("daemon", l.engine.Self().Name).Msg("Local delivery refused")
		}
	}
	if l.engine.State() == groups.StateOperational {
		l.stalled = false
	}
	return err
}

func (l *Loop) halted() bool {
	failure := l.engine.Failure()
	if failure == nil {
		return false
	}
	l.err = failure
	log.Error().
		Err(failure).
		Str("daemon", l.engine.Self().Name).
		Bool("assertion", errors.IsAssertionFailure(failure)).
		Msg("Group membership engine failed, stopping event loop")
	return true
}

// checkGather is the liveness watchdog: gathering only completes when the
// transport delivers every contribution, which it may never do.
func (l *Loop) checkGather() error {
	if l.opts.GatherTimeout <= 0 {
		return nil
	}
	since, ok := l.engine.GatheringSince()
	if !ok {
		l.stalled = false
		return nil
	}
	elapsed := l.opts.Clock().Sub(since)
	if elapsed < l.opts.GatherTimeout || l.stalled {
		return nil
	}
	l.stalled = true
	telemetry.GatherStallsTotal.Inc()
	log.Warn().
		Str("daemon", l.engine.Self().Name).
		Str("state", l.engine.State().String()).
		Dur("elapsed", elapsed).
		Msg("Membership gathering exceeded watchdog timeout")
	if l.opts.FailFast {
		return errors.Wrapf(ErrGatherStalled, "in %s after %s", l.engine.State(), elapsed)
	}
	return nil
}

// RegistryStats implements telemetry.StatsProvider.
func (l *Loop) RegistryStats() (telemetry.RegistryStats, error) {
	var stats groups.Stats
	err := l.Submit(context.Background(), func(e *groups.Engine) error {
		stats = e.Stats()
		return nil
	})
	if err != nil {
		return telemetry.RegistryStats{}, err
	}
	return telemetry.RegistryStats{
		Groups:    stats.Groups,
		Members:   stats.Members,
		Mailboxes: stats.Mailboxes,
		SyncedSet: stats.SyncedSet,
	}, nil
}
