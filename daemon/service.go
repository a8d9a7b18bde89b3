package daemon

import (
	"context"

	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/membership"
)

// Groups returns a snapshot of every group.
func (l *Loop) Groups(ctx context.Context) ([]groups.GroupSnapshot, error) {
	var out []groups.GroupSnapshot
	err := l.Submit(ctx, func(e *groups.Engine) error {
		out = e.Snapshot()
		return nil
	})
	return out, err
}

// Group returns a snapshot of one group.
func (l *Loop) Group(ctx context.Context, name string) (groups.GroupSnapshot, bool, error) {
	var (
		out groups.GroupSnapshot
		ok  bool
	)
	err := l.Submit(ctx, func(e *groups.Engine) error {
		out, ok = e.SnapshotGroup(name)
		return nil
	})
	return out, ok, err
}

// Status returns the engine's protocol position.
func (l *Loop) Status(ctx context.Context) (groups.Status, error) {
	var out groups.Status
	err := l.Submit(ctx, func(e *groups.Engine) error {
		out = e.Status()
		return nil
	})
	return out, err
}

// Join submits a join in the agreed order of this daemon.
func (l *Loop) Join(ctx context.Context, member, group string) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.Join(member, group)
	})
}

// Leave submits a leave.
func (l *Loop) Leave(ctx context.Context, member, group string) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.Leave(member, group)
	})
}

// Kill submits a disconnect.
func (l *Loop) Kill(ctx context.Context, member string) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.Kill(member)
	})
}

// Transitional delivers a transitional membership.
func (l *Loop) Transitional(ctx context.Context, v membership.View) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.HandleTransitional(v)
	})
}

// Regular delivers a regular membership.
func (l *Loop) Regular(ctx context.Context, v membership.View) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.HandleRegular(v)
	})
}

// Reload switches the engine to a new roster.
func (l *Loop) Reload(ctx context.Context, conf *membership.Configuration) error {
	return l.Submit(ctx, func(e *groups.Engine) error {
		return e.ReloadConfiguration(conf)
	})
}
