package groups

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
	"github.com/rs/zerolog/log"
)

// Join adds the session named by privateName to group. The join arrives in
// the agreed order, so every daemon applies it identically.
func (e *Engine) Join(privateName, group string) error {
	if err := e.checkOperational("join"); err != nil {
		return err
	}
	pn, proc, err := e.resolveMember(privateName)
	if err != nil {
		return e.refuse("join", privateName, group, err)
	}
	if err := membership.ValidateGroupName(group); err != nil {
		return e.refuse("join", privateName, group, fmt.Errorf("%w: %w", ErrInvalidName, err))
	}

	epoch := e.regular.ID
	if e.state == StateTransitional {
		epoch = e.trans.ID
	}
	g, _ := e.registry.GetOrCreateGroup(group, membership.GroupID{MembID: epoch})

	membID := membership.Unknown
	if e.state == StateOperational || e.trans.Contains(proc.ID) {
		membID = g.ID.MembID
	}
	d, _ := e.registry.GetOrCreateDaemon(g, proc.ID, membID)
	if !e.registry.AddMember(g, d, privateName) {
		return e.refuse("join", privateName, group, ErrAlreadyMember)
	}
	g.ID.Index++

	var joinerBox *Mailbox
	if proc.ID == e.self.ID {
		box, ok := e.sessions.Mailbox(privateName)
		if ok {
			g.addMailbox(privateName, box)
			joinerBox = &box
		} else {
			log.Warn().
				Str("daemon", e.self.Name).
				Str("member", privateName).
				Str("group", group).
				Msg("Local member joined without a session mailbox")
		}
	}
	if d.Partitioned() {
		g.Changed = true
	}

	if len(g.mailboxes) > 0 {
		if g.Changed {
			e.sendHeavyweight(g, privateName, joinerBox)
			e.sendTransitional(g)
		} else {
			e.sendLightweight(g, CauseJoin, privateName)
		}
	}

	telemetry.SessionOpsTotal.With("join", "ok").Inc()
	log.Debug().
		Str("daemon", e.self.Name).
		Str("member", pn.String()).
		Str("group", group).
		Str("group_id", g.ID.String()).
		Msg("Member joined")
	return nil
}

// Leave removes the session named by privateName from group.
func (e *Engine) Leave(privateName, group string) error {
	if err := e.checkOperational("leave"); err != nil {
		return err
	}
	_, proc, err := e.resolveMember(privateName)
	if err != nil {
		return e.refuse("leave", privateName, group, err)
	}
	g, ok := e.registry.Lookup(group)
	if !ok {
		return e.refuse("leave", privateName, group, ErrNoSuchGroup)
	}
	d, ok := g.Daemon(proc.ID)
	if !ok || !d.HasMember(privateName) {
		return e.refuse("leave", privateName, group, ErrNoSuchMember)
	}

	if proc.ID == e.self.ID {
		if box, ok := g.LocalMailbox(privateName); ok {
			e.sendSelfLeave(g, box)
			g.removeMailbox(privateName)
		}
	}
	e.removeMember(g, d, privateName, CauseLeave)

	telemetry.SessionOpsTotal.With("leave", "ok").Inc()
	log.Debug().
		Str("daemon", e.self.Name).
		Str("member", privateName).
		Str("group", group).
		Msg("Member left")
	return nil
}

// Kill removes a disconnected session from every group it belongs to.
func (e *Engine) Kill(privateName string) error {
	if err := e.checkOperational("kill"); err != nil {
		return err
	}
	_, proc, err := e.resolveMember(privateName)
	if err != nil {
		return e.refuse("kill", privateName, "", err)
	}

	removed := 0
	for _, g := range e.registry.Groups() {
		d, ok := g.Daemon(proc.ID)
		if !ok || !d.HasMember(privateName) {
			continue
		}
		if proc.ID == e.self.ID {
			g.removeMailbox(privateName)
		}
		e.removeMember(g, d, privateName, CauseDisconnect)
		removed++
	}

	telemetry.SessionOpsTotal.With("kill", "ok").Inc()
	log.Debug().
		Str("daemon", e.self.Name).
		Str("member", privateName).
		Int("groups", removed).
		Msg("Member killed")
	return nil
}

// removeMember drops name from g and notifies the remaining local members.
func (e *Engine) removeMember(g *Group, d *DaemonRecord, name string, cause Cause) {
	e.registry.RemoveMember(g, d, name)
	if e.registry.RemoveIfEmpty(g) {
		return
	}
	g.ID.Index++
	if len(g.mailboxes) == 0 {
		return
	}
	if g.Changed {
		e.sendHeavyweight(g, "", nil)
		e.sendTransitional(g)
		return
	}
	e.sendLightweight(g, cause, name)
}

// LocalMailboxes returns the local mailboxes a message addressed to targets
// must reach. A target starting with '#' is a private name and reaches its
// session only when that session is on this daemon.
func (e *Engine) LocalMailboxes(targets ...string) ([]Mailbox, error) {
	if e.failure != nil {
		return nil, e.failure
	}
	if !e.state.Operational() {
		return nil, e.fail(errors.AssertionFailedf("local mailbox lookup in state %s", e.state))
	}

	seen := make(map[Mailbox]struct{})
	var out []Mailbox
	add := func(m Mailbox) {
		if _, dup := seen[m]; !dup {
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	for _, t := range targets {
		if strings.HasPrefix(t, "#") {
			pn, err := e.names.Parse(t)
			if err != nil || pn.Daemon != e.self.Name {
				continue
			}
			if m, ok := e.sessions.Mailbox(t); ok {
				add(m)
			}
			continue
		}
		if g, ok := e.registry.Lookup(t); ok {
			for _, m := range g.mailboxes {
				add(m)
			}
		}
	}
	return out, nil
}

// NumLocal returns how many local sessions are members of group.
func (e *Engine) NumLocal(group string) int {
	g, ok := e.registry.Lookup(group)
	if !ok {
		return 0
	}
	return len(g.mailboxes)
}

func (e *Engine) checkOperational(op string) error {
	if e.failure != nil {
		return e.failure
	}
	if !e.state.Operational() {
		return e.fail(errors.AssertionFailedf("%s in state %s", errors.Safe(op), e.state))
	}
	return nil
}

func (e *Engine) resolveMember(privateName string) (membership.PrivateName, membership.Proc, error) {
	pn, err := e.names.Parse(privateName)
	if err != nil {
		return pn, membership.Proc{}, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	proc, ok := e.conf.ProcByName(pn.Daemon)
	if !ok {
		return pn, membership.Proc{}, errors.Wrapf(ErrUnknownDaemon, "%s", pn.Daemon)
	}
	return pn, proc, nil
}

func (e *Engine) refuse(op, member, group string, err error) error {
	telemetry.SessionOpsTotal.With(op, "refused").Inc()
	log.Warn().
		Err(err).
		Str("daemon", e.self.Name).
		Str("op", op).
		Str("member", member).
		Str("group", group).
		Msg("Membership request refused")
	return err
}
