package groups

import (
	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
	"github.com/rs/zerolog/log"
)

// HandleTransitional processes a transitional membership: the daemons of
// trans are the ones that moved together out of the last regular view.
func (e *Engine) HandleTransitional(trans membership.View) error {
	if e.failure != nil {
		return e.failure
	}
	telemetry.MembershipEventsTotal.With("transitional").Inc()
	log.Info().
		Str("daemon", e.self.Name).
		Str("state", e.state.String()).
		Str("membership_id", trans.ID.String()).
		Int("procs", trans.NumProcs()).
		Msg("Transitional membership")

	switch e.state {
	case StateOperational:
		e.trans = trans
		for _, g := range e.registry.Groups() {
			if !e.markPartitioned(g, trans) {
				continue
			}
			g.ID = membership.GroupID{MembID: trans.ID, Index: 1}
			g.Changed = true
			g.updateDaemonMembIDs()
		}
		e.synced.Shrink(trans)
		e.setState(StateTransitional)
		return nil

	case StateGathering:
		e.trans = trans
		cascade := trans
		e.cascade = &cascade
		for _, g := range e.registry.Groups() {
			if e.registry.CheckChangedByCascade(g, trans) {
				g.Changed = true
			}
		}
		e.setState(StateGatherTransitional)
		return nil
	}
	return e.fail(errors.AssertionFailedf("transitional membership %s in state %s", trans.ID, e.state))
}

// markPartitioned gives every daemon of g that is missing from trans the
// unknown membership id and tells local members a change is coming. It
// reports whether any daemon was marked.
func (e *Engine) markPartitioned(g *Group, trans membership.View) bool {
	marked := false
	for _, d := range g.Daemons() {
		if !trans.Contains(d.ProcID) && !d.Partitioned() {
			d.MembID = membership.Unknown
			marked = true
		}
	}
	if marked {
		e.sendTransitional(g)
	}
	return marked
}

// HandleRegular processes a regular membership installed by the transport.
func (e *Engine) HandleRegular(reg membership.View) error {
	if e.failure != nil {
		return e.failure
	}
	telemetry.MembershipEventsTotal.With("regular").Inc()
	log.Info().
		Str("daemon", e.self.Name).
		Str("state", e.state.String()).
		Str("membership_id", reg.ID.String()).
		Int("procs", reg.NumProcs()).
		Msg("Regular membership")

	switch e.state {
	case StateTransitional:
		e.regular = reg
		if reg.NumProcs() == e.trans.NumProcs() {
			e.resolveSubtractive()
			return nil
		}
		for _, g := range e.registry.Groups() {
			if !g.Changed {
				continue
			}
			e.registry.EliminatePartitionedDaemons(g, nil)
			e.registry.RemoveIfEmpty(g)
		}
		e.transport.SetPriorityThreshold(PriorityMedium)
		e.transport.SetOutboundQueue(QueueGroups)
		if e.synced.IsLeader(e.self.ID) {
			if err := e.buildBuffers(); err != nil {
				return e.fail(err)
			}
			e.fresh = true
			if err := e.sendBuffers(); err != nil {
				return e.fail(err)
			}
		}
		e.setState(StateGathering)
		return nil

	case StateGatherTransitional:
		return e.restartGather(reg)
	}
	return e.fail(errors.AssertionFailedf("regular membership %s in state %s", reg.ID, e.state))
}

// resolveSubtractive settles a membership where daemons only left: every
// change is already known locally so no GROUPS exchange is needed.
func (e *Engine) resolveSubtractive() {
	for _, g := range e.registry.Groups() {
		if !g.Changed {
			continue
		}
		e.registry.EliminatePartitionedDaemons(g, nil)
		if e.registry.RemoveIfEmpty(g) {
			continue
		}
		g.ID = membership.GroupID{MembID: e.regular.ID, Index: 1}
		g.Changed = false
		g.updateDaemonMembIDs()
		if len(g.mailboxes) > 0 {
			e.sendHeavyweight(g, "", nil)
		}
	}
	e.setState(StateOperational)
}

// restartGather handles the regular membership that follows a cascaded
// transitional one. Contributions that completed on both sides are kept,
// the rest of the round is discarded and a new round starts.
func (e *Engine) restartGather(reg membership.View) error {
	if e.cascade == nil {
		return e.fail(errors.AssertionFailedf("regular membership %s in %s without a pending transitional", reg.ID, e.state))
	}
	cascade := *e.cascade
	e.cascade = nil

	if e.gather.selfComplete {
		for _, c := range e.orderedContributions() {
			if !c.complete {
				continue
			}
			if err := e.mergeContribution(c); err != nil {
				return e.fail(err)
			}
			e.fresh = false
		}
	}
	e.gather.reset()
	e.regular = reg

	for _, g := range e.registry.Groups() {
		if !e.registry.EliminatePartitionedDaemons(g, &cascade) {
			continue
		}
		e.fresh = false
		if !e.registry.RemoveIfEmpty(g) {
			g.Changed = true
		}
	}
	if e.synced.Shrink(cascade) {
		e.fresh = false
	}

	if e.synced.IsLeader(e.self.ID) {
		if e.fresh && len(e.bufs) > 0 {
			if err := e.stampBuffers(); err != nil {
				return e.fail(err)
			}
		} else {
			if err := e.buildBuffers(); err != nil {
				return e.fail(err)
			}
			e.fresh = true
		}
		if err := e.sendBuffers(); err != nil {
			return e.fail(err)
		}
	}
	e.setState(StateGathering)
	return nil
}
