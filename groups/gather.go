package groups

import (
	"bytes"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
	"github.com/maxpert/groupd/wire"
	"github.com/rs/zerolog/log"
)

// HandleGroupsMessage processes one GROUPS message delivered by the
// transport. Stale or malformed messages are logged and dropped.
func (e *Engine) HandleGroupsMessage(msg []byte) error {
	if e.failure != nil {
		return e.failure
	}
	if e.state != StateGathering && e.state != StateGatherTransitional {
		return e.fail(errors.AssertionFailedf("GROUPS message in state %s", e.state))
	}

	m, err := wire.Decode(msg)
	if err != nil {
		telemetry.GroupsMessagesTotal.With("received", "discarded").Inc()
		log.Warn().Err(err).Str("daemon", e.self.Name).Msg("Dropping malformed GROUPS message")
		return nil
	}
	if !m.MembID.Equal(e.regular.ID) {
		telemetry.GroupsMessagesTotal.With("received", "discarded").Inc()
		log.Info().
			Str("daemon", e.self.Name).
			Str("sender", m.Sender).
			Str("message_id", m.MembID.String()).
			Str("membership_id", e.regular.ID.String()).
			Msg("Dropping GROUPS message from another membership")
		return nil
	}
	sender, ok := e.conf.ProcByName(m.Sender)
	if !ok {
		telemetry.GroupsMessagesTotal.With("received", "discarded").Inc()
		log.Error().Str("daemon", e.self.Name).Str("sender", m.Sender).Msg("Dropping GROUPS message from unknown daemon")
		return nil
	}
	if m.Class == wire.Agreed && e.gather.daemons+int(m.SyncedSetSize) > e.regular.NumProcs() {
		telemetry.GroupsMessagesTotal.With("received", "discarded").Inc()
		log.Error().
			Str("daemon", e.self.Name).
			Str("sender", m.Sender).
			Uint32("synced_set_size", m.SyncedSetSize).
			Int("gathered", e.gather.daemons).
			Int("membership_size", e.regular.NumProcs()).
			Msg("Dropping GROUPS message claiming more daemons than the membership")
		return nil
	}
	telemetry.GroupsMessagesTotal.With("received", "accepted").Inc()

	if sender.ID == e.synced.Leader() {
		if m.Class == wire.Agreed {
			e.gather.selfComplete = true
			e.gather.daemons += int(m.SyncedSetSize)
		}
	} else {
		c, ok := e.gather.contribs[sender.ID]
		if !ok {
			c = &contribution{rep: sender.ID}
			e.gather.contribs[sender.ID] = c
		}
		c.msgs = append(c.msgs, m)
		if m.Class == wire.Agreed {
			c.complete = true
			c.syncedSetSize = int(m.SyncedSetSize)
			e.gather.daemons += c.syncedSetSize
		}
	}

	if e.gather.daemons < e.regular.NumProcs() {
		return nil
	}

	e.transport.SetOutboundQueue(QueueNormal)
	e.transport.SetPriorityThreshold(PriorityLow)
	if err := e.computeAndNotify(); err != nil {
		return e.fail(err)
	}
	cascaded := e.state == StateGatherTransitional
	e.setState(StateOperational)
	log.Info().
		Str("daemon", e.self.Name).
		Str("membership_id", e.regular.ID.String()).
		Int("groups", e.registry.Len()).
		Ints32("synced_set", procIDs(e.synced.Procs())).
		Msg("Group state reconciled")

	if cascaded {
		cascade := *e.cascade
		e.cascade = nil
		return e.HandleTransitional(cascade)
	}
	return nil
}

// computeAndNotify merges every gathered contribution and installs the new
// regular membership id on every changed group.
func (e *Engine) computeAndNotify() error {
	for _, c := range e.orderedContributions() {
		if err := e.mergeContribution(c); err != nil {
			return err
		}
	}
	for _, g := range e.registry.Groups() {
		if e.registry.RemoveIfEmpty(g) || !g.Changed {
			continue
		}
		g.ID = membership.GroupID{MembID: e.regular.ID, Index: 1}
		g.Changed = false
		if len(g.mailboxes) > 0 {
			e.sendHeavyweight(g, "", nil)
		}
		g.updateDaemonMembIDs()
	}
	e.gather.reset()
	e.bufs = nil
	e.fresh = false
	return nil
}

// orderedContributions returns contributions by roster order of their
// representative so every daemon merges in the same sequence.
func (e *Engine) orderedContributions() []*contribution {
	out := make([]*contribution, 0, len(e.gather.contribs))
	for _, c := range e.gather.contribs {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *contribution) int {
		return e.conf.CompareProcs(a.rep, b.rep)
	})
	return out
}

func (e *Engine) mergeContribution(c *contribution) error {
	for _, m := range c.msgs {
		if m.First {
			if err := e.synced.Union(e.conf, m.SyncedSet); err != nil {
				return err
			}
		}
		for gi := range m.Groups {
			e.mergeGroup(&m.Groups[gi])
		}
	}
	return nil
}

func (e *Engine) mergeGroup(wg *wire.Group) {
	g, _ := e.registry.GetOrCreateGroup(wg.Name, wg.ID)
	if wg.Changed {
		g.Changed = true
	}
	for _, wd := range wg.Daemons {
		d, _ := e.registry.GetOrCreateDaemon(g, wd.ProcID, wd.MembID)
		if !d.MembID.Equal(g.ID.MembID) {
			g.Changed = true
		}
		for _, name := range wd.Members {
			e.registry.AddMember(g, d, name)
		}
	}
}

// wireGroups snapshots the registry in canonical order for encoding.
func (e *Engine) wireGroups() []wire.Group {
	groups := e.registry.Groups()
	out := make([]wire.Group, 0, len(groups))
	for _, g := range groups {
		wg := wire.Group{Name: g.Name, ID: g.ID, Changed: g.Changed}
		for _, d := range g.Daemons() {
			wg.Daemons = append(wg.Daemons, wire.Daemon{
				ProcID:  d.ProcID,
				MembID:  g.ID.MembID,
				Members: d.Members(),
			})
		}
		out = append(out, wg)
	}
	return out
}

func (e *Engine) buildBuffers() error {
	bufs, err := e.encoder.Encode(wire.Sequence{
		Sender:    e.self.Name,
		MembID:    e.regular.ID,
		SyncedSet: e.synced.Procs(),
		Groups:    e.wireGroups(),
	})
	if err != nil {
		return errors.Wrapf(err, "encode GROUPS for %s", e.regular.ID)
	}
	e.bufs = bufs
	telemetry.GroupsBuffersPerRound.Observe(float64(len(bufs)))
	return nil
}

func (e *Engine) stampBuffers() error {
	for _, b := range e.bufs {
		if err := wire.Stamp(b, e.regular.ID); err != nil {
			return errors.Wrap(err, "stamp GROUPS buffer")
		}
	}
	return nil
}

// sendBuffers hands copies to the transport because stamping rewrites the
// retained buffers in place.
func (e *Engine) sendBuffers() error {
	for i, b := range e.bufs {
		class := wire.Reliable
		if i == len(e.bufs)-1 {
			class = wire.Agreed
		}
		if err := e.transport.SendControl(Everyone, bytes.Clone(b), class); err != nil {
			telemetry.GroupsMessagesTotal.With("sent", "failed").Inc()
			return errors.Wrapf(err, "send GROUPS message %d/%d", i+1, len(e.bufs))
		}
		telemetry.GroupsMessagesTotal.With("sent", "ok").Inc()
	}
	log.Debug().
		Str("daemon", e.self.Name).
		Str("membership_id", e.regular.ID.String()).
		Int("messages", len(e.bufs)).
		Msg("Sent GROUPS messages")
	return nil
}

func procIDs(ids []membership.ProcID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
