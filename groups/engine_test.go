package groups

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineValidatesSelf(t *testing.T) {
	conf := testRoster(t, procA, procB)
	_, err := NewEngine(Config{
		Self:      procC,
		Roster:    conf,
		Notifier:  &recordingNotifier{},
		Transport: &recordingTransport{},
		Sessions:  sessionMap{},
	})
	assert.ErrorIs(t, err, ErrUnknownDaemon)

	_, err = NewEngine(Config{Self: procA, Roster: conf})
	assert.Error(t, err)

	_, err = NewEngine(Config{
		Self:       procA,
		Roster:     conf,
		BufferSize: 10,
		Notifier:   &recordingNotifier{},
		Transport:  &recordingTransport{},
		Sessions:   sessionMap{},
	})
	assert.ErrorIs(t, err, wire.ErrCapacityTooLow)
}

func TestSingleDaemonMembershipChange(t *testing.T) {
	h := newHarness(t, procA, procA)
	assert.Equal(t, StateOperational, h.e.State())

	h.join(t, "#u1#a", "g", 11)
	d := h.notes.last(t)
	assert.Equal(t, []Mailbox{11}, d.boxes)
	assert.Equal(t, KindRegular, d.n.Kind)
	assert.Equal(t, CauseJoin, d.n.Cause)
	assert.Equal(t, []string{"#u1#a"}, d.n.Members)
	assert.Equal(t, [][]string{{"#u1#a"}}, d.n.VSSets)
	assert.Equal(t, 0, d.n.LocalSet)
	assert.Equal(t, membership.GroupID{MembID: memb(procA.ID, 0), Index: 1}, d.n.GroupID)

	h.join(t, "#u2#a", "g", 12)
	d = h.notes.last(t)
	assert.Equal(t, []Mailbox{11, 12}, d.boxes)
	assert.Equal(t, []string{"#u1#a", "#u2#a"}, d.n.Members)
	assert.Equal(t, [][]string{{"#u2#a"}}, d.n.VSSets)
	assert.EqualValues(t, 2, d.n.GroupID.Index)

	require.NoError(t, h.e.HandleTransitional(view(memb(procA.ID, 5), procA)))
	assert.Equal(t, StateTransitional, h.e.State())
	_, gathering := h.e.GatheringSince()
	assert.True(t, gathering)

	require.NoError(t, h.e.HandleRegular(view(memb(procA.ID, 6), procA)))
	assert.Equal(t, StateOperational, h.e.State())

	assert.Empty(t, h.tr.sent, "a lone daemon never exchanges GROUPS messages")
	assert.Len(t, h.notes.got, 2, "no daemon left, so nobody is told")
	g, ok := h.e.Registry().Lookup("g")
	require.True(t, ok)
	assert.False(t, g.Changed)
	assert.Equal(t, 2, h.e.NumLocal("g"))
}

func TestSubtractiveChangeResolvesWithoutGathering(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#b", "g", 0)

	d := h.notes.last(t)
	assert.Equal(t, []string{"#u1#a", "#u2#b"}, d.n.Members)
	assert.Equal(t, CauseJoin, d.n.Cause)

	trans := memb(procA.ID, 5)
	require.NoError(t, h.e.HandleTransitional(view(trans, procA)))
	d = h.notes.last(t)
	assert.Equal(t, KindTransitional, d.n.Kind)
	assert.Equal(t, []Mailbox{11}, d.boxes)

	g, _ := h.e.Registry().Lookup("g")
	assert.True(t, g.Changed)
	assert.Equal(t, membership.GroupID{MembID: trans, Index: 1}, g.ID)
	b, _ := g.Daemon(procB.ID)
	assert.True(t, b.Partitioned())
	a, _ := g.Daemon(procA.ID)
	assert.Equal(t, trans, a.MembID)

	reg := memb(procA.ID, 6)
	require.NoError(t, h.e.HandleRegular(view(reg, procA)))
	assert.Equal(t, StateOperational, h.e.State())
	assert.Empty(t, h.tr.sent)

	d = h.notes.last(t)
	assert.Equal(t, KindRegular, d.n.Kind)
	assert.Equal(t, CauseNetwork, d.n.Cause)
	assert.Equal(t, []string{"#u1#a"}, d.n.Members)
	assert.Equal(t, [][]string{{"#u1#a"}}, d.n.VSSets)
	assert.Equal(t, 0, d.n.LocalSet)
	assert.Equal(t, membership.GroupID{MembID: reg, Index: 1}, d.n.GroupID)
	assert.False(t, g.Changed)
	assert.Equal(t, 1, g.NumMembers())
	assert.Equal(t, reg, a.MembID)
}

func TestGatherMergesPeerContribution(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)

	require.NoError(t, h.e.HandleTransitional(view(memb(procA.ID, 5), procA)))
	reg := memb(procA.ID, 6)
	require.NoError(t, h.e.HandleRegular(view(reg, procA, procB)))
	assert.Equal(t, StateGathering, h.e.State())
	assert.Equal(t, QueueGroups, h.tr.queue)
	assert.Equal(t, PriorityMedium, h.tr.priority)

	require.Len(t, h.tr.sent, 1)
	own := h.tr.sent[0]
	assert.Equal(t, Everyone, own.dest)
	assert.Equal(t, wire.Agreed, own.class)
	m := decodeSent(t, own)
	assert.Equal(t, reg, m.MembID)
	assert.Equal(t, "a", m.Sender)
	assert.Equal(t, []membership.ProcID{procA.ID}, m.SyncedSet)
	require.Len(t, m.Groups, 1)
	assert.Equal(t, []string{"#u1#a"}, m.Groups[0].Daemons[0].Members)

	require.NoError(t, h.e.HandleGroupsMessage(own.msg))
	assert.Equal(t, StateGathering, h.e.State())

	peerID := memb(procB.ID, 3)
	for _, msg := range peerMessages(t, procB, reg, []membership.ProcID{procB.ID},
		wire.Group{Name: "g", ID: membership.GroupID{MembID: peerID, Index: 4}, Daemons: []wire.Daemon{
			{ProcID: procB.ID, MembID: peerID, Members: []string{"#u2#b"}},
		}},
		wire.Group{Name: "h", ID: membership.GroupID{MembID: peerID, Index: 2}, Daemons: []wire.Daemon{
			{ProcID: procB.ID, MembID: peerID, Members: []string{"#u9#b"}},
		}},
	) {
		require.NoError(t, h.e.HandleGroupsMessage(msg))
	}

	assert.Equal(t, StateOperational, h.e.State())
	assert.Equal(t, QueueNormal, h.tr.queue)
	assert.Equal(t, PriorityLow, h.tr.priority)
	assert.Equal(t, []membership.ProcID{procA.ID, procB.ID}, h.e.SyncedSet())

	g, _ := h.e.Registry().Lookup("g")
	assert.Equal(t, membership.GroupID{MembID: reg, Index: 1}, g.ID)
	assert.False(t, g.Changed)
	assert.Equal(t, []string{"#u1#a", "#u2#b"}, g.Members())
	for _, dr := range g.Daemons() {
		assert.Equal(t, reg, dr.MembID)
	}

	hg, ok := h.e.Registry().Lookup("h")
	require.True(t, ok)
	assert.Equal(t, membership.GroupID{MembID: peerID, Index: 2}, hg.ID, "unchanged groups keep their id")

	d := h.notes.last(t)
	assert.Equal(t, CauseNetwork, d.n.Cause)
	assert.Equal(t, []Mailbox{11}, d.boxes)
	assert.Equal(t, []string{"#u1#a", "#u2#b"}, d.n.Members)
	assert.Equal(t, [][]string{{"#u1#a"}, {"#u2#b"}}, d.n.VSSets)
	assert.Equal(t, 0, d.n.LocalSet)
	assert.Equal(t, membership.GroupID{MembID: reg, Index: 1}, d.n.GroupID)
}

func TestGatherDiscardsStaleAndForeignMessages(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	require.NoError(t, h.e.HandleTransitional(view(memb(procA.ID, 5), procA)))
	reg := memb(procA.ID, 6)
	require.NoError(t, h.e.HandleRegular(view(reg, procA, procB)))

	stale := peerMessages(t, procB, memb(procA.ID, 2), []membership.ProcID{procB.ID})
	require.NoError(t, h.e.HandleGroupsMessage(stale[0]))

	stranger := peerMessages(t, membership.Proc{ID: 9, Name: "zz"}, reg, []membership.ProcID{9})
	require.NoError(t, h.e.HandleGroupsMessage(stranger[0]))

	require.NoError(t, h.e.HandleGroupsMessage([]byte{1, 2, 3}))

	require.NoError(t, h.e.HandleGroupsMessage(h.tr.sent[0].msg))
	assert.Equal(t, StateGathering, h.e.State(), "only our own contribution counted")
	assert.NoError(t, h.e.Failure())
}

func TestGatherDiscardsOversizedSyncedSet(t *testing.T) {
	h := newHarness(t, procA, procA, procB, procC)
	require.NoError(t, h.e.HandleTransitional(view(memb(procA.ID, 5), procA)))
	reg := memb(procA.ID, 6)
	require.NoError(t, h.e.HandleRegular(view(reg, procA, procB)))
	require.NoError(t, h.e.HandleGroupsMessage(h.tr.sent[0].msg))

	oversized := peerMessages(t, procB, reg, []membership.ProcID{procB.ID, procC.ID})
	for _, msg := range oversized {
		require.NoError(t, h.e.HandleGroupsMessage(msg))
	}
	assert.Equal(t, StateGathering, h.e.State())
	assert.NoError(t, h.e.Failure())

	for _, msg := range peerMessages(t, procB, reg, []membership.ProcID{procB.ID}) {
		require.NoError(t, h.e.HandleGroupsMessage(msg))
	}
	assert.Equal(t, StateOperational, h.e.State())
	assert.NoError(t, h.e.Failure())
}

func TestProtocolViolationsLatch(t *testing.T) {
	h := newHarness(t, procA, procA, procB)

	err := h.e.HandleRegular(view(memb(procA.ID, 1), procA))
	require.Error(t, err)
	assert.True(t, errors.IsAssertionFailure(err))
	assert.Equal(t, err, h.e.Failure())

	assert.Equal(t, err, h.e.Join("#u1#a", "g"))
	assert.Equal(t, err, h.e.HandleTransitional(view(memb(procA.ID, 2), procA)))
	_, lerr := h.e.LocalMailboxes("g")
	assert.Equal(t, err, lerr)
	assert.Contains(t, err.Error(), "in state GOP")
	assert.NotEmpty(t, h.e.Status().Failure)
}

func TestOutOfOrderEventsAreViolations(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T, h *harness) error
	}{
		{"groups message in GOP", func(t *testing.T, h *harness) error {
			return h.e.HandleGroupsMessage(peerMessages(t, procB, memb(1, 1), []membership.ProcID{procB.ID})[0])
		}},
		{"transitional in GTRANS", func(t *testing.T, h *harness) error {
			require.NoError(t, h.e.HandleTransitional(view(memb(1, 1), procA)))
			return h.e.HandleTransitional(view(memb(1, 2), procA))
		}},
		{"regular in GGATHER", func(t *testing.T, h *harness) error {
			require.NoError(t, h.e.HandleTransitional(view(memb(1, 1), procA)))
			require.NoError(t, h.e.HandleRegular(view(memb(1, 2), procA, procB)))
			return h.e.HandleRegular(view(memb(1, 3), procA, procB))
		}},
		{"join while gathering", func(t *testing.T, h *harness) error {
			require.NoError(t, h.e.HandleTransitional(view(memb(1, 1), procA)))
			require.NoError(t, h.e.HandleRegular(view(memb(1, 2), procA, procB)))
			return h.e.Join("#u1#a", "g")
		}},
		{"transitional in GGT", func(t *testing.T, h *harness) error {
			require.NoError(t, h.e.HandleTransitional(view(memb(1, 1), procA)))
			require.NoError(t, h.e.HandleRegular(view(memb(1, 2), procA, procB)))
			require.NoError(t, h.e.HandleTransitional(view(memb(1, 3), procA)))
			return h.e.HandleTransitional(view(memb(1, 4), procA))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, procA, procA, procB)
			err := tc.run(t, h)
			require.Error(t, err)
			assert.True(t, errors.IsAssertionFailure(err))
			assert.Equal(t, err, h.e.Failure())
		})
	}
}

func TestTransportFailureStopsEngine(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.tr.err = errors.New("link down")
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 1), procA)))

	err := h.e.HandleRegular(view(memb(1, 2), procA, procB))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link down")
	assert.Equal(t, err, h.e.Failure())
}

func TestCascadeCompletesInGatherTransitional(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	r1 := memb(1, 6)
	require.NoError(t, h.e.HandleRegular(view(r1, procA, procB)))

	t2 := memb(1, 7)
	require.NoError(t, h.e.HandleTransitional(view(t2, procA)))
	assert.Equal(t, StateGatherTransitional, h.e.State())

	require.NoError(t, h.e.HandleGroupsMessage(h.tr.sent[0].msg))
	peerID := memb(procB.ID, 1)
	for _, msg := range peerMessages(t, procB, r1, []membership.ProcID{procB.ID},
		wire.Group{Name: "h", ID: membership.GroupID{MembID: peerID, Index: 1}, Daemons: []wire.Daemon{
			{ProcID: procB.ID, MembID: peerID, Members: []string{"#u9#b"}},
		}},
	) {
		require.NoError(t, h.e.HandleGroupsMessage(msg))
	}

	assert.Equal(t, StateTransitional, h.e.State(), "the deferred transitional runs right after GOP")
	assert.Equal(t, []membership.ProcID{procA.ID}, h.e.SyncedSet())
	hg, ok := h.e.Registry().Lookup("h")
	require.True(t, ok)
	assert.True(t, hg.Changed)
	assert.Equal(t, membership.GroupID{MembID: t2, Index: 1}, hg.ID)

	require.NoError(t, h.e.HandleRegular(view(memb(1, 8), procA)))
	assert.Equal(t, StateOperational, h.e.State())
	assert.Zero(t, h.e.Registry().Len(), "the departed daemon's group is collected")
}

func TestCascadeKeepsCompletedContributions(t *testing.T) {
	h := newHarness(t, procA, procA, procB, procC)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	r1 := memb(1, 6)
	require.NoError(t, h.e.HandleRegular(view(r1, procA, procB, procC)))
	require.NoError(t, h.e.HandleGroupsMessage(h.tr.sent[0].msg))

	peerID := memb(procB.ID, 1)
	for _, msg := range peerMessages(t, procB, r1, []membership.ProcID{procB.ID},
		wire.Group{Name: "h", ID: membership.GroupID{MembID: peerID, Index: 1}, Daemons: []wire.Daemon{
			{ProcID: procB.ID, MembID: peerID, Members: []string{"#u9#b"}},
		}},
	) {
		require.NoError(t, h.e.HandleGroupsMessage(msg))
	}
	assert.Equal(t, StateGathering, h.e.State())

	require.NoError(t, h.e.HandleTransitional(view(memb(1, 7), procA, procB)))
	r2 := memb(1, 8)
	require.NoError(t, h.e.HandleRegular(view(r2, procA, procB)))
	assert.Equal(t, StateGathering, h.e.State())

	require.Len(t, h.tr.sent, 2)
	m := decodeSent(t, h.tr.sent[1])
	assert.Equal(t, r2, m.MembID)
	assert.Equal(t, []membership.ProcID{procA.ID, procB.ID}, m.SyncedSet)
	assert.EqualValues(t, 2, m.SyncedSetSize)
	require.Len(t, m.Groups, 1)
	assert.Equal(t, "h", m.Groups[0].Name)

	require.NoError(t, h.e.HandleGroupsMessage(h.tr.sent[1].msg))
	assert.Equal(t, StateOperational, h.e.State())
	hg, _ := h.e.Registry().Lookup("h")
	assert.Equal(t, []string{"#u9#b"}, hg.Members())
}

func TestCascadeRestampsFreshBuffers(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	r1 := memb(1, 6)
	require.NoError(t, h.e.HandleRegular(view(r1, procA, procB)))
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 7), procA)))

	r2 := memb(1, 8)
	require.NoError(t, h.e.HandleRegular(view(r2, procA, procB)))
	require.Len(t, h.tr.sent, 2)

	first := decodeSent(t, h.tr.sent[0])
	second := decodeSent(t, h.tr.sent[1])
	assert.Equal(t, r1, first.MembID, "sent copies are not restamped")
	assert.Equal(t, r2, second.MembID)
	assert.Equal(t, first.Groups, second.Groups)
}

func TestHeavyweightJoinWhileChanged(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#b", "g", 0)

	trans := memb(1, 5)
	require.NoError(t, h.e.HandleTransitional(view(trans, procA)))
	before := len(h.notes.got)

	h.join(t, "#u3#a", "g", 13)
	got := h.notes.got[before:]
	require.Len(t, got, 3)

	heavy, joiner, transitional := got[0], got[1], got[2]
	assert.Equal(t, []Mailbox{11}, heavy.boxes)
	assert.Equal(t, CauseNetwork, heavy.n.Cause)
	assert.Equal(t, []string{"#u1#a", "#u3#a", "#u2#b"}, heavy.n.Members)
	assert.Equal(t, [][]string{{"#u1#a"}, {"#u2#b"}, {"#u3#a"}}, heavy.n.VSSets)
	assert.Equal(t, 0, heavy.n.LocalSet)
	assert.Equal(t, membership.GroupID{MembID: trans, Index: 2}, heavy.n.GroupID)

	assert.Equal(t, []Mailbox{13}, joiner.boxes)
	assert.Equal(t, 2, joiner.n.LocalSet)

	assert.Equal(t, KindTransitional, transitional.n.Kind)
	assert.ElementsMatch(t, []Mailbox{11, 13}, transitional.boxes)
}

func TestHeavyweightJoinKeepsEmptyDaemonSet(t *testing.T) {
	h := newHarness(t, procA, procA, procB, procC)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#b", "g", 0)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	before := len(h.notes.got)

	h.join(t, "#u3#c", "g", 0)
	got := h.notes.got[before:]
	require.Len(t, got, 2)

	heavy := got[0]
	assert.Equal(t, []Mailbox{11}, heavy.boxes)
	assert.Equal(t, CauseNetwork, heavy.n.Cause)
	assert.Equal(t, [][]string{{"#u1#a"}, {"#u2#b"}, {}, {"#u3#c"}}, heavy.n.VSSets)
	assert.Equal(t, 0, heavy.n.LocalSet)
	assert.Equal(t, KindTransitional, got[1].n.Kind)
}

func TestJoinFromPartitionedDaemonMarksChanged(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))

	g, _ := h.e.Registry().Lookup("g")
	assert.False(t, g.Changed)

	h.join(t, "#u2#b", "g", 0)
	assert.True(t, g.Changed)
	b, _ := g.Daemon(procB.ID)
	assert.True(t, b.Partitioned())

	require.NoError(t, h.e.HandleRegular(view(memb(1, 6), procA)))
	assert.Equal(t, []string{"#u1#a"}, g.Members())
}

func TestNewGroupInTransitionalTakesTransitionalID(t *testing.T) {
	h := newHarness(t, procA, procA)
	trans := memb(1, 5)
	require.NoError(t, h.e.HandleTransitional(view(trans, procA)))
	h.join(t, "#u1#a", "g", 11)

	g, _ := h.e.Registry().Lookup("g")
	assert.Equal(t, membership.GroupID{MembID: trans, Index: 1}, g.ID)
	a, _ := g.Daemon(procA.ID)
	assert.Equal(t, trans, a.MembID)
}

func TestLeaveNotifiesAndCollects(t *testing.T) {
	h := newHarness(t, procA, procA)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#a", "g", 12)
	before := len(h.notes.got)

	require.NoError(t, h.e.Leave("#u1#a", "g"))
	got := h.notes.got[before:]
	require.Len(t, got, 2)
	assert.Equal(t, KindSelfLeave, got[0].n.Kind)
	assert.Equal(t, []Mailbox{11}, got[0].boxes)
	assert.Equal(t, ServiceCausedByLeave, got[0].n.ServiceType())

	assert.Equal(t, []Mailbox{12}, got[1].boxes)
	assert.Equal(t, CauseLeave, got[1].n.Cause)
	assert.Equal(t, []string{"#u2#a"}, got[1].n.Members)
	assert.Equal(t, [][]string{{"#u1#a"}}, got[1].n.VSSets)
	assert.EqualValues(t, 3, got[1].n.GroupID.Index)
	assert.Equal(t, ServiceRegMembMess|ServiceCausedByLeave, got[1].n.ServiceType())

	require.NoError(t, h.e.Leave("#u2#a", "g"))
	assert.Equal(t, KindSelfLeave, h.notes.last(t).n.Kind)
	assert.Zero(t, h.e.Registry().Len())
	assert.Zero(t, h.e.NumLocal("g"))
}

func TestLeaveWhileChangedSendsHeavyweight(t *testing.T) {
	h := newHarness(t, procA, procA, procB, procC)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u4#a", "g", 14)
	h.join(t, "#u2#b", "g", 0)
	h.join(t, "#u3#c", "g", 0)
	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	before := len(h.notes.got)

	require.NoError(t, h.e.Leave("#u4#a", "g"))
	got := h.notes.got[before:]
	require.Len(t, got, 3)
	assert.Equal(t, KindSelfLeave, got[0].n.Kind)
	assert.Equal(t, CauseNetwork, got[1].n.Cause)
	assert.Equal(t, [][]string{{"#u1#a"}, {"#u2#b"}, {"#u3#c"}}, got[1].n.VSSets, "each partitioned daemon stands alone")
	assert.Equal(t, []Mailbox{11}, got[1].boxes)
	assert.Equal(t, KindTransitional, got[2].n.Kind)
}

func TestKillRemovesFromEveryGroup(t *testing.T) {
	h := newHarness(t, procA, procA)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#a", "g", 12)
	h.join(t, "#u1#a", "h", 11)
	before := len(h.notes.got)

	require.NoError(t, h.e.Kill("#u1#a"))
	got := h.notes.got[before:]
	require.Len(t, got, 1, "h is collected without a notification")
	assert.Equal(t, CauseDisconnect, got[0].n.Cause)
	assert.Equal(t, []Mailbox{12}, got[0].boxes)
	assert.Equal(t, ServiceRegMembMess|ServiceCausedByDisconnect, got[0].n.ServiceType())

	_, ok := h.e.Registry().Lookup("h")
	assert.False(t, ok)
	assert.Equal(t, 1, h.e.NumLocal("g"))
}

func TestRefusedRequests(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)

	assert.ErrorIs(t, h.e.Join("#u1#a", "g"), ErrAlreadyMember)
	assert.ErrorIs(t, h.e.Join("#u1#zz", "g"), ErrUnknownDaemon)
	assert.ErrorIs(t, h.e.Join("nohash", "g"), ErrInvalidName)
	assert.ErrorIs(t, h.e.Join("#u1#a", ""), ErrInvalidName)
	assert.ErrorIs(t, h.e.Leave("#u1#a", "nope"), ErrNoSuchGroup)
	assert.ErrorIs(t, h.e.Leave("#u5#a", "g"), ErrNoSuchMember)
	assert.ErrorIs(t, h.e.Leave("#u5#b", "g"), ErrNoSuchMember)
	assert.ErrorIs(t, h.e.Kill("#u1#zz"), ErrUnknownDaemon)

	assert.NoError(t, h.e.Failure())
	g, _ := h.e.Registry().Lookup("g")
	assert.EqualValues(t, 1, g.ID.Index, "refusals do not bump the index")
}

func TestLocalMailboxes(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#a", "g", 12)
	h.join(t, "#u1#a", "h", 11)
	h.join(t, "#u9#b", "h", 0)
	h.sess["#u3#a"] = 13

	boxes, err := h.e.LocalMailboxes("g", "h", "#u3#a", "#u9#b", "#u7#a", "nope")
	require.NoError(t, err)
	assert.Equal(t, []Mailbox{11, 12, 13}, boxes)

	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	boxes, err = h.e.LocalMailboxes("h")
	require.NoError(t, err)
	assert.Equal(t, []Mailbox{11}, boxes)
}

func TestReloadConfiguration(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#b", "g", 0)

	require.NoError(t, h.e.ReloadConfiguration(testRoster(t, procB, procA, procC)))
	g, _ := h.e.Registry().Lookup("g")
	assert.Equal(t, []string{"#u2#b", "#u1#a"}, g.Members())

	assert.ErrorIs(t, h.e.ReloadConfiguration(testRoster(t, procB, procC)), ErrRosterMissing)

	require.NoError(t, h.e.HandleTransitional(view(memb(1, 5), procA)))
	assert.ErrorIs(t, h.e.ReloadConfiguration(testRoster(t, procA, procB)), ErrNotOperational)
	assert.NoError(t, h.e.Failure())
}

func TestSnapshotAndStatus(t *testing.T) {
	h := newHarness(t, procA, procA, procB)
	h.join(t, "#u1#a", "g", 11)
	h.join(t, "#u2#b", "g", 0)
	h.join(t, "#u3#a", "h", 13)

	snap := h.e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "g", snap[0].Name)
	assert.Equal(t, 2, snap[0].NumMembers)
	assert.Equal(t, 1, snap[0].NumLocal)
	require.Len(t, snap[0].Daemons, 2)
	assert.Equal(t, "b", snap[0].Daemons[1].Name)

	_, ok := h.e.SnapshotGroup("missing")
	assert.False(t, ok)

	st := h.e.Status()
	assert.Equal(t, "GOP", st.State)
	assert.True(t, st.Leader)
	assert.Equal(t, 2, st.Groups)

	stats := h.e.Stats()
	assert.Equal(t, Stats{Groups: 2, Members: 3, Mailboxes: 2, SyncedSet: 1}, stats)
}
