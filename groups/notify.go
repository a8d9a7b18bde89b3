package groups

import (
	"slices"

	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/telemetry"
)

// Kind classifies a membership notification.
type Kind uint8

const (
	KindRegular Kind = iota + 1
	KindTransitional
	KindSelfLeave
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindTransitional:
		return "transitional"
	case KindSelfLeave:
		return "self_leave"
	}
	return "unknown"
}

// Cause says why a regular membership was delivered.
type Cause uint8

const (
	CauseNone Cause = iota
	CauseJoin
	CauseLeave
	CauseDisconnect
	CauseNetwork
)

func (c Cause) String() string {
	switch c {
	case CauseJoin:
		return "join"
	case CauseLeave:
		return "leave"
	case CauseDisconnect:
		return "disconnect"
	case CauseNetwork:
		return "network"
	}
	return "none"
}

// Service type bits understood by clients of the session protocol.
const (
	ServiceCausedByJoin       uint32 = 0x00000100
	ServiceCausedByLeave      uint32 = 0x00000200
	ServiceCausedByDisconnect uint32 = 0x00000400
	ServiceCausedByNetwork    uint32 = 0x00000800
	ServiceRegMembMess        uint32 = 0x00001000
	ServiceTransitionMess     uint32 = 0x00002000
)

// Notification is a membership view delivered to local members of a group.
type Notification struct {
	Group   string             `json:"group"`
	Kind    Kind               `json:"kind"`
	Cause   Cause              `json:"cause"`
	GroupID membership.GroupID `json:"group_id"`
	// Members lists every member ordered by daemon, then by name.
	Members []string `json:"members,omitempty"`
	// VSSets partitions members into sets that moved to this view together.
	VSSets [][]string `json:"vs_sets,omitempty"`
	// LocalSet indexes the set of the receiving member, or -1.
	LocalSet int `json:"local_set"`
}

// ServiceType maps the notification onto session protocol type bits.
func (n Notification) ServiceType() uint32 {
	switch n.Kind {
	case KindTransitional:
		return ServiceTransitionMess
	case KindSelfLeave:
		return ServiceCausedByLeave
	}
	t := ServiceRegMembMess
	switch n.Cause {
	case CauseJoin:
		t |= ServiceCausedByJoin
	case CauseLeave:
		t |= ServiceCausedByLeave
	case CauseDisconnect:
		t |= ServiceCausedByDisconnect
	case CauseNetwork:
		t |= ServiceCausedByNetwork
	}
	return t
}

func (e *Engine) notify(boxes []Mailbox, n Notification) {
	if len(boxes) == 0 {
		return
	}
	telemetry.NotificationsTotal.With(n.Kind.String()).Inc()
	e.notifier.NotifyLocal(boxes, n)
}

// sendLightweight tells local members about a single join, leave or
// disconnect in a group with no partitioned daemons.
func (e *Engine) sendLightweight(g *Group, cause Cause, who string) {
	e.notify(g.Mailboxes(), Notification{
		Group:    g.Name,
		Kind:     KindRegular,
		Cause:    cause,
		GroupID:  g.ID,
		Members:  g.Members(),
		VSSets:   [][]string{{who}},
		LocalSet: 0,
	})
}

// sendTransitional signals that the group's view is about to change.
func (e *Engine) sendTransitional(g *Group) {
	e.notify(g.Mailboxes(), Notification{
		Group:    g.Name,
		Kind:     KindTransitional,
		GroupID:  g.ID,
		LocalSet: -1,
	})
}

func (e *Engine) sendSelfLeave(g *Group, box Mailbox) {
	e.notify([]Mailbox{box}, Notification{
		Group:    g.Name,
		Kind:     KindSelfLeave,
		Cause:    CauseLeave,
		GroupID:  g.ID,
		LocalSet: -1,
	})
}

// vsSets splits a group's members into virtual synchrony sets. Daemons are
// ordered by membership id, then roster order; daemons sharing an established
// id share a set and each partitioned daemon gets its own. A joiner named
// while the group is changed is moved to a trailing singleton. It returns the
// sets, the index of this daemon's set and the index of the joiner's set.
func (e *Engine) vsSets(g *Group, joiner string) ([][]string, int, int) {
	daemons := g.Daemons()
	slices.SortStableFunc(daemons, func(a, b *DaemonRecord) int {
		if c := a.MembID.Compare(b.MembID); c != 0 {
			return c
		}
		return e.conf.CompareProcs(a.ProcID, b.ProcID)
	})

	var (
		sets     [][]string
		local    = -1
		cur      membership.MembershipID
		foundJnr = false
	)
	for _, d := range daemons {
		if len(sets) == 0 || d.MembID.IsUnknown() || !cur.Equal(d.MembID) {
			sets = append(sets, []string{})
			cur = d.MembID
		}
		if d.ProcID == e.self.ID {
			local = len(sets) - 1
		}
		for _, m := range d.Members() {
			if joiner != "" && !foundJnr && m == joiner {
				foundJnr = true
				continue
			}
			sets[len(sets)-1] = append(sets[len(sets)-1], m)
		}
	}

	// A daemon whose only member is the joiner keeps its set, empty.
	joinerSet := -1
	if joiner != "" && foundJnr {
		sets = append(sets, []string{joiner})
		joinerSet = len(sets) - 1
	}
	return sets, local, joinerSet
}

// sendHeavyweight delivers a network-caused view carrying virtual synchrony
// sets. A local joiner receives the same view pointing at its own set.
func (e *Engine) sendHeavyweight(g *Group, joiner string, joinerBox *Mailbox) {
	sets, local, joinerSet := e.vsSets(g, joiner)
	n := Notification{
		Group:    g.Name,
		Kind:     KindRegular,
		Cause:    CauseNetwork,
		GroupID:  g.ID,
		Members:  g.Members(),
		VSSets:   sets,
		LocalSet: local,
	}

	boxes := g.Mailboxes()
	if joinerBox != nil {
		boxes = slices.DeleteFunc(boxes, func(b Mailbox) bool { return b == *joinerBox })
	}
	e.notify(boxes, n)

	if joinerBox != nil {
		jn := n
		jn.LocalSet = joinerSet
		e.notify([]Mailbox{*joinerBox}, jn)
	}
}
