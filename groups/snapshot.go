package groups

import (
	"github.com/maxpert/groupd/membership"
)

// DaemonSnapshot is one daemon's part of a group.
type DaemonSnapshot struct {
	ProcID      membership.ProcID       `json:"proc_id"`
	Name        string                  `json:"name,omitempty"`
	MembID      membership.MembershipID `json:"membership_id"`
	Partitioned bool                    `json:"partitioned"`
	Members     []string                `json:"members"`
}

// GroupSnapshot is a point-in-time copy of a group.
type GroupSnapshot struct {
	Name       string             `json:"name"`
	ID         membership.GroupID `json:"group_id"`
	Changed    bool               `json:"changed"`
	NumMembers int                `json:"num_members"`
	NumLocal   int                `json:"num_local"`
	Daemons    []DaemonSnapshot   `json:"daemons"`
}

// Status summarizes the engine for introspection.
type Status struct {
	Daemon     string                  `json:"daemon"`
	State      string                  `json:"state"`
	Regular    membership.MembershipID `json:"regular_id"`
	RegularSet []membership.ProcID     `json:"regular_procs"`
	SyncedSet  []membership.ProcID     `json:"synced_set"`
	Leader     bool                    `json:"leader"`
	Groups     int                     `json:"groups"`
	Failure    string                  `json:"failure,omitempty"`
}

// Status reports the engine's protocol position.
func (e *Engine) Status() Status {
	s := Status{
		Daemon:     e.self.Name,
		State:      e.state.String(),
		Regular:    e.regular.ID,
		RegularSet: append([]membership.ProcID(nil), e.regular.Procs...),
		SyncedSet:  e.synced.Procs(),
		Leader:     e.synced.IsLeader(e.self.ID),
		Groups:     e.registry.Len(),
	}
	if e.failure != nil {
		s.Failure = e.failure.Error()
	}
	return s
}

// Snapshot copies every group in name order.
func (e *Engine) Snapshot() []GroupSnapshot {
	groups := e.registry.Groups()
	out := make([]GroupSnapshot, 0, len(groups))
	for _, g := range groups {
		out = append(out, e.snapshotGroup(g))
	}
	return out
}

// SnapshotGroup copies one group.
func (e *Engine) SnapshotGroup(name string) (GroupSnapshot, bool) {
	g, ok := e.registry.Lookup(name)
	if !ok {
		return GroupSnapshot{}, false
	}
	return e.snapshotGroup(g), true
}

func (e *Engine) snapshotGroup(g *Group) GroupSnapshot {
	gs := GroupSnapshot{
		Name:       g.Name,
		ID:         g.ID,
		Changed:    g.Changed,
		NumMembers: g.NumMembers(),
		NumLocal:   len(g.mailboxes),
	}
	for _, d := range g.Daemons() {
		ds := DaemonSnapshot{
			ProcID:      d.ProcID,
			MembID:      d.MembID,
			Partitioned: d.Partitioned(),
			Members:     d.Members(),
		}
		if p, ok := e.conf.ProcByID(d.ProcID); ok {
			ds.Name = p.Name
		}
		gs.Daemons = append(gs.Daemons, ds)
	}
	return gs
}

// Stats counts registry contents for metrics.
type Stats struct {
	Groups    int
	Members   int
	Mailboxes int
	SyncedSet int
}

// Stats walks the registry once.
func (e *Engine) Stats() Stats {
	s := Stats{Groups: e.registry.Len(), SyncedSet: e.synced.Len()}
	for _, g := range e.registry.Groups() {
		s.Members += g.NumMembers()
		s.Mailboxes += len(g.mailboxes)
	}
	return s
}
