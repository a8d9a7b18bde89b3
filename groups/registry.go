package groups

import (
	"github.com/google/btree"
	"github.com/maxpert/groupd/membership"
)

const btreeDegree = 8

// Mailbox identifies the delivery endpoint of a local session.
type Mailbox uint64

// DaemonRecord holds the members one daemon contributes to a group.
type DaemonRecord struct {
	ProcID  membership.ProcID
	MembID  membership.MembershipID
	members *btree.BTreeG[string]
}

func newDaemonRecord(id membership.ProcID, membID membership.MembershipID) *DaemonRecord {
	return &DaemonRecord{
		ProcID:  id,
		MembID:  membID,
		members: btree.NewOrderedG[string](btreeDegree),
	}
}

// Partitioned reports whether this daemon is cut off from us.
func (d *DaemonRecord) Partitioned() bool {
	return d.MembID.IsUnknown()
}

// Members returns the member names in order.
func (d *DaemonRecord) Members() []string {
	out := make([]string, 0, d.members.Len())
	d.members.Ascend(func(m string) bool {
		out = append(out, m)
		return true
	})
	return out
}

// NumMembers returns how many members this daemon holds.
func (d *DaemonRecord) NumMembers() int {
	return d.members.Len()
}

// HasMember reports whether name is a member through this daemon.
func (d *DaemonRecord) HasMember(name string) bool {
	return d.members.Has(name)
}

// Group is a named multicast destination and its current membership.
type Group struct {
	Name    string
	ID      membership.GroupID
	Changed bool

	numMembers int
	daemons    *btree.BTreeG[*DaemonRecord]
	mailboxes  []Mailbox
	local      map[string]Mailbox
}

// NumMembers returns the member count across all daemons.
func (g *Group) NumMembers() int {
	return g.numMembers
}

// Daemon looks up the record for id.
func (g *Group) Daemon(id membership.ProcID) (*DaemonRecord, bool) {
	return g.daemons.Get(&DaemonRecord{ProcID: id})
}

// Daemons returns the daemon records in roster order.
func (g *Group) Daemons() []*DaemonRecord {
	out := make([]*DaemonRecord, 0, g.daemons.Len())
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Members lists every member, ordered by daemon then by name.
func (g *Group) Members() []string {
	out := make([]string, 0, g.numMembers)
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		d.members.Ascend(func(m string) bool {
			out = append(out, m)
			return true
		})
		return true
	})
	return out
}

// Mailboxes returns a copy of the local mailboxes.
func (g *Group) Mailboxes() []Mailbox {
	return append([]Mailbox(nil), g.mailboxes...)
}

// HasPartitioned reports whether any daemon record is partitioned.
func (g *Group) HasPartitioned() bool {
	found := false
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		found = d.Partitioned()
		return !found
	})
	return found
}

func (g *Group) addMailbox(member string, m Mailbox) {
	if g.local == nil {
		g.local = make(map[string]Mailbox)
	}
	g.local[member] = m
	g.mailboxes = append(g.mailboxes, m)
}

// LocalMailbox returns the mailbox of a local member.
func (g *Group) LocalMailbox(member string) (Mailbox, bool) {
	m, ok := g.local[member]
	return m, ok
}

// removeMailbox swap-removes the mailbox of member and returns it.
func (g *Group) removeMailbox(member string) (Mailbox, bool) {
	m, ok := g.local[member]
	if !ok {
		return 0, false
	}
	delete(g.local, member)
	for i, box := range g.mailboxes {
		if box == m {
			last := len(g.mailboxes) - 1
			g.mailboxes[i] = g.mailboxes[last]
			g.mailboxes = g.mailboxes[:last]
			break
		}
	}
	return m, true
}

// updateDaemonMembIDs gives every established daemon the group's epoch.
func (g *Group) updateDaemonMembIDs() {
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		if !d.Partitioned() {
			d.MembID = g.ID.MembID
		}
		return true
	})
}

// Registry stores every known group. Groups iterate by name, daemons within a
// group by the roster comparator, and members by name.
type Registry struct {
	conf   *membership.Configuration
	groups *btree.BTreeG[*Group]
}

// NewRegistry creates an empty registry ordered by conf.
func NewRegistry(conf *membership.Configuration) *Registry {
	return &Registry{
		conf: conf,
		groups: btree.NewG(btreeDegree, func(a, b *Group) bool {
			return a.Name < b.Name
		}),
	}
}

func (r *Registry) newDaemonTree() *btree.BTreeG[*DaemonRecord] {
	conf := r.conf
	return btree.NewG(btreeDegree, func(a, b *DaemonRecord) bool {
		return conf.CompareProcs(a.ProcID, b.ProcID) < 0
	})
}

// Configuration returns the roster the registry is ordered by.
func (r *Registry) Configuration() *membership.Configuration {
	return r.conf
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	return r.groups.Len()
}

// Lookup finds a group by name.
func (r *Registry) Lookup(name string) (*Group, bool) {
	return r.groups.Get(&Group{Name: name})
}

// Groups returns every group in name order. The slice is a snapshot, so
// callers may remove groups while walking it.
func (r *Registry) Groups() []*Group {
	out := make([]*Group, 0, r.groups.Len())
	r.groups.Ascend(func(g *Group) bool {
		out = append(out, g)
		return true
	})
	return out
}

// GetOrCreateGroup returns the named group, creating an unchanged empty one
// with the given id when absent.
func (r *Registry) GetOrCreateGroup(name string, id membership.GroupID) (*Group, bool) {
	if g, ok := r.Lookup(name); ok {
		return g, false
	}
	g := &Group{
		Name:    name,
		ID:      id,
		daemons: r.newDaemonTree(),
	}
	r.groups.ReplaceOrInsert(g)
	return g, true
}

// GetOrCreateDaemon returns the record for id in g, creating one with membID
// when absent.
func (r *Registry) GetOrCreateDaemon(g *Group, id membership.ProcID, membID membership.MembershipID) (*DaemonRecord, bool) {
	if d, ok := g.Daemon(id); ok {
		return d, false
	}
	d := newDaemonRecord(id, membID)
	g.daemons.ReplaceOrInsert(d)
	return d, true
}

// AddMember adds name under d. It reports false when name is already there.
func (r *Registry) AddMember(g *Group, d *DaemonRecord, name string) bool {
	if _, replaced := d.members.ReplaceOrInsert(name); replaced {
		return false
	}
	g.numMembers++
	return true
}

// RemoveMember removes name from d, dropping d once it is empty. It reports
// whether the member existed. Callers drop the group when it empties.
func (r *Registry) RemoveMember(g *Group, d *DaemonRecord, name string) bool {
	if _, ok := d.members.Delete(name); !ok {
		return false
	}
	g.numMembers--
	if d.members.Len() == 0 {
		g.daemons.Delete(d)
	}
	return true
}

// RemoveDaemon drops d and all its members from g.
func (r *Registry) RemoveDaemon(g *Group, d *DaemonRecord) {
	if _, ok := g.daemons.Delete(d); ok {
		g.numMembers -= d.members.Len()
	}
}

// RemoveIfEmpty deletes g when it has no members left and reports whether it did.
func (r *Registry) RemoveIfEmpty(g *Group) bool {
	if g.numMembers > 0 {
		return false
	}
	r.groups.Delete(g)
	return true
}

// EliminatePartitionedDaemons removes daemon records that are partitioned
// from us. With a nil cascade a record is partitioned when its membership id
// is unknown; otherwise it is partitioned when absent from the cascade view.
// It reports whether anything was removed.
func (r *Registry) EliminatePartitionedDaemons(g *Group, cascade *membership.View) bool {
	var doomed []*DaemonRecord
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		if cascade != nil {
			if !cascade.Contains(d.ProcID) {
				doomed = append(doomed, d)
			}
		} else if d.Partitioned() {
			doomed = append(doomed, d)
		}
		return true
	})
	for _, d := range doomed {
		r.RemoveDaemon(g, d)
	}
	return len(doomed) > 0
}

// CheckChangedByCascade reports, without mutating, whether any daemon of g is
// missing from trans.
func (r *Registry) CheckChangedByCascade(g *Group, trans membership.View) bool {
	changed := false
	g.daemons.Ascend(func(d *DaemonRecord) bool {
		changed = !trans.Contains(d.ProcID)
		return !changed
	})
	return changed
}

// Reorder switches the registry to a new roster and re-sorts every group's
// daemon records under it.
func (r *Registry) Reorder(conf *membership.Configuration) {
	r.conf = conf
	r.groups.Ascend(func(g *Group) bool {
		old := g.daemons
		g.daemons = r.newDaemonTree()
		old.Ascend(func(d *DaemonRecord) bool {
			g.daemons.ReplaceOrInsert(d)
			return true
		})
		return true
	})
}
