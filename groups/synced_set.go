package groups

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/membership"
)

// SyncedSet is the set of daemons known to hold identical group state to
// ours. It stays sorted by roster position and its first entry is the leader.
type SyncedSet struct {
	procs []membership.ProcID
}

// NewSyncedSet returns the initial set holding only self.
func NewSyncedSet(self membership.ProcID) *SyncedSet {
	return &SyncedSet{procs: []membership.ProcID{self}}
}

// Procs returns a copy of the members in order.
func (s *SyncedSet) Procs() []membership.ProcID {
	return slices.Clone(s.procs)
}

// Len returns the set size.
func (s *SyncedSet) Len() int {
	return len(s.procs)
}

// Leader returns the representative that speaks for the set.
func (s *SyncedSet) Leader() membership.ProcID {
	return s.procs[0]
}

// IsLeader reports whether id is the representative.
func (s *SyncedSet) IsLeader(id membership.ProcID) bool {
	return len(s.procs) > 0 && s.procs[0] == id
}

// Contains reports whether id is in the set.
func (s *SyncedSet) Contains(id membership.ProcID) bool {
	return slices.Contains(s.procs, id)
}

// Union merges other into the set in roster order. Every id must be in the
// roster and the two sets must be disjoint; a daemon accounted for twice
// means a peer or this engine broke the protocol.
func (s *SyncedSet) Union(conf *membership.Configuration, other []membership.ProcID) error {
	theirs := slices.Clone(other)
	for _, id := range theirs {
		if !conf.Contains(id) {
			return errors.AssertionFailedf("synced set union: proc %s not in configuration", id)
		}
	}
	for _, id := range s.procs {
		if !conf.Contains(id) {
			return errors.AssertionFailedf("synced set union: own proc %s not in configuration", id)
		}
	}
	slices.SortFunc(theirs, func(a, b membership.ProcID) int {
		return conf.Index(a) - conf.Index(b)
	})
	for k := 1; k < len(theirs); k++ {
		if theirs[k] == theirs[k-1] {
			return errors.AssertionFailedf("synced set union: proc %s listed twice", theirs[k])
		}
	}

	merged := make([]membership.ProcID, 0, len(s.procs)+len(theirs))
	i, j := 0, 0
	for i < len(s.procs) || j < len(theirs) {
		switch {
		case j == len(theirs):
			merged = append(merged, s.procs[i])
			i++
		case i == len(s.procs):
			merged = append(merged, theirs[j])
			j++
		default:
			li, ri := conf.Index(s.procs[i]), conf.Index(theirs[j])
			switch {
			case li < ri:
				merged = append(merged, s.procs[i])
				i++
			case ri < li:
				merged = append(merged, theirs[j])
				j++
			default:
				return errors.AssertionFailedf("synced set union: proc %s present on both sides", s.procs[i])
			}
		}
	}
	s.procs = merged
	return nil
}

// Shrink drops every id absent from v and reports whether any was dropped.
func (s *SyncedSet) Shrink(v membership.View) bool {
	before := len(s.procs)
	s.procs = slices.DeleteFunc(s.procs, func(id membership.ProcID) bool {
		return !v.Contains(id)
	})
	return len(s.procs) != before
}
