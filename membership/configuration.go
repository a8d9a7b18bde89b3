package membership

import (
	"fmt"
)

// Proc is a daemon named in the configuration roster.
type Proc struct {
	ID   ProcID
	Name string
}

// Configuration is the ordered roster of daemons. Its order defines the
// canonical daemon ordering used everywhere membership state is iterated.
type Configuration struct {
	procs  []Proc
	byID   map[ProcID]int
	byName map[string]int
}

// NewConfiguration builds a roster from procs in declaration order.
func NewConfiguration(procs []Proc) (*Configuration, error) {
	c := &Configuration{
		procs:  make([]Proc, 0, len(procs)),
		byID:   make(map[ProcID]int, len(procs)),
		byName: make(map[string]int, len(procs)),
	}
	for _, p := range procs {
		if p.Name == "" {
			return nil, fmt.Errorf("proc %s has no name", p.ID)
		}
		if len(p.Name) >= MaxProcName {
			return nil, fmt.Errorf("proc name %q exceeds %d bytes", p.Name, MaxProcName-1)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate proc id %s", p.ID)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate proc name %q", p.Name)
		}
		c.byID[p.ID] = len(c.procs)
		c.byName[p.Name] = len(c.procs)
		c.procs = append(c.procs, p)
	}
	return c, nil
}

// Procs returns a copy of the roster in order.
func (c *Configuration) Procs() []Proc {
	return append([]Proc(nil), c.procs...)
}

// NumProcs returns the roster size.
func (c *Configuration) NumProcs() int {
	return len(c.procs)
}

// Index returns the roster position of id, or -1 when absent.
func (c *Configuration) Index(id ProcID) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// Contains reports whether id is in the roster.
func (c *Configuration) Contains(id ProcID) bool {
	_, ok := c.byID[id]
	return ok
}

// ProcByID looks up a roster entry by id.
func (c *Configuration) ProcByID(id ProcID) (Proc, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Proc{}, false
	}
	return c.procs[i], true
}

// ProcByName looks up a roster entry by daemon name.
func (c *Configuration) ProcByName(name string) (Proc, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Proc{}, false
	}
	return c.procs[i], true
}

// CompareProcs is the canonical daemon comparator. Procs present in the roster
// compare by roster position and sort before absent procs; absent procs compare
// by their unsigned numeric id.
func (c *Configuration) CompareProcs(a, b ProcID) int {
	ia, ib := c.Index(a), c.Index(b)
	switch {
	case ia >= 0 && ib >= 0:
		return ia - ib
	case ia < 0 && ib < 0:
		ua, ub := uint32(a), uint32(b)
		switch {
		case ua < ub:
			return -1
		case ua > ub:
			return 1
		}
		return 0
	case ia < 0:
		return 1
	}
	return -1
}

// View is a membership delivered by the transport: the set of reachable daemons
// and the id of the epoch they agreed on.
type View struct {
	ID    MembershipID
	Procs []ProcID
}

// NewView builds a view over the given daemons.
func NewView(id MembershipID, procs ...ProcID) View {
	return View{ID: id, Procs: append([]ProcID(nil), procs...)}
}

// Contains reports whether the view includes id.
func (v View) Contains(id ProcID) bool {
	for _, p := range v.Procs {
		if p == id {
			return true
		}
	}
	return false
}

// NumProcs returns the number of daemons in the view.
func (v View) NumProcs() int {
	return len(v.Procs)
}
