package membership

import (
	"fmt"
	"net/netip"
)

// ProcID identifies a daemon. It is the daemon's IPv4 address packed into an int32.
type ProcID int32

// ProcIDFromAddr packs an IPv4 address into a ProcID.
func ProcIDFromAddr(addr netip.Addr) (ProcID, error) {
	if !addr.Is4() {
		return 0, fmt.Errorf("address %s is not IPv4", addr)
	}
	b := addr.As4()
	return ProcID(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))), nil
}

// Addr unpacks the ProcID into its IPv4 address.
func (p ProcID) Addr() netip.Addr {
	u := uint32(p)
	return netip.AddrFrom4([4]byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)})
}

func (p ProcID) String() string {
	return p.Addr().String()
}

// MarshalText renders the id as its dotted address.
func (p ProcID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a dotted IPv4 address.
func (p *ProcID) UnmarshalText(b []byte) error {
	addr, err := netip.ParseAddr(string(b))
	if err != nil {
		return err
	}
	id, err := ProcIDFromAddr(addr)
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// MembershipID names one agreed membership epoch: the coordinator that installed it
// and a logical time. The zero value is a valid id; Unknown marks a partitioned daemon.
type MembershipID struct {
	ProcID ProcID
	Time   int32
}

// Unknown is the sentinel membership id of a daemon whose epoch is not known.
var Unknown = MembershipID{ProcID: -1, Time: -1}

// IsUnknown reports whether m is the Unknown sentinel.
func (m MembershipID) IsUnknown() bool {
	return m.ProcID == -1
}

// Compare orders membership ids. Unknown sorts after every real id and two
// unknown ids are equal; real ids compare by proc id then time.
func (m MembershipID) Compare(o MembershipID) int {
	switch mu, ou := m.IsUnknown(), o.IsUnknown(); {
	case mu && ou:
		return 0
	case mu:
		return 1
	case ou:
		return -1
	}
	if m.ProcID != o.ProcID {
		if m.ProcID < o.ProcID {
			return -1
		}
		return 1
	}
	switch {
	case m.Time < o.Time:
		return -1
	case m.Time > o.Time:
		return 1
	}
	return 0
}

// Equal reports whether both ids name the same epoch.
func (m MembershipID) Equal(o MembershipID) bool {
	return m.Compare(o) == 0
}

func (m MembershipID) String() string {
	if m.IsUnknown() {
		return "unknown"
	}
	return fmt.Sprintf("%s/%d", m.ProcID, m.Time)
}

// GroupID is the identifier carried on every group membership notification.
// Index counts membership-affecting operations within one epoch.
type GroupID struct {
	MembID MembershipID
	Index  int32
}

// Equal reports whether both group ids are identical.
func (g GroupID) Equal(o GroupID) bool {
	return g.MembID.Equal(o.MembID) && g.Index == o.Index
}

func (g GroupID) String() string {
	return fmt.Sprintf("%s#%d", g.MembID, g.Index)
}
