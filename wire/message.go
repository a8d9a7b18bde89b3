// Package wire implements the GROUPS control message exchanged by daemons
// while they reconcile group state after a membership change.
package wire

import (
	"errors"

	"github.com/maxpert/groupd/membership"
)

// Message type bits carried in the first header word.
const (
	TypeReliable   uint32 = 0x00000002
	TypeAgreed     uint32 = 0x00000010
	TypeGroupsMess uint32 = 0x00080000

	// EndianTag is set in the type word when the sender wrote little-endian
	// integers. The mask reads the same in either byte order.
	EndianTag uint32 = 0x80000080
)

const (
	// HeaderSize is type(4) + sender(32) + dataLen(4).
	HeaderSize = 4 + membership.MaxGroupName + 4

	membIDSize  = 8
	groupIDSize = membIDSize + 4

	// GroupInfoSize is the space a group needs before any of its daemons.
	GroupInfoSize = membership.MaxGroupName + groupIDSize + 2 + 2
	// DaemonInfoSize is the fixed part of one daemon record, before member names.
	DaemonInfoSize = 4 + membIDSize + 2

	// DefaultCapacity bounds a complete message, header included.
	DefaultCapacity = 100000

	// maxSenderName leaves the last four bytes of the sender field for the synced set size.
	maxSenderName = membership.MaxGroupName - 4
)

var (
	ErrTruncated       = errors.New("groups message truncated")
	ErrNotGroups       = errors.New("not a groups message")
	ErrRecordTooLarge  = errors.New("record does not fit in an empty buffer")
	ErrSenderName      = errors.New("sender name does not fit header")
	ErrCapacityTooLow  = errors.New("buffer capacity below minimum")
	ErrTooManyEntries  = errors.New("count exceeds wire field")
	ErrMalformedString = errors.New("malformed fixed-width name")
)

// Class is the delivery guarantee a message is sent with.
type Class uint8

const (
	Reliable Class = iota + 1
	Agreed
)

func (c Class) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Agreed:
		return "agreed"
	}
	return "unknown"
}

// Daemon is one daemon's record within a group: its id, the epoch the sender
// attributes to it, and its members in name order.
type Daemon struct {
	ProcID  membership.ProcID
	MembID  membership.MembershipID
	Members []string
}

// Size is the encoded size of the record.
func (d Daemon) Size() int {
	return DaemonInfoSize + len(d.Members)*membership.MaxGroupName
}

// Group is a group's serialized state as seen by the sender.
type Group struct {
	Name    string
	ID      membership.GroupID
	Changed bool
	Daemons []Daemon
}

// Message is one decoded GROUPS message.
type Message struct {
	Class  Class
	Sender string
	// SyncedSetSize is the number of daemons the sender's contribution accounts for.
	SyncedSetSize uint32
	MembID        membership.MembershipID
	First         bool
	// SyncedSet is only present on the first message of a sequence.
	SyncedSet []membership.ProcID
	Groups    []Group
}
