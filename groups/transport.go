package groups

import (
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/wire"
)

// Queue selects the outbound queue local client traffic goes through.
type Queue uint8

const (
	QueueNormal Queue = iota + 1
	QueueGroups
)

func (q Queue) String() string {
	if q == QueueGroups {
		return "groups"
	}
	return "normal"
}

// Priority is the threshold below which local client traffic is held back.
type Priority uint8

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
)

func (p Priority) String() string {
	if p == PriorityMedium {
		return "medium"
	}
	return "low"
}

// Destination addresses a control message to one daemon or to all of them.
type Destination struct {
	Proc membership.ProcID
	All  bool
}

// Everyone addresses every daemon in the current view, the sender included.
var Everyone = Destination{All: true}

// Transport carries control messages between daemons. Messages sent to
// Everyone must be delivered in the same total order to every daemon of the
// view, including the sender, and never re-entrantly from SendControl.
type Transport interface {
	SendControl(dest Destination, msg []byte, class wire.Class) error
	SetOutboundQueue(q Queue)
	SetPriorityThreshold(p Priority)
}

// Notifier delivers membership notifications to local sessions.
type Notifier interface {
	NotifyLocal(mailboxes []Mailbox, n Notification)
}

// Sessions resolves the mailbox of a local session by its private name.
type Sessions interface {
	Mailbox(privateName string) (Mailbox, bool)
}
