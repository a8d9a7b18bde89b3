package publisher

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/groupd/groups"
)

// ConvertNotification converts a delivered notification to a MembershipEvent.
// Every daemon delivering the same view derives the same ID.
func ConvertNotification(daemon string, recipients int, n groups.Notification, tsMillis int64) MembershipEvent {
	event := MembershipEvent{
		Daemon:     daemon,
		Group:      n.Group,
		Kind:       n.Kind.String(),
		Cause:      n.Cause.String(),
		Service:    n.ServiceType(),
		MembProc:   n.GroupID.MembID.ProcID.String(),
		MembTime:   n.GroupID.MembID.Time,
		Index:      n.GroupID.Index,
		Members:    n.Members,
		VSSets:     n.VSSets,
		LocalSet:   n.LocalSet,
		Recipients: recipients,
		TS:         tsMillis,
	}
	event.ID = eventID(n)
	return event
}

// eventID hashes the agreed content of a view. LocalSet is left out since it
// names the receiving daemon's own set.
func eventID(n groups.Notification) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(n.Group)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(n.GroupID.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(n.Kind.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(n.Cause.String())
	for _, m := range n.Members {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(m)
	}
	for _, set := range n.VSSets {
		_, _ = d.WriteString("\x01")
		_, _ = d.WriteString(strconv.Itoa(len(set)))
		for _, m := range set {
			_, _ = d.WriteString("\x00")
			_, _ = d.WriteString(m)
		}
	}
	return d.Sum64()
}
