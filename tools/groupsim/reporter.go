package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/maxpert/groupd/simnet"
)

// printViews prints and forgets the notifications each daemon delivered.
func printViews(net *simnet.Network, w io.Writer) {
	for _, node := range net.Nodes() {
		for _, d := range node.Deliveries() {
			n := d.Notification
			fmt.Fprintf(w, "  [%s] box %d %s %s/%s id=%s members=[%s]",
				node.Proc.Name, d.Mailbox, n.Group, n.Kind, n.Cause, n.GroupID,
				strings.Join(n.Members, " "))
			if len(n.VSSets) > 0 {
				sets := make([]string, len(n.VSSets))
				for i, s := range n.VSSets {
					sets[i] = "{" + strings.Join(s, " ") + "}"
				}
				fmt.Fprintf(w, " vs=%s local=%d", strings.Join(sets, ""), n.LocalSet)
			}
			fmt.Fprintln(w)
		}
		node.ResetDeliveries()
	}
}

// printGroups prints every daemon's state and its view of each group.
func printGroups(net *simnet.Network, w io.Writer) {
	for _, node := range net.Nodes() {
		st := node.Engine.Status()
		fmt.Fprintf(w, "  [%s] state=%s regular=%s synced=%v sent=%d\n",
			node.Proc.Name, st.State, st.Regular, st.SyncedSet, node.Sent())
		for _, g := range node.Engine.Snapshot() {
			fmt.Fprintf(w, "    %s id=%s members=%d local=%d\n", g.Name, g.ID, g.NumMembers, g.NumLocal)
			for _, d := range g.Daemons {
				fmt.Fprintf(w, "      %s memb=%s %s\n", d.ProcID, d.MembID, strings.Join(d.Members, " "))
			}
		}
	}
}
