// Package simnet runs several group membership engines in one process over
// a simulated transport that delivers every message in one total order.
package simnet

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/wire"
	"github.com/rs/zerolog/log"
)

type opKind uint8

const (
	opGroups opKind = iota + 1
	opJoin
	opLeave
	opKill
)

// envelope is one totally ordered delivery. It reaches the daemons that
// shared the sender's regular view when it was sent.
type envelope struct {
	kind   opKind
	from   membership.ProcID
	epoch  membership.MembershipID
	to     []membership.ProcID
	msg    []byte
	member string
	group  string
}

// Delivery is a notification received by a local session.
type Delivery struct {
	Mailbox      groups.Mailbox
	Notification groups.Notification
}

// Node is one simulated daemon.
type Node struct {
	Proc   membership.Proc
	Engine *groups.Engine

	net        *Network
	component  []membership.ProcID
	sessions   map[string]groups.Mailbox
	deliveries []Delivery
	sent       int
	queue      groups.Queue
	priority   groups.Priority
}

// Network owns the daemons and the pending deliveries.
type Network struct {
	conf    *membership.Configuration
	nodes   []*Node
	byID    map[membership.ProcID]*Node
	pending []envelope
	clock   int32
	nextBox groups.Mailbox
}

// New creates one engine per roster entry. Every daemon starts alone.
func New(conf *membership.Configuration, bufferSize int) (*Network, error) {
	n := &Network{
		conf: conf,
		byID: make(map[membership.ProcID]*Node),
	}
	for _, p := range conf.Procs() {
		node := &Node{
			Proc:      p,
			net:       n,
			component: []membership.ProcID{p.ID},
			sessions:  make(map[string]groups.Mailbox),
			queue:     groups.QueueNormal,
			priority:  groups.PriorityLow,
		}
		e, err := groups.NewEngine(groups.Config{
			Self:       p,
			Roster:     conf,
			BufferSize: bufferSize,
			Notifier:   node,
			Transport:  node,
			Sessions:   node,
		})
		if err != nil {
			return nil, fmt.Errorf("daemon %s: %w", p.Name, err)
		}
		node.Engine = e
		n.nodes = append(n.nodes, node)
		n.byID[p.ID] = node
	}
	return n, nil
}

// Nodes returns the daemons in roster order.
func (n *Network) Nodes() []*Node {
	return n.nodes
}

// Node finds a daemon by name.
func (n *Network) Node(name string) *Node {
	for _, node := range n.nodes {
		if node.Proc.Name == name {
			return node
		}
	}
	return nil
}

// Pending returns the number of undelivered envelopes.
func (n *Network) Pending() int {
	return len(n.pending)
}

// Connect opens a local session on the named daemon and returns its private name.
func (n *Network) Connect(daemon, user string) (string, groups.Mailbox, error) {
	node := n.Node(daemon)
	if node == nil {
		return "", 0, fmt.Errorf("no daemon %q", daemon)
	}
	name := membership.PrivateName{User: user, Daemon: daemon}.String()
	n.nextBox++
	node.sessions[name] = n.nextBox
	return name, n.nextBox, nil
}

// Join multicasts a join for member from its daemon.
func (n *Network) Join(member, group string) error {
	return n.submit(opJoin, member, group)
}

// Leave multicasts a leave for member from its daemon.
func (n *Network) Leave(member, group string) error {
	return n.submit(opLeave, member, group)
}

// Kill multicasts a disconnect for member from its daemon.
func (n *Network) Kill(member string) error {
	return n.submit(opKill, member, "")
}

func (n *Network) submit(kind opKind, member, group string) error {
	pn, err := membership.ParsePrivateName(member)
	if err != nil {
		return err
	}
	node := n.Node(pn.Daemon)
	if node == nil {
		return fmt.Errorf("no daemon %q", pn.Daemon)
	}
	n.pending = append(n.pending, envelope{
		kind:   kind,
		from:   node.Proc.ID,
		epoch:  node.Engine.RegularView().ID,
		to:     slices.Clone(node.component),
		member: member,
		group:  group,
	})
	return nil
}

// Step delivers the oldest pending envelope to every recipient still in the
// regular view it was sent in. It reports false when nothing was pending.
func (n *Network) Step() (bool, error) {
	if len(n.pending) == 0 {
		return false, nil
	}
	env := n.pending[0]
	n.pending = n.pending[1:]
	for _, id := range env.to {
		node := n.byID[id]
		if !node.Engine.RegularView().ID.Equal(env.epoch) {
			continue
		}
		if err := node.deliver(env); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Run delivers until nothing is pending.
func (n *Network) Run() error {
	for {
		more, err := n.Step()
		if err != nil || !more {
			return err
		}
	}
}

// Transitional tells every daemon of each component which daemons it kept.
// Daemons not named keep their component.
func (n *Network) Transitional(components ...[]string) error {
	comps, err := n.resolve(components)
	if err != nil {
		return err
	}
	for _, comp := range comps {
		for _, kept := range n.splitByOld(comp) {
			id := n.nextID(kept)
			for _, p := range kept {
				if err := n.byID[p].Engine.HandleTransitional(membership.NewView(id, kept...)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Regular installs each component as a regular membership.
func (n *Network) Regular(components ...[]string) error {
	comps, err := n.resolve(components)
	if err != nil {
		return err
	}
	for _, comp := range comps {
		id := n.nextID(comp)
		for _, p := range comp {
			node := n.byID[p]
			node.component = slices.Clone(comp)
			if err := node.Engine.HandleRegular(membership.NewView(id, comp...)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ChangeMembership flushes pending traffic, delivers the transitional and
// regular views for the new components and runs the reconciliation.
func (n *Network) ChangeMembership(components ...[]string) error {
	if err := n.Run(); err != nil {
		return err
	}
	if err := n.Transitional(components...); err != nil {
		return err
	}
	if err := n.Regular(components...); err != nil {
		return err
	}
	return n.Run()
}

// splitByOld splits a new component into the groups of daemons that shared
// a regular view before.
func (n *Network) splitByOld(comp []membership.ProcID) [][]membership.ProcID {
	var out [][]membership.ProcID
	seen := make(map[membership.ProcID]bool)
	for _, p := range comp {
		if seen[p] {
			continue
		}
		var kept []membership.ProcID
		for _, q := range n.byID[p].component {
			if slices.Contains(comp, q) {
				kept = append(kept, q)
				seen[q] = true
			}
		}
		out = append(out, kept)
	}
	return out
}

func (n *Network) resolve(components [][]string) ([][]membership.ProcID, error) {
	out := make([][]membership.ProcID, 0, len(components))
	for _, names := range components {
		var comp []membership.ProcID
		for _, name := range names {
			node := n.Node(name)
			if node == nil {
				return nil, fmt.Errorf("no daemon %q", name)
			}
			comp = append(comp, node.Proc.ID)
		}
		slices.SortFunc(comp, n.conf.CompareProcs)
		out = append(out, comp)
	}
	return out, nil
}

// nextID names a new epoch after the first daemon of procs.
func (n *Network) nextID(procs []membership.ProcID) membership.MembershipID {
	n.clock++
	return membership.MembershipID{ProcID: procs[0], Time: n.clock}
}

// Deliveries returns the notifications received so far.
func (node *Node) Deliveries() []Delivery {
	return node.deliveries
}

// ResetDeliveries forgets received notifications.
func (node *Node) ResetDeliveries() {
	node.deliveries = nil
}

// Sent returns how many GROUPS messages this daemon sent.
func (node *Node) Sent() int {
	return node.sent
}

// Outbound returns the queue and priority threshold the engine last chose.
func (node *Node) Outbound() (groups.Queue, groups.Priority) {
	return node.queue, node.priority
}

// Component returns the daemons of this node's current regular view.
func (node *Node) Component() []membership.ProcID {
	return slices.Clone(node.component)
}

func (node *Node) deliver(env envelope) error {
	e := node.Engine
	switch env.kind {
	case opGroups:
		return e.HandleGroupsMessage(env.msg)
	case opJoin:
		return tolerate(e.Join(env.member, env.group))
	case opLeave:
		return tolerate(e.Leave(env.member, env.group))
	case opKill:
		return tolerate(e.Kill(env.member))
	}
	return errors.AssertionFailedf("unknown envelope kind %d", env.kind)
}

// tolerate passes through only failures that stopped the engine.
func tolerate(err error) error {
	if err != nil && errors.IsAssertionFailure(err) {
		return err
	}
	if err != nil {
		log.Debug().Err(err).Msg("Simulated request refused")
	}
	return nil
}

// SendControl implements groups.Transport.
func (node *Node) SendControl(dest groups.Destination, msg []byte, _ wire.Class) error {
	to := []membership.ProcID{dest.Proc}
	if dest.All {
		to = slices.Clone(node.component)
	}
	node.sent++
	node.net.pending = append(node.net.pending, envelope{
		kind:  opGroups,
		from:  node.Proc.ID,
		epoch: node.Engine.RegularView().ID,
		to:    to,
		msg:   msg,
	})
	return nil
}

// SetOutboundQueue implements groups.Transport.
func (node *Node) SetOutboundQueue(q groups.Queue) {
	node.queue = q
}

// SetPriorityThreshold implements groups.Transport.
func (node *Node) SetPriorityThreshold(p groups.Priority) {
	node.priority = p
}

// NotifyLocal implements groups.Notifier.
func (node *Node) NotifyLocal(boxes []groups.Mailbox, n groups.Notification) {
	for _, b := range boxes {
		node.deliveries = append(node.deliveries, Delivery{Mailbox: b, Notification: n})
	}
}

// Mailbox implements groups.Sessions.
func (node *Node) Mailbox(privateName string) (groups.Mailbox, bool) {
	m, ok := node.sessions[privateName]
	return m, ok
}
