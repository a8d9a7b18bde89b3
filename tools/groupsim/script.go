package main

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/simnet"
)

// newNetwork builds a roster of daemons with addresses 10.0.0.1, 10.0.0.2, ...
func newNetwork(names []string, bufferSize int) (*simnet.Network, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no daemons")
	}
	procs := make([]membership.Proc, 0, len(names))
	for i, name := range names {
		id, err := membership.ProcIDFromAddr(netip.AddrFrom4([4]byte{10, 0, byte((i + 1) >> 8), byte(i + 1)}))
		if err != nil {
			return nil, err
		}
		procs = append(procs, membership.Proc{ID: id, Name: name})
	}
	conf, err := membership.NewConfiguration(procs)
	if err != nil {
		return nil, err
	}
	return simnet.New(conf, bufferSize)
}

// scenarioScript joins one member per daemon, partitions the last daemon
// away, changes the group on both sides and merges again.
func scenarioScript(names []string) io.Reader {
	var b strings.Builder
	all := strings.Join(names, ",")
	for _, n := range names {
		fmt.Fprintf(&b, "connect %s u%s\n", n, n)
	}
	fmt.Fprintf(&b, "membership %s\n", all)
	for _, n := range names {
		fmt.Fprintf(&b, "join #u%s#%s chat\n", n, n)
	}
	b.WriteString("run\nviews\n")
	if len(names) > 1 {
		left := strings.Join(names[:len(names)-1], ",")
		last := names[len(names)-1]
		fmt.Fprintf(&b, "membership %s %s\nviews\n", left, last)
		fmt.Fprintf(&b, "leave #u%s#%s chat\n", names[0], names[0])
		fmt.Fprintf(&b, "connect %s late\njoin #late#%s chat\nrun\nviews\n", last, last)
		fmt.Fprintf(&b, "membership %s\nviews\n", all)
	}
	b.WriteString("groups\n")
	return strings.NewReader(b.String())
}

// execute runs a script against a fresh network and writes the output to w.
func execute(script io.Reader, names []string, bufferSize int, w io.Writer) error {
	net, err := newNetwork(names, bufferSize)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(script)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "//") || strings.HasPrefix(text, ";") {
			continue
		}
		fields := strings.Fields(text)
		fmt.Fprintf(w, "> %s\n", text)
		if err := step(net, fields, w); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func step(net *simnet.Network, fields []string, w io.Writer) error {
	cmd, args := fields[0], fields[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d arguments", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "connect":
		if err := want(2); err != nil {
			return err
		}
		name, box, err := net.Connect(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  session %s mailbox %d\n", name, box)
		return nil
	case "join":
		if err := want(2); err != nil {
			return err
		}
		return net.Join(args[0], args[1])
	case "leave":
		if err := want(2); err != nil {
			return err
		}
		return net.Leave(args[0], args[1])
	case "kill":
		if err := want(1); err != nil {
			return err
		}
		return net.Kill(args[0])
	case "membership", "transitional", "regular":
		if len(args) == 0 {
			return fmt.Errorf("%s needs at least one component", cmd)
		}
		comps := make([][]string, len(args))
		for i, a := range args {
			comps[i] = strings.Split(a, ",")
		}
		switch cmd {
		case "membership":
			return net.ChangeMembership(comps...)
		case "transitional":
			return net.Transitional(comps...)
		}
		return net.Regular(comps...)
	case "run":
		return net.Run()
	case "views":
		printViews(net, w)
		return nil
	case "groups":
		printGroups(net, w)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}
