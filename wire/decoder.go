package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/maxpert/groupd/membership"
)

// orderOf reports the byte order the sender used, from the endian tag in the
// type word.
func orderOf(msg []byte) (binary.ByteOrder, error) {
	if len(msg) < HeaderSize {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(msg)&EndianTag == EndianTag {
		return binary.LittleEndian, nil
	}
	return binary.BigEndian, nil
}

// ClassOf returns the delivery class recorded in an encoded message.
func ClassOf(msg []byte) (Class, error) {
	order, err := orderOf(msg)
	if err != nil {
		return 0, err
	}
	return classOf(order.Uint32(msg))
}

func classOf(typ uint32) (Class, error) {
	if typ&TypeGroupsMess == 0 {
		return 0, ErrNotGroups
	}
	switch {
	case typ&TypeAgreed != 0:
		return Agreed, nil
	case typ&TypeReliable != 0:
		return Reliable, nil
	}
	return 0, fmt.Errorf("%w: no delivery class in type %#x", ErrNotGroups, typ)
}

// reader walks a message body with the sender's byte order.
type reader struct {
	order binary.ByteOrder
	buf   []byte
	off   int
}

func (r *reader) need(n int) error {
	if n < 0 || len(r.buf)-r.off < n {
		return fmt.Errorf("%w at offset %d", ErrTruncated, r.off)
	}
	return nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := r.order.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := r.order.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) membID() (membership.MembershipID, error) {
	p, err := r.u32()
	if err != nil {
		return membership.MembershipID{}, err
	}
	t, err := r.u32()
	if err != nil {
		return membership.MembershipID{}, err
	}
	return membership.MembershipID{ProcID: membership.ProcID(int32(p)), Time: int32(t)}, nil
}

func (r *reader) name() (string, error) {
	if err := r.need(membership.MaxGroupName); err != nil {
		return "", err
	}
	s, err := fixedString(r.buf[r.off : r.off+membership.MaxGroupName])
	r.off += membership.MaxGroupName
	return s, err
}

func fixedString(field []byte) (string, error) {
	n := bytes.IndexByte(field, 0)
	if n <= 0 {
		return "", ErrMalformedString
	}
	return string(field[:n]), nil
}

// Decode parses a complete GROUPS message. Integers are read in the byte order
// the sender declared.
func Decode(msg []byte) (*Message, error) {
	order, err := orderOf(msg)
	if err != nil {
		return nil, err
	}
	class, err := classOf(order.Uint32(msg))
	if err != nil {
		return nil, err
	}

	sender, err := fixedString(msg[4 : 4+maxSenderName])
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	dataLen := order.Uint32(msg[4+membership.MaxGroupName:])
	if int64(dataLen) != int64(len(msg)-HeaderSize) {
		return nil, fmt.Errorf("%w: data length %d, have %d", ErrTruncated, dataLen, len(msg)-HeaderSize)
	}

	m := &Message{
		Class:         class,
		Sender:        sender,
		SyncedSetSize: order.Uint32(msg[4+maxSenderName:]),
	}
	r := &reader{order: order, buf: msg, off: HeaderSize}

	if m.MembID, err = r.membID(); err != nil {
		return nil, err
	}
	if err := r.need(1); err != nil {
		return nil, err
	}
	m.First = r.buf[r.off] != 0
	r.off++

	if m.First {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if err := r.need(int(n) * 4); err != nil {
			return nil, err
		}
		m.SyncedSet = make([]membership.ProcID, n)
		for i := range m.SyncedSet {
			v, _ := r.u32()
			m.SyncedSet[i] = membership.ProcID(int32(v))
		}
	}

	for r.off < len(r.buf) {
		var g Group
		if g.Name, err = r.name(); err != nil {
			return nil, fmt.Errorf("group name: %w", err)
		}
		if g.ID.MembID, err = r.membID(); err != nil {
			return nil, err
		}
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		g.ID.Index = int32(idx)
		changed, err := r.u16()
		if err != nil {
			return nil, err
		}
		g.Changed = changed != 0
		numDaemons, err := r.u16()
		if err != nil {
			return nil, err
		}

		g.Daemons = make([]Daemon, 0, numDaemons)
		for i := 0; i < int(numDaemons); i++ {
			var d Daemon
			pid, err := r.u32()
			if err != nil {
				return nil, err
			}
			d.ProcID = membership.ProcID(int32(pid))
			if d.MembID, err = r.membID(); err != nil {
				return nil, err
			}
			numMembers, err := r.u16()
			if err != nil {
				return nil, err
			}
			if err := r.need(int(numMembers) * membership.MaxGroupName); err != nil {
				return nil, err
			}
			d.Members = make([]string, numMembers)
			for j := range d.Members {
				if d.Members[j], err = r.name(); err != nil {
					return nil, fmt.Errorf("group %s member: %w", g.Name, err)
				}
			}
			g.Daemons = append(g.Daemons, d)
		}
		m.Groups = append(m.Groups, g)
	}
	return m, nil
}
