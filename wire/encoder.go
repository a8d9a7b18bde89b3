package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/maxpert/groupd/membership"
)

// Sequence is the input for one reconciliation round: the sender's view of
// every group, in the canonical order, plus the daemons it speaks for.
type Sequence struct {
	Sender    string
	MembID    membership.MembershipID
	SyncedSet []membership.ProcID
	Groups    []Group
}

// byteOrder writes and reads fixed-width integers.
type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Encoder serializes a Sequence into bounded messages. A daemon record is
// never split across messages.
type Encoder struct {
	capacity int
	order    byteOrder
}

// NewEncoder creates an encoder producing messages of at most capacity bytes,
// writing integers little-endian.
func NewEncoder(capacity int) (*Encoder, error) {
	return NewEncoderWithOrder(capacity, binary.LittleEndian)
}

// NewEncoderWithOrder is NewEncoder with an explicit byte order.
func NewEncoderWithOrder(capacity int, order byteOrder) (*Encoder, error) {
	floor := HeaderSize + membIDSize + 1 + 4 + GroupInfoSize + DaemonInfoSize
	if capacity < floor {
		return nil, fmt.Errorf("%w: %d < %d", ErrCapacityTooLow, capacity, floor)
	}
	return &Encoder{capacity: capacity, order: order}, nil
}

// Capacity returns the maximum message size.
func (e *Encoder) Capacity() int {
	return e.capacity
}

// Encode builds the message sequence. Every message but the last is marked
// reliable and the last is marked agreed. A Sequence with no groups still
// yields one message carrying the synced set.
func (e *Encoder) Encode(seq Sequence) ([][]byte, error) {
	if len(seq.Sender) == 0 || len(seq.Sender) >= maxSenderName {
		return nil, fmt.Errorf("%w: %q", ErrSenderName, seq.Sender)
	}
	if len(seq.SyncedSet) > math.MaxInt32 {
		return nil, ErrTooManyEntries
	}

	var out [][]byte
	buf := e.begin(seq, true)
	if len(buf) > e.capacity {
		return nil, fmt.Errorf("%w: synced set of %d daemons", ErrRecordTooLarge, len(seq.SyncedSet))
	}

	for gi := range seq.Groups {
		g := &seq.Groups[gi]
		if err := membership.ValidateGroupName(g.Name); err != nil {
			return nil, err
		}
		if len(g.Daemons) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: group %s has %d daemons", ErrTooManyEntries, g.Name, len(g.Daemons))
		}

		di := 0
		for {
			// The group header is only worth writing when its next daemon fits behind it.
			need := GroupInfoSize
			if di < len(g.Daemons) {
				need += g.Daemons[di].Size()
			}
			if len(buf)+need > e.capacity {
				if e.empty(buf, seq, len(out) == 0) {
					return nil, fmt.Errorf("%w: group %s daemon %s", ErrRecordTooLarge, g.Name, g.Daemons[di].ProcID)
				}
				out = append(out, buf)
				buf = e.begin(seq, false)
				continue
			}

			buf = e.putName(buf, g.Name)
			buf = e.putGroupID(buf, g.ID)
			changed := uint16(0)
			if g.Changed {
				changed = 1
			}
			buf = e.order.AppendUint16(buf, changed)
			countAt := len(buf)
			buf = e.order.AppendUint16(buf, 0)

			count := uint16(0)
			for ; di < len(g.Daemons); di++ {
				d := &g.Daemons[di]
				if len(d.Members) > math.MaxUint16 {
					return nil, fmt.Errorf("%w: daemon %s has %d members", ErrTooManyEntries, d.ProcID, len(d.Members))
				}
				if len(buf)+d.Size() > e.capacity {
					break
				}
				buf = e.order.AppendUint32(buf, uint32(d.ProcID))
				buf = e.putMembID(buf, d.MembID)
				buf = e.order.AppendUint16(buf, uint16(len(d.Members)))
				for _, m := range d.Members {
					if len(m) >= membership.MaxGroupName {
						return nil, fmt.Errorf("%w: member %q", ErrMalformedString, m)
					}
					buf = e.putName(buf, m)
				}
				count++
			}
			e.order.PutUint16(buf[countAt:], count)

			if di >= len(g.Daemons) {
				break
			}
			out = append(out, buf)
			buf = e.begin(seq, false)
		}
	}
	out = append(out, buf)

	for i, msg := range out {
		class := Reliable
		if i == len(out)-1 {
			class = Agreed
		}
		e.finish(msg, class)
	}
	return out, nil
}

// begin starts a message: header placeholder, membership id, flag and, on the
// first message, the synced set.
func (e *Encoder) begin(seq Sequence, first bool) []byte {
	buf := make([]byte, HeaderSize, max(prefixSize(seq, first), e.capacity))

	copy(buf[4:], seq.Sender)
	e.order.PutUint32(buf[4+maxSenderName:], uint32(len(seq.SyncedSet)))

	buf = e.putMembID(buf, seq.MembID)
	if !first {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = e.order.AppendUint32(buf, uint32(len(seq.SyncedSet)))
	for _, p := range seq.SyncedSet {
		buf = e.order.AppendUint32(buf, uint32(p))
	}
	return buf
}

func (e *Encoder) empty(buf []byte, seq Sequence, first bool) bool {
	return len(buf) == prefixSize(seq, first)
}

func prefixSize(seq Sequence, first bool) int {
	size := HeaderSize + membIDSize + 1
	if first {
		size += 4 + 4*len(seq.SyncedSet)
	}
	return size
}

func (e *Encoder) finish(msg []byte, class Class) {
	typ := TypeGroupsMess
	if class == Agreed {
		typ |= TypeAgreed
	} else {
		typ |= TypeReliable
	}
	if e.order.Uint16([]byte{1, 0}) == 1 {
		typ |= EndianTag
	}
	e.order.PutUint32(msg[0:], typ)
	e.order.PutUint32(msg[4+membership.MaxGroupName:], uint32(len(msg)-HeaderSize))
}

func (e *Encoder) putName(buf []byte, name string) []byte {
	var field [membership.MaxGroupName]byte
	copy(field[:], name)
	return append(buf, field[:]...)
}

func (e *Encoder) putMembID(buf []byte, id membership.MembershipID) []byte {
	buf = e.order.AppendUint32(buf, uint32(id.ProcID))
	return e.order.AppendUint32(buf, uint32(id.Time))
}

func (e *Encoder) putGroupID(buf []byte, id membership.GroupID) []byte {
	buf = e.putMembID(buf, id.MembID)
	return e.order.AppendUint32(buf, uint32(id.Index))
}

// Stamp rewrites the membership id of an already encoded message in place,
// preserving the byte order it was written with.
func Stamp(msg []byte, id membership.MembershipID) error {
	order, err := orderOf(msg)
	if err != nil {
		return err
	}
	if len(msg) < HeaderSize+membIDSize {
		return ErrTruncated
	}
	order.PutUint32(msg[HeaderSize:], uint32(id.ProcID))
	order.PutUint32(msg[HeaderSize+4:], uint32(id.Time))
	return nil
}
