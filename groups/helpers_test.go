package groups

import (
	"testing"
	"time"

	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/wire"
	"github.com/stretchr/testify/require"
)

var (
	procA = membership.Proc{ID: 1, Name: "a"}
	procB = membership.Proc{ID: 2, Name: "b"}
	procC = membership.Proc{ID: 3, Name: "c"}
)

type delivery struct {
	boxes []Mailbox
	n     Notification
}

type recordingNotifier struct {
	got []delivery
}

func (r *recordingNotifier) NotifyLocal(boxes []Mailbox, n Notification) {
	r.got = append(r.got, delivery{boxes: append([]Mailbox(nil), boxes...), n: n})
}

func (r *recordingNotifier) last(t *testing.T) delivery {
	t.Helper()
	require.NotEmpty(t, r.got)
	return r.got[len(r.got)-1]
}

type sentMessage struct {
	dest  Destination
	msg   []byte
	class wire.Class
}

type recordingTransport struct {
	sent     []sentMessage
	queue    Queue
	priority Priority
	err      error
}

func (r *recordingTransport) SendControl(dest Destination, msg []byte, class wire.Class) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{dest: dest, msg: msg, class: class})
	return nil
}

func (r *recordingTransport) SetOutboundQueue(q Queue)        { r.queue = q }
func (r *recordingTransport) SetPriorityThreshold(p Priority) { r.priority = p }

type sessionMap map[string]Mailbox

func (s sessionMap) Mailbox(name string) (Mailbox, bool) {
	m, ok := s[name]
	return m, ok
}

type harness struct {
	e     *Engine
	notes *recordingNotifier
	tr    *recordingTransport
	sess  sessionMap
}

func newHarness(t *testing.T, self membership.Proc, procs ...membership.Proc) *harness {
	t.Helper()
	conf, err := membership.NewConfiguration(procs)
	require.NoError(t, err)

	h := &harness{
		notes: &recordingNotifier{},
		tr:    &recordingTransport{queue: QueueNormal, priority: PriorityLow},
		sess:  sessionMap{},
	}
	now := time.Unix(1700000000, 0)
	h.e, err = NewEngine(Config{
		Self:      self,
		Roster:    conf,
		Notifier:  h.notes,
		Transport: h.tr,
		Sessions:  h.sess,
		Clock: func() time.Time {
			now = now.Add(time.Millisecond)
			return now
		},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) join(t *testing.T, member, group string, box Mailbox) {
	t.Helper()
	if box != 0 {
		h.sess[member] = box
	}
	require.NoError(t, h.e.Join(member, group))
}

func memb(p membership.ProcID, ts int32) membership.MembershipID {
	return membership.MembershipID{ProcID: p, Time: ts}
}

func view(id membership.MembershipID, procs ...membership.Proc) membership.View {
	ids := make([]membership.ProcID, len(procs))
	for i, p := range procs {
		ids[i] = p.ID
	}
	return membership.NewView(id, ids...)
}

// peerMessages encodes a GROUPS contribution as another daemon would send it.
func peerMessages(t *testing.T, sender membership.Proc, id membership.MembershipID, synced []membership.ProcID, groups ...wire.Group) [][]byte {
	t.Helper()
	enc, err := wire.NewEncoder(wire.DefaultCapacity)
	require.NoError(t, err)
	msgs, err := enc.Encode(wire.Sequence{
		Sender:    sender.Name,
		MembID:    id,
		SyncedSet: synced,
		Groups:    groups,
	})
	require.NoError(t, err)
	return msgs
}

func decodeSent(t *testing.T, s sentMessage) *wire.Message {
	t.Helper()
	m, err := wire.Decode(s.msg)
	require.NoError(t, err)
	return m
}
