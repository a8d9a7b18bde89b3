package publisher

import (
	"testing"

	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/simnet"
	"github.com/maxpert/groupd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() groups.Notification {
	return groups.Notification{
		Group: "chat",
		Kind:  groups.KindRegular,
		Cause: groups.CauseJoin,
		GroupID: membership.GroupID{
			MembID: membership.MembershipID{ProcID: 1, Time: 4},
			Index:  2,
		},
		Members:  []string{"#alice#a", "#bob#b"},
		VSSets:   [][]string{{"#bob#b"}},
		LocalSet: 0,
	}
}

func TestConvertNotification(t *testing.T) {
	e := ConvertNotification("a", 2, sampleNotification(), 1234)

	assert.Equal(t, "a", e.Daemon)
	assert.Equal(t, "chat", e.Group)
	assert.Equal(t, "regular", e.Kind)
	assert.Equal(t, "join", e.Cause)
	assert.Equal(t, groups.ServiceRegMembMess|groups.ServiceCausedByJoin, e.Service)
	assert.Equal(t, "0.0.0.1", e.MembProc)
	assert.Equal(t, int32(4), e.MembTime)
	assert.Equal(t, int32(2), e.Index)
	assert.Equal(t, 2, e.Recipients)
	assert.Equal(t, int64(1234), e.TS)
	assert.NotZero(t, e.ID)
}

func TestConvertNotification_IDStableAcrossDaemons(t *testing.T) {
	a := ConvertNotification("a", 1, sampleNotification(), 1)
	b := ConvertNotification("b", 3, sampleNotification(), 99)
	assert.Equal(t, a.ID, b.ID)

	other := sampleNotification()
	other.GroupID.Index = 3
	assert.NotEqual(t, a.ID, ConvertNotification("a", 1, other, 1).ID)
}

func TestConvertNotification_IDIgnoresLocalSet(t *testing.T) {
	a := sampleNotification()
	b := sampleNotification()
	b.LocalSet = 1
	assert.Equal(t, ConvertNotification("a", 1, a, 1).ID, ConvertNotification("b", 1, b, 1).ID)

	c := sampleNotification()
	c.VSSets = [][]string{{"#alice#a"}, {"#bob#b"}}
	assert.NotEqual(t, ConvertNotification("a", 1, a, 1).ID, ConvertNotification("a", 1, c, 1).ID)
}

func TestConvertNotification_MergedViewSharesID(t *testing.T) {
	conf, err := membership.NewConfiguration([]membership.Proc{
		{ID: 1, Name: "d1"},
		{ID: 2, Name: "d2"},
	})
	require.NoError(t, err)
	n, err := simnet.New(conf, wire.DefaultCapacity)
	require.NoError(t, err)

	alice, _, err := n.Connect("d1", "alice")
	require.NoError(t, err)
	bob, _, err := n.Connect("d2", "bob")
	require.NoError(t, err)
	require.NoError(t, n.Join(alice, "g"))
	require.NoError(t, n.Join(bob, "g"))
	require.NoError(t, n.Run())
	require.NoError(t, n.ChangeMembership([]string{"d1", "d2"}))

	last := func(name string) groups.Notification {
		ds := n.Node(name).Deliveries()
		require.NotEmpty(t, ds)
		return ds[len(ds)-1].Notification
	}
	na, nb := last("d1"), last("d2")
	require.Equal(t, groups.CauseNetwork, na.Cause)
	require.NotEqual(t, na.LocalSet, nb.LocalSet)

	ea := ConvertNotification("d1", 1, na, 10)
	eb := ConvertNotification("d2", 1, nb, 20)
	assert.Equal(t, ea.ID, eb.ID)
	assert.NotEqual(t, ea.LocalSet, eb.LocalSet)
}
