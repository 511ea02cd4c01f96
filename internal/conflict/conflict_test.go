package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorsh/parlor/internal/message"
)

func flags(fs ...message.Flag) map[message.Flag]bool {
	out := make(map[message.Flag]bool, len(fs))
	for _, f := range fs {
		out[f] = true
	}
	return out
}

func TestResolveServerWinsDiscardsLocalChange(t *testing.T) {
	base := flags(message.FlagSeen)
	server := flags(message.FlagSeen, message.FlagFlagged)
	delta := FlagDelta{Removed: map[message.Flag]bool{message.FlagSeen: true}}

	res := Resolve(PolicyServerWins, base, server, delta)
	assert.Equal(t, ActionAdoptServer, res.Action)
	assert.True(t, res.Flags[message.FlagFlagged])
	assert.True(t, res.Flags[message.FlagSeen])
}

func TestResolveLocalWinsReapplies(t *testing.T) {
	base := flags(message.FlagSeen)
	server := flags(message.FlagSeen, message.FlagFlagged)
	delta := FlagDelta{Removed: map[message.Flag]bool{message.FlagSeen: true}}

	res := Resolve(PolicyLocalWins, base, server, delta)
	assert.Equal(t, ActionPushToServer, res.Action)
	assert.False(t, res.Flags[message.FlagSeen])
	assert.True(t, res.Flags[message.FlagFlagged])
}

func TestResolveLocalWinsRejectionDowngrades(t *testing.T) {
	server := flags(message.FlagSeen)
	res := ApplyLocalWinsRejection(server)
	assert.Equal(t, ActionAdoptServer, res.Action)
	assert.NotEmpty(t, res.Warning)
	assert.True(t, res.Flags[message.FlagSeen])
}

func TestResolveMergeUnionsAdditionsMinusIntersectionOfRemovals(t *testing.T) {
	base := flags(message.FlagSeen)
	server := flags(message.FlagSeen, message.FlagFlagged) // server added Flagged
	delta := FlagDelta{Added: map[message.Flag]bool{message.CustomFlag("Important"): true}}

	res := Resolve(PolicyMerge, base, server, delta)
	assert.Equal(t, ActionPushToServer, res.Action)
	assert.True(t, res.Flags[message.FlagFlagged])
	assert.True(t, res.Flags[message.CustomFlag("Important")])
	assert.True(t, res.Flags[message.FlagSeen])
}

func TestResolveMergeIntersectionOfRemovalsDrops(t *testing.T) {
	base := flags(message.FlagSeen, message.FlagFlagged)
	server := flags(message.FlagFlagged) // server removed Seen
	delta := FlagDelta{Removed: map[message.Flag]bool{message.FlagSeen: true}} // local also removed Seen

	res := Resolve(PolicyMerge, base, server, delta)
	assert.False(t, res.Flags[message.FlagSeen])
	assert.True(t, res.Flags[message.FlagFlagged])
}

func TestResolveMergeDisagreementSystemFlagServerWins(t *testing.T) {
	base := flags(message.FlagSeen)
	server := flags()                                                        // server removed Seen
	delta := FlagDelta{Added: map[message.Flag]bool{message.FlagSeen: true}} // local re-added it — disagreement

	res := Resolve(PolicyMerge, base, server, delta)
	assert.False(t, res.Flags[message.FlagSeen], "system flag disagreement should favor server's removal")
}

func TestResolveMergeDisagreementUserFlagLocalWins(t *testing.T) {
	base := flags(message.CustomFlag("Important"))
	server := flags() // server removed the keyword
	delta := FlagDelta{Added: map[message.Flag]bool{message.CustomFlag("Important"): true}} // local re-added

	res := Resolve(PolicyMerge, base, server, delta)
	assert.True(t, res.Flags[message.CustomFlag("Important")], "user-defined flag disagreement should favor local")
}

func TestResolveAskUserQueuesNoImmediateFlags(t *testing.T) {
	res := Resolve(PolicyAskUser, flags(), flags(), FlagDelta{})
	assert.Equal(t, ActionAskUser, res.Action)
	assert.Nil(t, res.Flags)
}

func TestMarshalUnmarshalPendingRoundTrip(t *testing.T) {
	d := FlagDelta{
		Added:   map[message.Flag]bool{message.FlagFlagged: true},
		Removed: map[message.Flag]bool{message.FlagSeen: true},
	}
	raw, err := MarshalPending(d)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, err := UnmarshalPending(raw)
	require.NoError(t, err)
	assert.True(t, got.Added[message.FlagFlagged])
	assert.True(t, got.Removed[message.FlagSeen])
}

func TestMarshalEmptyDeltaIsEmptyString(t *testing.T) {
	raw, err := MarshalPending(FlagDelta{})
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestQueueAddListGetResolve(t *testing.T) {
	q := NewQueue()
	q.Add(Record{MessageID: "m1", AccountID: "a1", FolderName: "INBOX"})

	_, ok := q.Get("m1")
	require.True(t, ok)
	assert.Len(t, q.List(), 1)

	res, ok := q.Resolve("m1", flags(message.FlagSeen), false)
	require.True(t, ok)
	assert.Equal(t, ActionAdoptServer, res.Action)

	_, ok = q.Get("m1")
	assert.False(t, ok)
}

func TestQueueResolveUnknownMessage(t *testing.T) {
	q := NewQueue()
	_, ok := q.Resolve("nope", nil, false)
	assert.False(t, ok)
}
