package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorsh/parlor/internal/message"
	"github.com/parlorsh/parlor/internal/progress"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Notify(ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func newTestDispatcher(folderNames func(string, string) string) *Dispatcher {
	return New(nil, nil, progress.NewBus(), folderNames)
}

func TestDefaultPolicyAllowsEverything(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, p.allows(Event{Kind: KindNewMessage}, now))
	assert.True(t, p.allows(Event{Kind: KindSyncError}, now))
}

func TestDisabledPolicyOnlyAllowsFatal(t *testing.T) {
	p := Policy{Enabled: false}
	now := time.Now()
	assert.False(t, p.allows(Event{Kind: KindNewMessage}, now))
	assert.False(t, p.allows(Event{Kind: KindSyncError}, now))
	assert.True(t, p.allows(Event{Kind: KindSyncFatal}, now))
}

func TestExcludedFolderSuppressesNewMessage(t *testing.T) {
	p := DefaultPolicy()
	p.ExcludedFolders["Newsletters"] = true
	now := time.Now()
	assert.False(t, p.allows(Event{Kind: KindNewMessage, FolderName: "Newsletters"}, now))
	assert.True(t, p.allows(Event{Kind: KindNewMessage, FolderName: "INBOX"}, now))
}

func TestQuietHoursAppliesPriorityFloor(t *testing.T) {
	p := DefaultPolicy()
	p.QuietStart = 22 * time.Hour
	p.QuietEnd = 7 * time.Hour
	p.PriorityFloor = KindSyncError

	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, p.allows(Event{Kind: KindNewMessage}, lateNight))
	assert.False(t, p.allows(Event{Kind: KindNewMessage}, earlyMorning))
	assert.True(t, p.allows(Event{Kind: KindSyncError}, lateNight))
	assert.True(t, p.allows(Event{Kind: KindNewMessage}, midday))
}

func TestFatalAlwaysBypassesPolicy(t *testing.T) {
	d := newTestDispatcher(nil)
	d.SetPolicy("acct-1", Policy{Enabled: false})

	sink := &recordingSink{}
	d.AddSink(sink)

	d.NotifyFatal("acct-1", "disk full")
	require.Len(t, sink.events, 1)
	assert.Equal(t, KindSyncFatal, sink.events[0].Kind)
}

func TestHandleChangeResolvesFolderNameAndDispatches(t *testing.T) {
	d := newTestDispatcher(func(accountID, folderID string) string {
		assert.Equal(t, "acct-1", accountID)
		assert.Equal(t, "folder-1", folderID)
		return "INBOX"
	})
	sink := &recordingSink{}
	d.AddSink(sink)

	d.handleChange(message.Change{
		AccountID: "acct-1",
		FolderID:  "folder-1",
		Kind:      message.ChangeInserted,
		MessageID: "msg-1",
	})

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, KindNewMessage, ev.Kind)
	assert.Equal(t, "INBOX", ev.FolderName)
	assert.Equal(t, "msg-1", ev.MessageID)
}

func TestHandleChangeIgnoresNonInsertKinds(t *testing.T) {
	d := newTestDispatcher(nil)
	sink := &recordingSink{}
	d.AddSink(sink)

	d.handleChange(message.Change{AccountID: "acct-1", Kind: message.ChangeUpdated})
	d.handleChange(message.Change{AccountID: "acct-1", Kind: message.ChangeDeleted})

	assert.Empty(t, sink.events)
}

func TestHandleProgressEmitsOnlyOnError(t *testing.T) {
	d := newTestDispatcher(nil)
	sink := &recordingSink{}
	d.AddSink(sink)

	d.handleProgress(progress.SyncProgress{AccountID: "acct-1", Phase: progress.PhaseFetchingBodies})
	assert.Empty(t, sink.events)

	d.handleProgress(progress.SyncProgress{AccountID: "acct-1", Phase: progress.PhaseError, ErrorDetail: "boom"})
	require.Len(t, sink.events, 1)
	assert.Equal(t, KindSyncError, sink.events[0].Kind)
	assert.Equal(t, "boom", sink.events[0].Body)
}

func TestSinkErrorDoesNotStopOtherSinks(t *testing.T) {
	d := newTestDispatcher(nil)
	d.AddSink(failingSink{})
	sink := &recordingSink{}
	d.AddSink(sink)

	d.NotifyFatal("acct-1", "boom")
	require.Len(t, sink.events, 1)
}

type failingSink struct{}

func (failingSink) Notify(Event) error { return assert.AnError }
