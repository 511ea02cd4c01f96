package syncengine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/progress"
	"github.com/parlorsh/parlor/internal/syncfolder"
	"github.com/parlorsh/parlor/internal/taskrunner"
)

type fakeSynchronizer struct {
	calls   int32
	block   chan struct{} // if non-nil, RunWithID blocks on ctx.Done or this
	fn      func(ctx context.Context, operationID string, acc account.Account, folder string, strategy syncfolder.Strategy) error
}

func (f *fakeSynchronizer) RunWithID(ctx context.Context, operationID string, acc account.Account, folderFullName string, strategy syncfolder.Strategy) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fn != nil {
		return operationID, f.fn(ctx, operationID, acc, folderFullName, strategy)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return operationID, ctx.Err()
		}
	}
	return operationID, nil
}

func newTestStore(t *testing.T) *account.Store {
	t.Helper()
	s, err := account.NewStore(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)
	return s
}

func mustCreateAccount(t *testing.T, s *account.Store, id string) account.Account {
	t.Helper()
	a, err := s.Create(account.Account{ID: id, Enabled: true, Host: "imap.example.com", Port: 993})
	require.NoError(t, err)
	return a
}

func TestSyncFolderRunsAndCompletes(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")

	fake := &fakeSynchronizer{}
	e := New(accounts, fake, progress.NewBus(), taskrunner.New(2), nil)

	op, err := e.SyncFolder(context.Background(), "acct-1", "INBOX", syncfolder.Full(), taskrunner.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, op.Wait())
	assert.EqualValues(t, 1, fake.calls)
	assert.Empty(t, e.ActiveOperations())
}

func TestSyncAccountUnknownAccountErrors(t *testing.T) {
	accounts := newTestStore(t)
	e := New(accounts, &fakeSynchronizer{}, progress.NewBus(), taskrunner.New(1), nil)

	_, err := e.SyncAccount(context.Background(), "nope", syncfolder.Full(), taskrunner.PriorityNormal)
	assert.Error(t, err)
}

func TestDuplicateRequestReturnsExistingOperation(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")

	block := make(chan struct{})
	fake := &fakeSynchronizer{block: block}
	e := New(accounts, fake, progress.NewBus(), taskrunner.New(2), nil)

	first, err := e.SyncFolder(context.Background(), "acct-1", "INBOX", syncfolder.Full(), taskrunner.PriorityNormal)
	require.NoError(t, err)

	// give the worker a chance to pick it up before issuing the duplicate.
	time.Sleep(20 * time.Millisecond)

	second, err := e.SyncFolder(context.Background(), "acct-1", "INBOX", syncfolder.Incremental(), taskrunner.PriorityForeground)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	close(block)
	require.NoError(t, first.Wait())
	assert.EqualValues(t, 1, fake.calls)
}

func TestDifferentFoldersDoNotDedup(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")

	fake := &fakeSynchronizer{}
	e := New(accounts, fake, progress.NewBus(), taskrunner.New(2), nil)

	a, err := e.SyncFolder(context.Background(), "acct-1", "INBOX", syncfolder.Full(), taskrunner.PriorityNormal)
	require.NoError(t, err)
	b, err := e.SyncFolder(context.Background(), "acct-1", "Archive", syncfolder.Full(), taskrunner.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, a.Wait())
	require.NoError(t, b.Wait())
	assert.NotEqual(t, a.ID, b.ID)
	assert.EqualValues(t, 2, fake.calls)
}

func TestCancelPreemptsMatchingOperations(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")

	started := make(chan struct{})
	fake := &fakeSynchronizer{fn: func(ctx context.Context, operationID string, acc account.Account, folder string, strategy syncfolder.Strategy) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	e := New(accounts, fake, progress.NewBus(), taskrunner.New(1), nil)

	op, err := e.SyncFolder(context.Background(), "acct-1", "INBOX", syncfolder.Full(), taskrunner.PriorityNormal)
	require.NoError(t, err)
	<-started

	n := e.Cancel("acct-1", "")
	assert.Equal(t, 1, n)
	assert.Error(t, op.Wait())
}

func TestCrossAccountConcurrencyBoundedToFour(t *testing.T) {
	accounts := newTestStore(t)
	for i := 0; i < 6; i++ {
		mustCreateAccount(t, accounts, accountName(i))
	}

	var concurrent int32
	var maxConcurrent int32
	release := make(chan struct{})
	fake := &fakeSynchronizer{fn: func(ctx context.Context, operationID string, acc account.Account, folder string, strategy syncfolder.Strategy) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil
	}}

	e := New(accounts, fake, progress.NewBus(), taskrunner.New(6), nil)

	ops := make([]*Operation, 0, 6)
	for i := 0; i < 6; i++ {
		op, err := e.SyncAccount(context.Background(), accountName(i), syncfolder.Full(), taskrunner.PriorityNormal)
		require.NoError(t, err)
		ops = append(ops, op)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(4))

	close(release)
	for _, op := range ops {
		require.NoError(t, op.Wait())
	}
}

func accountName(i int) string {
	return "acct-" + string(rune('a'+i))
}

func TestSetConflictResolutionPersists(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")
	e := New(accounts, &fakeSynchronizer{}, progress.NewBus(), taskrunner.New(1), nil)

	require.NoError(t, e.SetConflictResolution("acct-1", account.ConflictLocalWins))

	updated, ok := accounts.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, account.ConflictLocalWins, updated.ConflictPolicy)
}

func TestSubscribeProgressDelegatesToBus(t *testing.T) {
	accounts := newTestStore(t)
	mustCreateAccount(t, accounts, "acct-1")
	bus := progress.NewBus()
	e := New(accounts, &fakeSynchronizer{}, bus, taskrunner.New(1), nil)

	ch, cancel := e.SubscribeProgress()
	defer cancel()

	bus.Publish(progress.SyncProgress{OperationID: "x", Phase: progress.PhaseComplete})
	select {
	case p := <-ch:
		assert.Equal(t, "x", p.OperationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}
