// Package syncengine implements the Sync Engine (C5): the top-level
// coordinator that schedules Folder Synchronizer runs on the Background
// Task Runner, tracks active operations, enforces the concurrency and
// dedup policy of spec §4.6, and fans out progress and conflict state to
// whatever drives the process (CLI, terminal UI, idle maintenance).
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/progress"
	"github.com/parlorsh/parlor/internal/syncfolder"
	"github.com/parlorsh/parlor/internal/taskrunner"
)

// maxCrossAccountConcurrency bounds how many distinct accounts may have a
// Folder Synchronizer running at once, independent of how many worker
// goroutines the underlying taskrunner.Pool has; default min(#accounts, 4).
const maxCrossAccountConcurrency = 4

// Operation is a snapshot of one scheduled or running sync, returned by
// SyncAccount/SyncFolder and listed by ActiveOperations.
type Operation struct {
	ID         string
	AccountID  string
	FolderName string // "" means "every folder" (sync_account)
	Strategy   syncfolder.Strategy
	Priority   taskrunner.Priority
	StartedAt  time.Time

	handle *taskrunner.Handle
}

// Wait blocks until the operation's Folder Synchronizer run finishes.
func (o *Operation) Wait() error { return o.handle.Wait() }

// FolderSynchronizer is the subset of *syncfolder.Synchronizer the Sync
// Engine depends on. Narrowing to an interface keeps C5 decoupled from
// C4's concrete construction (it takes a connection pool, a database-
// backed store, etc.) and lets tests substitute a fake.
type FolderSynchronizer interface {
	RunWithID(ctx context.Context, operationID string, acc account.Account, folderFullName string, strategy syncfolder.Strategy) (string, error)
}

// Engine is the Sync Engine (C5).
type Engine struct {
	accounts      *account.Store
	synchronizer  FolderSynchronizer
	bus           *progress.Bus
	runner        *taskrunner.Pool
	sessionDialer SessionDialer

	log zerolog.Logger

	mu          sync.Mutex
	active      map[string]*Operation // dedup key -> operation
	accountRefs map[string]int
	acctSem     chan struct{}

	idleCancel map[string]context.CancelFunc
}

// SessionDialer opens a fresh IMAP session for idle maintenance. The
// imappool.Pool satisfies this with its Acquire method; it is narrowed to an interface here so idle maintenance doesn't
// need the whole pool API.
type SessionDialer interface {
	Acquire(ctx context.Context, acc account.Account) (*imapsession.Session, func(), error)
}

// New builds an Engine. runner is the shared C8 pool (callers typically
// pass taskrunner.NewDefault()); the engine additionally gates cross-
// account concurrency to min(len(accounts), 4) regardless of runner's own
// worker count.
func New(accounts *account.Store, synchronizer FolderSynchronizer, bus *progress.Bus, runner *taskrunner.Pool, dialer SessionDialer) *Engine {
	slots := len(accounts.List())
	if slots < 1 {
		slots = 1
	}
	if slots > maxCrossAccountConcurrency {
		slots = maxCrossAccountConcurrency
	}
	return &Engine{
		accounts:      accounts,
		synchronizer:  synchronizer,
		bus:           bus,
		runner:        runner,
		sessionDialer: dialer,
		log:           logging.WithComponent("syncengine"),
		active:        make(map[string]*Operation),
		accountRefs:   make(map[string]int),
		acctSem:       make(chan struct{}, slots),
		idleCancel:    make(map[string]context.CancelFunc),
	}
}

func dedupKey(accountID, folderFullName string) string {
	return accountID + "\x00" + folderFullName
}

// SyncAccount schedules a run covering every selectable folder of
// accountID. If an equivalent operation is already in flight, its handle
// is returned instead of starting a second one.
func (e *Engine) SyncAccount(ctx context.Context, accountID string, strategy syncfolder.Strategy, priority taskrunner.Priority) (*Operation, error) {
	return e.schedule(ctx, accountID, "", strategy, priority)
}

// SyncFolder schedules a run restricted to one mailbox.
func (e *Engine) SyncFolder(ctx context.Context, accountID, folderFullName string, strategy syncfolder.Strategy, priority taskrunner.Priority) (*Operation, error) {
	if folderFullName == "" {
		return nil, errs.New(errs.KindNotFound, "syncengine.SyncFolder", "folder name required")
	}
	return e.schedule(ctx, accountID, folderFullName, strategy, priority)
}

func (e *Engine) schedule(ctx context.Context, accountID, folderFullName string, strategy syncfolder.Strategy, priority taskrunner.Priority) (*Operation, error) {
	acc, ok := e.accounts.Get(accountID)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "syncengine.schedule", "account not found: "+accountID)
	}

	key := dedupKey(accountID, folderFullName)

	e.mu.Lock()
	if existing, dup := e.active[key]; dup {
		e.mu.Unlock()
		return existing, nil
	}
	op := &Operation{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		FolderName: folderFullName,
		Strategy:   strategy,
		Priority:   priority,
		StartedAt:  time.Now().UTC(),
	}
	e.active[key] = op
	e.mu.Unlock()

	op.handle = e.runner.Submit(ctx, priority, func(taskCtx context.Context) error {
		defer e.forget(key)
		if err := e.acquireAccountSlot(taskCtx, accountID); err != nil {
			return err
		}
		defer e.releaseAccountSlot(accountID)

		_, err := e.synchronizer.RunWithID(taskCtx, op.ID, acc, folderFullName, strategy)
		return err
	})
	return op, nil
}

func (e *Engine) forget(key string) {
	e.mu.Lock()
	delete(e.active, key)
	e.mu.Unlock()
}

// acquireAccountSlot blocks until accountID holds one of the bounded
// cross-account concurrency slots. Calls for an account that already
// holds a slot (a second folder of the same account-wide run) are
// reentrant and never block on the semaphore a second time.
func (e *Engine) acquireAccountSlot(ctx context.Context, accountID string) error {
	e.mu.Lock()
	if e.accountRefs[accountID] > 0 {
		e.accountRefs[accountID]++
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	select {
	case e.acctSem <- struct{}{}:
		e.mu.Lock()
		e.accountRefs[accountID]++
		e.mu.Unlock()
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindCancelled, "syncengine.acquireAccountSlot", ctx.Err())
	}
}

func (e *Engine) releaseAccountSlot(accountID string) {
	e.mu.Lock()
	e.accountRefs[accountID]--
	drained := e.accountRefs[accountID] <= 0
	if drained {
		delete(e.accountRefs, accountID)
	}
	e.mu.Unlock()
	if drained {
		<-e.acctSem
	}
}

// Cancel preempts every active operation for accountID, or just the one
// scoped to folderFullName if non-empty. Returns the number cancelled.
func (e *Engine) Cancel(accountID, folderFullName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, op := range e.active {
		if op.AccountID != accountID {
			continue
		}
		if folderFullName != "" && op.FolderName != folderFullName {
			continue
		}
		op.handle.Cancel()
		n++
	}
	return n
}

// SubscribeProgress exposes the shared Progress Bus to callers that only
// know about the Sync Engine.
func (e *Engine) SubscribeProgress() (<-chan progress.SyncProgress, func()) {
	return e.bus.Subscribe()
}

// SetConflictResolution updates accountID's persisted conflict policy.
// Takes effect on the next reconciliation; a run already past the
// conflict-check point for a message keeps using the policy it read.
func (e *Engine) SetConflictResolution(accountID string, policy account.ConflictPolicy) error {
	acc, ok := e.accounts.Get(accountID)
	if !ok {
		return errs.New(errs.KindNotFound, "syncengine.SetConflictResolution", "account not found: "+accountID)
	}
	acc.ConflictPolicy = policy
	return e.accounts.Replace(acc)
}

// ActiveOperations lists every currently scheduled-or-running operation.
func (e *Engine) ActiveOperations() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Operation, 0, len(e.active))
	for _, op := range e.active {
		out = append(out, *op)
	}
	return out
}

// hasForegroundWork reports whether accountID currently has a
// foreground-priority operation active; idle maintenance backs off while
// this is true so it never competes with UI-initiated work for the
// connection pool.
func (e *Engine) hasForegroundWork(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range e.active {
		if op.AccountID == accountID && op.Priority == taskrunner.PriorityForeground {
			return true
		}
	}
	return false
}
