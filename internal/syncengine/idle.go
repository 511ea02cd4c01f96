package syncengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/syncfolder"
	"github.com/parlorsh/parlor/internal/taskrunner"
)

// idleReconnectDelay is how long an idle worker waits before re-dialing
// after its session drops, IDLE itself errors out, or it steps aside for
// foreground work.
const idleReconnectDelay = 10 * time.Second

// StartIdleMaintenance launches one long-lived goroutine per enabled
// account that keeps a session parked in IDLE on inbox; when the server
// lacks IDLE, the goroutine holds its session without idling until ctx
// is cancelled.
// Untagged EXISTS events trigger an Incremental sync_folder run for that
// mailbox. The goroutine steps aside (drops its session and waits) while
// the account has foreground work in flight, so it never contends with
// UI-initiated syncs for a pool connection. Stops when ctx is cancelled.
func (e *Engine) StartIdleMaintenance(ctx context.Context, inbox string) {
	for _, acc := range e.accounts.List() {
		if !acc.Enabled {
			continue
		}
		acctCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.idleCancel[acc.ID] = cancel
		e.mu.Unlock()

		go e.idleWorker(acctCtx, acc.ID, inbox)
	}
}

// StopIdleMaintenance cancels the idle worker for one account, used when
// an account is disabled or removed without tearing down the whole
// Engine.
func (e *Engine) StopIdleMaintenance(accountID string) {
	e.mu.Lock()
	cancel, ok := e.idleCancel[accountID]
	delete(e.idleCancel, accountID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) idleWorker(ctx context.Context, accountID, inbox string) {
	log := e.log.With().Str("account", accountID).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		if e.hasForegroundWork(accountID) {
			if !sleepOrDone(ctx, idleReconnectDelay) {
				return
			}
			continue
		}

		acc, ok := e.accounts.Get(accountID)
		if !ok {
			return
		}

		if err := e.runOneIdleSession(ctx, acc, inbox, log); err != nil {
			log.Warn().Err(err).Msg("idle session ended, will reconnect")
		}
		if !sleepOrDone(ctx, idleReconnectDelay) {
			return
		}
	}
}

// runOneIdleSession dials one session, selects inbox, and blocks in IDLE
// until ctx is cancelled or the command errors. Every observed EXISTS
// growth schedules a normal-priority Incremental sync of inbox; the idle
// session itself never fetches anything, it only wakes the scheduler.
func (e *Engine) runOneIdleSession(ctx context.Context, acc account.Account, inbox string, log zerolog.Logger) error {
	sess, release, err := e.sessionDialer.Acquire(ctx, acc)
	if err != nil {
		return err
	}
	defer release()

	if !sess.SupportsIdle() {
		<-ctx.Done()
		return nil
	}
	if _, err := sess.Select(ctx, inbox); err != nil {
		return err
	}

	return sess.Idle(ctx, func(ev imapsession.IdleEvent) {
		if ev.Kind != imapsession.IdleEventExists {
			return
		}
		if _, err := e.SyncFolder(ctx, acc.ID, inbox, syncfolder.Incremental(), taskrunner.PriorityNormal); err != nil {
			log.Warn().Err(err).Msg("failed to schedule incremental sync from idle event")
		}
	})
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
