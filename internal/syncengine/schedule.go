package syncengine

import (
	"context"
	"fmt"
	"sync"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/syncfolder"
	"github.com/parlorsh/parlor/internal/taskrunner"
)

// Scheduler drives each enabled account's periodic sync on its configured
// interval. Adapted from the registry-of-EntryIDs pattern used for
// recurring jobs elsewhere in the reference pack (robfig/cron/v3's
// AddFunc plus a jobIDs map keyed by name); the leader-election wrapper
// that pattern layers on top of it is Kubernetes-specific and has no
// analogue in a single-process terminal client, so it is dropped here.
type Scheduler struct {
	engine *Engine
	cron   *cronv3.Cron

	mu     sync.Mutex
	jobIDs map[string]cronv3.EntryID
}

// NewScheduler builds a Scheduler bound to engine. It does not start
// ticking until Start is called.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		jobIDs: make(map[string]cronv3.EntryID),
	}
}

// Start registers one job per enabled account with SyncIntervalMinutes >
// 0 and begins ticking. Accounts with SyncIntervalMinutes == 0 are
// manual-only and are never scheduled.
func (s *Scheduler) Start() {
	s.cron = cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronLogger{s.engine.log}),
		cronv3.Recover(cronLogger{s.engine.log}),
	))

	for _, acc := range s.engine.accounts.List() {
		if !acc.Enabled || acc.SyncIntervalMinutes <= 0 {
			continue
		}
		accountID := acc.ID
		spec := fmt.Sprintf("@every %dm", acc.SyncIntervalMinutes)
		id, err := s.cron.AddFunc(spec, func() {
			ctx := context.Background()
			if _, err := s.engine.SyncAccount(ctx, accountID, syncfolder.Incremental(), taskrunner.PriorityNormal); err != nil {
				s.engine.log.Warn().Err(err).Str("account", accountID).Msg("scheduled sync failed to start")
			}
		})
		if err != nil {
			s.engine.log.Error().Err(err).Str("account", accountID).Str("spec", spec).Msg("failed to register periodic sync job")
			continue
		}
		s.mu.Lock()
		s.jobIDs[accountID] = id
		s.mu.Unlock()
	}

	s.cron.Start()
}

// Reschedule drops and re-adds accountID's job, picking up a changed
// SyncIntervalMinutes without restarting the whole scheduler.
func (s *Scheduler) Reschedule(accountID string) error {
	s.mu.Lock()
	if id, ok := s.jobIDs[accountID]; ok {
		s.cron.Remove(id)
		delete(s.jobIDs, accountID)
	}
	s.mu.Unlock()

	acc, ok := s.engine.accounts.Get(accountID)
	if !ok || !acc.Enabled || acc.SyncIntervalMinutes <= 0 {
		return nil
	}

	spec := fmt.Sprintf("@every %dm", acc.SyncIntervalMinutes)
	id, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if _, err := s.engine.SyncAccount(ctx, accountID, syncfolder.Incremental(), taskrunner.PriorityNormal); err != nil {
			s.engine.log.Warn().Err(err).Str("account", accountID).Msg("scheduled sync failed to start")
		}
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobIDs[accountID] = id
	s.mu.Unlock()
	return nil
}

// Stop halts the scheduler and waits for any in-flight job invocation
// (not the sync itself, just the AddFunc callback that scheduled it) to
// return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog.Logger to cronv3.Logger so SkipIfStillRunning
// and Recover log through the same structured sink as the rest of the
// engine instead of the standard library logger cronv3.DefaultLogger uses.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Fields(kvToMap(keysAndValues)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(kvToMap(keysAndValues)).Msg(msg)
}

func kvToMap(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
