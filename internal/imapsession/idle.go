package imapsession

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/parlorsh/parlor/internal/errs"
)

// IdleEvent is one untagged response observed while idling: a new message
// arriving (EXISTS growing) or an existing one being expunged.
type IdleEvent struct {
	Kind     IdleEventKind
	SeqNum   uint32 // for Expunge, the sequence number the server reported
	NumExist uint32 // for Exists, the new total message count
}

// IdleEventKind classifies an IdleEvent.
type IdleEventKind int

const (
	IdleEventExists IdleEventKind = iota
	IdleEventExpunge
)

// idleRestartInterval is how long a single IDLE command is held open
// before it is torn down and re-issued, refreshing the server-side
// inactivity timer (RFC 2177 recommends well under the 30-minute
// server-side timeout most implementations enforce).
const idleRestartInterval = 10 * time.Minute

// Idle drives one IDLE command against the currently selected mailbox,
// delivering untagged EXISTS/EXPUNGE events to fn until ctx is cancelled
// or the command itself fails. It restarts the IDLE command every
// idleRestartInterval so long-lived connections keep the server's
// inactivity timer from firing. Returns when ctx is done or on error;
// the caller (syncengine's idle-maintenance loop) decides whether to
// reconnect and call Idle again.
//
// The client's UnilateralDataHandler is wired once, in Connect, because
// go-imap v2 fixes it at construction; Idle only points s.idleHandler at
// fn for its duration.
func (s *Session) Idle(ctx context.Context, fn func(IdleEvent)) error {
	if !s.SupportsIdle() {
		return errs.New(errs.KindUnsupported, "imapsession.Idle", "server lacks IDLE")
	}
	if s.state != StateSelected {
		return errs.New(errs.KindProtocol, "imapsession.Idle", "no mailbox selected")
	}

	s.idleHandler = fn
	s.state = StateIdle
	defer func() {
		s.idleHandler = nil
		if s.state == StateIdle {
			s.state = StateSelected
		}
	}()

	for {
		// Health check: a connection that died silently (firewall timeout,
		// server restart) surfaces here as a NOOP failure instead of only
		// being discovered when the IDLE command itself errors out.
		if err := s.client.Noop().Wait(); err != nil {
			return errs.Wrap(errs.KindProtocol, "imapsession.Idle", err)
		}

		cmd, err := s.client.Idle()
		if err != nil {
			return errs.Wrap(errs.KindProtocol, "imapsession.Idle", err)
		}

		timer := time.NewTimer(idleRestartInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			cmd.Close()
			return nil
		case <-timer.C:
			if err := cmd.Close(); err != nil {
				return errs.Wrap(errs.KindProtocol, "imapsession.Idle", err)
			}
			// loop: re-issue IDLE for another interval
		}
	}
}

// NewMessageUIDs resolves the tail introduced by an IdleEventExists
// (every sequence number from sinceSeqNum onward) into UIDs, via a cheap
// UID SEARCH against the newly-grown range. Used by the idle-maintenance
// loop to turn "exists went from N to M" into concrete UIDs without a
// full re-sync.
func (s *Session) NewMessageUIDs(ctx context.Context, sinceSeqNum uint32) ([]imap.UID, error) {
	if s.state != StateSelected {
		return nil, errs.New(errs.KindProtocol, "imapsession.NewMessageUIDs", "no mailbox selected")
	}

	criteria := &imap.SearchCriteria{
		SeqNum: imap.SeqSet{imap.SeqRange{Start: sinceSeqNum, Stop: 0}},
	}

	resultCh := make(chan struct {
		data *imap.SearchData
		err  error
	}, 1)
	go func() {
		data, err := s.client.UIDSearch(criteria, nil).Wait()
		resultCh <- struct {
			data *imap.SearchData
			err  error
		}{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "imapsession.NewMessageUIDs", ctx.Err())
	case result := <-resultCh:
		if result.err != nil {
			return nil, errs.Wrap(errs.KindProtocol, "imapsession.NewMessageUIDs", result.err)
		}
		return result.data.AllUIDs(), nil
	}
}
