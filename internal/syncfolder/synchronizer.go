package syncfolder

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/account"
	"github.com/parlorsh/parlor/internal/conflict"
	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/folder"
	"github.com/parlorsh/parlor/internal/imappool"
	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/message"
	"github.com/parlorsh/parlor/internal/progress"
	"github.com/parlorsh/parlor/internal/threading"
)

// Synchronizer is the Folder Synchronizer (C4): a per-invocation state
// machine that reconciles one account's remote folders and messages into
// the local stores, publishing progress as it goes.
type Synchronizer struct {
	folders   *folder.Store
	messages  *message.Store
	pool      *imappool.Pool
	bus       *progress.Bus
	conflicts *conflict.Queue
	cfg       Config
	log       zerolog.Logger
}

// New builds a Synchronizer over the given stores and connection pool.
func New(folders *folder.Store, messages *message.Store, pool *imappool.Pool, bus *progress.Bus, conflicts *conflict.Queue, cfg Config) *Synchronizer {
	return &Synchronizer{
		folders:   folders,
		messages:  messages,
		pool:      pool,
		bus:       bus,
		conflicts: conflicts,
		cfg:       cfg,
		log:       logging.WithComponent("syncfolder"),
	}
}

// Run executes one sync invocation for acc, returning the operation id its
// progress is published under on the Bus. folderFullName restricts the
// run to a single mailbox; "" syncs every selectable folder discovered by
// LIST. The returned error is also what the terminal progress event
// carries, so callers that only care about progress can discard it.
func (s *Synchronizer) Run(ctx context.Context, acc account.Account, folderFullName string, strategy Strategy) (string, error) {
	return s.RunWithID(ctx, uuid.NewString(), acc, folderFullName, strategy)
}

// RunWithID is Run with a caller-supplied operation id. The Sync Engine
// (C5) uses this so it can record the id in its active-operations table
// before the run completes, rather than learning it only on return.
func (s *Synchronizer) RunWithID(ctx context.Context, operationID string, acc account.Account, folderFullName string, strategy Strategy) (string, error) {
	op := s.bus.NewOperation(operationID, acc.ID, folderFullName, time.Now().UTC())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var processed, downloaded uint64
	op.Update(progress.PhaseInitializing, processed, downloaded, nil, nil)

	sess, release, err := s.pool.Acquire(ctx, acc)
	if err != nil {
		op.Error(err.Error(), processed, downloaded)
		return operationID, err
	}
	defer release()

	op.Update(progress.PhaseCheckingFolders, processed, downloaded, nil, nil)
	var targets []*folder.Folder
	err = s.withRetry(ctx, func() error {
		listed, rErr := s.reconcileFolders(ctx, acc.ID, sess)
		if rErr != nil {
			return rErr
		}
		targets = listed
		return nil
	})
	if err != nil {
		op.Error(err.Error(), processed, downloaded)
		return operationID, err
	}

	if folderFullName != "" {
		targets = filterFolder(targets, folderFullName)
		if len(targets) == 0 {
			notFound := errs.New(errs.KindNotFound, "syncfolder.Run", "folder not found: "+folderFullName)
			op.Error(notFound.Error(), processed, downloaded)
			return operationID, notFound
		}
	}

	for _, f := range targets {
		if f.HasAttr(folder.AttrNoselect) {
			continue
		}
		if ctx.Err() != nil {
			op.Cancelled(processed, downloaded)
			return operationID, ctx.Err()
		}
		if err := s.syncOneFolder(ctx, acc, sess, f, strategy, op, &processed, &downloaded); err != nil {
			if errs.Is(err, errs.KindCancelled) {
				op.Cancelled(processed, downloaded)
				return operationID, err
			}
			op.Error(err.Error(), processed, downloaded)
			return operationID, err
		}
	}

	op.Complete(processed, downloaded)
	return operationID, nil
}

func filterFolder(in []*folder.Folder, fullName string) []*folder.Folder {
	for _, f := range in {
		if f.FullName == fullName {
			return []*folder.Folder{f}
		}
	}
	return nil
}

func (s *Synchronizer) withRetry(ctx context.Context, op func() error) error {
	return withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, op)
}

// syncOneFolder drives phases b through d of §4.4 for a single folder:
// SELECT/UIDVALIDITY check, FetchingHeaders, ProcessingChanges, and
// FetchingBodies (skipped for HeadersOnly).
func (s *Synchronizer) syncOneFolder(
	ctx context.Context,
	acc account.Account,
	sess *imapsession.Session,
	f *folder.Folder,
	strategy Strategy,
	op *progress.OperationPublisher,
	processed, downloaded *uint64,
) (err error) {
	var info *imapsession.SelectedInfo
	if err := s.withRetry(ctx, func() error {
		i, sErr := sess.Select(ctx, f.FullName)
		if sErr != nil {
			return sErr
		}
		info = i
		return nil
	}); err != nil {
		return err
	}

	state, stateErr := s.folders.GetSyncState(f.ID)
	if stateErr != nil {
		return stateErr
	}
	if state == nil {
		state = &folder.SyncState{FolderID: f.ID, AccountID: acc.ID}
	}

	// On cancellation, leave a durable record that this folder's sync state
	// was left mid-run: the next Run() call degrades nothing on its own, but
	// an operator or the sync engine can see a folder never reached Complete.
	defer func() {
		if err != nil && errs.Is(err, errs.KindCancelled) {
			state.Status = folder.StatusCanceled
			state.StatusDetail = err.Error()
			if uErr := s.folders.UpdateSyncState(state); uErr != nil {
				s.log.Error().Err(uErr).Str("folder", f.FullName).Msg("failed to persist cancelled sync state")
			}
		}
	}()

	effective := strategy
	switch {
	case state.UIDValidity != 0 && state.UIDValidity != info.UIDValidity:
		// UIDVALIDITY re-keyed: every locally held UID is now meaningless.
		// Purge and force Full regardless of what the caller asked for.
		s.log.Warn().Str("folder", f.FullName).Uint32("old", state.UIDValidity).
			Uint32("new", info.UIDValidity).Msg("uidvalidity changed, purging folder")
		if err := s.messages.PurgeFolder(acc.ID, f.ID); err != nil {
			return err
		}
		if err := s.folders.ResetSyncStateForUIDValidityChange(f.ID, info.UIDValidity); err != nil {
			return err
		}
		effective = Full()
		state.UIDValidity = info.UIDValidity
		state.HighestModSeq = nil
		state.UIDNext = 0
	case state.UIDValidity == 0:
		state.UIDValidity = info.UIDValidity
	}

	if effective.Kind == StrategyIncremental && state.HighestModSeq != nil &&
		info.HighestModSeq != 0 && info.HighestModSeq < *state.HighestModSeq {
		s.log.Warn().Str("folder", f.FullName).Msg("highest modseq regressed, falling back to full sync")
		effective = Full()
	}

	op.Update(progress.PhaseFetchingHeaders, *processed, *downloaded, nil, nil)
	uidRange, searchErr := s.uidRangeFor(ctx, sess, effective, state)
	if searchErr != nil {
		return searchErr
	}
	seenUIDs, err := s.fetchAndStoreHeaders(ctx, acc, sess, f, uidRange, op, processed, downloaded)
	if err != nil {
		return err
	}

	op.Update(progress.PhaseProcessingChanges, *processed, *downloaded, nil, nil)
	if effective.Kind == StrategyIncremental && state.HighestModSeq != nil && sess.SupportsCondStore() {
		if err := s.processChanges(ctx, acc, sess, f, *state.HighestModSeq); err != nil {
			return err
		}
	}
	if effective.Kind == StrategyFull {
		if err := s.reconcileExpunged(acc, f.ID, seenUIDs); err != nil {
			return err
		}
	}

	if effective.Kind != StrategyHeadersOnly {
		op.Update(progress.PhaseFetchingBodies, *processed, *downloaded, nil, nil)
		if err := s.fetchBodies(ctx, acc, sess, f, op, processed, downloaded); err != nil {
			return err
		}
	}

	state.UIDNext = info.UIDNext
	if sess.SupportsCondStore() {
		hm := info.HighestModSeq
		state.HighestModSeq = &hm
	}
	total, unread, err := s.messages.CountByFolder(acc.ID, f.ID)
	if err != nil {
		return err
	}
	state.MessageCount = total
	state.UnreadCount = unread
	state.Status = folder.StatusComplete
	state.StatusDetail = ""
	return s.folders.UpdateSyncState(state)
}

// uidRangeFor resolves the UID set each strategy fetches headers for.
// Incremental without CONDSTORE support degrades to "everything from
// uid_next onward", matching the fallback §4.4 names explicitly; the
// trailing flag-scan half of that fallback is handled by ProcessingChanges
// being skipped, since flag reconciliation there requires CONDSTORE too.
func (s *Synchronizer) uidRangeFor(ctx context.Context, sess *imapsession.Session, strategy Strategy, state *folder.SyncState) (imap.UIDSet, error) {
	var set imap.UIDSet
	switch strategy.Kind {
	case StrategyFull, StrategyHeadersOnly:
		set.AddRange(1, 0)
	case StrategyIncremental:
		if state.UIDNext > 1 {
			set.AddRange(imap.UID(state.UIDNext), 0)
		} else {
			set.AddRange(1, 0)
		}
	case StrategyRecent:
		since := time.Now().UTC().AddDate(0, 0, -strategy.RecentDays)
		uids, err := searchUIDsSince(ctx, sess.RawClient(), since)
		if err != nil {
			return set, err
		}
		if len(uids) == 0 {
			return set, nil
		}
		for _, u := range uids {
			set.AddNum(u)
		}
	}
	return set, nil
}

// searchUIDsSince runs UID SEARCH SINCE in a goroutine so a cancelled
// context returns promptly instead of blocking on Wait() indefinitely,
// the same pattern the teacher's date-range search uses.
func searchUIDsSince(ctx context.Context, client *imapclient.Client, since time.Time) ([]imap.UID, error) {
	cmd := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil)

	type result struct {
		data *imap.SearchData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := cmd.Wait()
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "syncfolder.searchUIDsSince", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, errs.Wrap(errs.KindProtocol, "syncfolder.searchUIDsSince", r.err)
		}
		return r.data.AllUIDs(), nil
	}
}

// fetchAndStoreHeaders streams HeaderRecords for uids, resolving threads
// and flushing a batch to C3 in one transaction every BatchSize records
// (or at stream end), matching the "insert/update inside batched
// transactions" requirement. Cancellation mid-stream commits whatever
// batch was already flushed and discards only the partially accumulated
// one, since it was never handed to StoreMessagesBatch.
func (s *Synchronizer) fetchAndStoreHeaders(
	ctx context.Context,
	acc account.Account,
	sess *imapsession.Session,
	f *folder.Folder,
	uids imap.UIDSet,
	op *progress.OperationPublisher,
	processed, downloaded *uint64,
) (map[uint32]bool, error) {
	seen := make(map[uint32]bool)
	if len(uids) == 0 {
		return seen, nil
	}

	lookup := storeAnchorLookup{store: s.messages, accountID: acc.ID, log: s.log}
	batch := make([]*message.Stored, 0, s.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.messages.StoreMessagesBatch(acc.ID, batch); err != nil {
			return err
		}
		for _, m := range batch {
			s.mergeLateAncestor(acc.ID, m)
		}
		*processed += uint64(len(batch))
		batch = batch[:0]
		op.Update(progress.PhaseFetchingHeaders, *processed, *downloaded, nil, nil)
		return nil
	}

	fetchErr := s.withRetry(ctx, func() error {
		return sess.FetchHeaders(ctx, uids, func(rec imapsession.HeaderRecord) error {
			if ctx.Err() != nil {
				return errs.Wrap(errs.KindCancelled, "syncfolder.fetchAndStoreHeaders", ctx.Err())
			}
			seen[uint32(rec.UID)] = true
			m := buildStoredMessage(rec)
			m.AccountID = acc.ID
			m.FolderID = f.ID
			s.assignThread(m, lookup)

			batch = append(batch, m)
			if len(batch) >= s.cfg.BatchSize {
				return flush()
			}
			return nil
		})
	})

	if fetchErr != nil && (ctx.Err() != nil || errs.Is(fetchErr, errs.KindCancelled)) {
		return seen, fetchErr // cancelled: the partial batch is discarded, not flushed
	}
	if flushErr := flush(); flushErr != nil {
		if fetchErr == nil {
			fetchErr = flushErr
		}
	}
	return seen, fetchErr
}

// assignThread resolves m's thread_id before it enters a batch. Only
// genuinely fresh messages get a freshly minted id; an existing row would
// already have one via StoreMessagesBatch's upsert-by-UID, but Resolve
// still needs a candidate id to hand back if nothing anchors it.
func (s *Synchronizer) assignThread(m *message.Stored, lookup threading.AnchorLookup) {
	anchors := threading.Anchors{
		MessageID: m.MessageID,
		InReplyTo: m.InReplyTo,
		Refs:      m.ReferencesHdr,
		Subject:   m.Subject,
		Date:      m.Date,
	}
	m.ThreadID = threading.Resolve(anchors, lookup, uuid.NewString())
}

// mergeLateAncestor implements §4.3's point 4: if m turns out to be the
// ancestor of a thread that was rooted before m itself was known, merge
// the two threads, keeping the lexicographically smaller id.
func (s *Synchronizer) mergeLateAncestor(accountID string, m *message.Stored) {
	if m.MessageID == "" {
		return
	}
	descendants, err := s.messages.FindDescendantThreads(accountID, m.MessageID)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to look up descendant threads for late ancestor")
		return
	}
	for _, other := range descendants {
		if other == m.ThreadID {
			continue
		}
		survivor, absorbed := threading.MergeTarget(m.ThreadID, other)
		if err := s.messages.MergeThreads(accountID, absorbed, survivor); err != nil {
			s.log.Warn().Err(err).Msg("failed to merge threads")
			continue
		}
		m.ThreadID = survivor
	}
}

// processChanges runs the ProcessingChanges phase for CONDSTORE-capable
// incremental runs: reconcile every flag update the server reports since
// highestModSeq against §4.5, applying or queuing the result per message.
// Reuses the folder's already-selected session rather than acquiring a
// second one, since C1 sessions are never shared concurrently but this
// call happens strictly after the FetchingHeaders phase on sess finishes.
func (s *Synchronizer) processChanges(ctx context.Context, acc account.Account, sess *imapsession.Session, f *folder.Folder, highestModSeq uint64) error {
	return s.withRetry(ctx, func() error {
		return sess.FetchChangesSince(ctx, highestModSeq, func(rec imapsession.ChangeRecord) error {
			if ctx.Err() != nil {
				return errs.Wrap(errs.KindCancelled, "syncfolder.processChanges", ctx.Err())
			}
			return s.reconcileOneChange(acc, f, rec)
		})
	})
}

func (s *Synchronizer) reconcileOneChange(acc account.Account, f *folder.Folder, rec imapsession.ChangeRecord) error {
	existing, err := s.messages.GetMessageByUID(acc.ID, f.ID, uint32(rec.UID))
	if err != nil || existing == nil {
		return err
	}

	serverFlags := flagSetFromIMAP(rec.Flags)
	delta, err := conflict.UnmarshalPending(existing.PendingLocalFlags)
	if err != nil {
		return err
	}
	if delta.Empty() {
		// no local change in flight: just adopt the server's flags.
		return s.messages.UpdateFlags(acc.ID, existing.ID, serverFlags)
	}

	res := conflict.Resolve(mapConflictPolicy(acc.ConflictPolicy), existing.Flags, serverFlags, delta)
	switch res.Action {
	case conflict.ActionAskUser:
		s.conflicts.Add(conflict.Record{
			MessageID:   existing.ID,
			AccountID:   acc.ID,
			FolderName:  f.FullName,
			BaseFlags:   existing.Flags,
			ServerFlags: serverFlags,
			Delta:       delta,
			QueuedAt:    time.Now().UTC(),
		})
		return nil
	case conflict.ActionPushToServer, conflict.ActionAdoptServer:
		if err := s.messages.UpdateFlags(acc.ID, existing.ID, res.Flags); err != nil {
			return err
		}
		cleared, err := conflict.MarshalPending(conflict.FlagDelta{})
		if err != nil {
			return err
		}
		return s.messages.SetPendingFlags(acc.ID, existing.ID, cleared)
	}
	return nil
}

// mapConflictPolicy bridges account.ConflictPolicy's persisted snake_case
// values to conflict.Policy's identifiers; the two packages were written
// independently and were never meant to share a wire representation.
func mapConflictPolicy(p account.ConflictPolicy) conflict.Policy {
	switch p {
	case account.ConflictLocalWins:
		return conflict.PolicyLocalWins
	case account.ConflictMerge:
		return conflict.PolicyMerge
	case account.ConflictAskUser:
		return conflict.PolicyAskUser
	default:
		return conflict.PolicyServerWins
	}
}

// reconcileExpunged soft-deletes locally stored messages absent from
// seenUIDs, the set a full-range FetchingHeaders pass just observed on the
// wire: the server-expunge tie-break §4.4 names explicitly. Only valid
// after a Full-strategy header fetch, since that's the only one that
// walks every UID in the mailbox.
//
// Before deleting anything it runs the teacher's sanityCheckDeletions
// guard: a transient SEARCH/FETCH failure that comes back with zero or
// few UIDs looks identical to a genuinely empty folder, and without this
// check would read as "the server expunged everything" and wipe the local
// copy.
func (s *Synchronizer) reconcileExpunged(acc account.Account, folderID string, seenUIDs map[uint32]bool) error {
	localUIDs, err := s.messages.UIDsInFolder(acc.ID, folderID)
	if err != nil {
		return err
	}

	if !s.sanityCheckDeletions(acc, folderID, localUIDs, seenUIDs) {
		return nil
	}

	for _, uid := range localUIDs {
		if seenUIDs[uid] {
			continue
		}
		m, err := s.messages.GetMessageByUID(acc.ID, folderID, uid)
		if err != nil || m == nil {
			continue
		}
		if err := s.messages.DeleteMessage(acc.ID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// sanityCheckDeletions mirrors the teacher's two expunge safeguards
// (internal/sync/messages.go): skip deletion entirely when the server
// appears to have reported nothing for a folder that has local mail (most
// likely a transient failure, not a real empty mailbox), and warn loudly
// when more than half of a non-trivial folder would be wiped in one pass.
// Both only apply to unlimited-window accounts (SyncPeriodDays == 0):
// a date-limited sync is expected to see fewer UIDs than it holds locally.
func (s *Synchronizer) sanityCheckDeletions(acc account.Account, folderID string, localUIDs []uint32, seenUIDs map[uint32]bool) bool {
	if acc.SyncPeriodDays != 0 {
		return true
	}

	if len(seenUIDs) == 0 && len(localUIDs) > 0 {
		s.log.Warn().Str("account", acc.ID).Str("folder", folderID).
			Int("localCount", len(localUIDs)).
			Msg("server returned 0 messages but local mail exists, skipping deletion to prevent data loss")
		return false
	}

	var toDelete int
	for _, uid := range localUIDs {
		if !seenUIDs[uid] {
			toDelete++
		}
	}
	if len(localUIDs) > 10 && toDelete > len(localUIDs)/2 {
		s.log.Warn().Str("account", acc.ID).Str("folder", folderID).
			Int("localCount", len(localUIDs)).Int("deletedCount", toDelete).
			Msg("about to delete more than 50% of local messages, this may indicate a sync issue")
	}
	return true
}

// fetchBodies runs the FetchingBodies phase: fetch and parse raw bodies
// for every message in the folder still marked BodyFetched=false.
func (s *Synchronizer) fetchBodies(
	ctx context.Context,
	acc account.Account,
	sess *imapsession.Session,
	f *folder.Folder,
	op *progress.OperationPublisher,
	processed, downloaded *uint64,
) error {
	pending, err := s.messagesNeedingBody(acc.ID, f.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	byUID := make(map[uint32]*message.Stored, len(pending))
	var uids imap.UIDSet
	for _, m := range pending {
		byUID[m.UID] = m
		uids.AddNum(imap.UID(m.UID))
	}

	return s.withRetry(ctx, func() error {
		return sess.FetchBodies(ctx, uids, func(rec imapsession.BodyRecord) error {
			if ctx.Err() != nil {
				return errs.Wrap(errs.KindCancelled, "syncfolder.fetchBodies", ctx.Err())
			}
			m, ok := byUID[uint32(rec.UID)]
			if !ok {
				return nil
			}
			parsed := ParseBody(rec.Raw)
			m.BodyText = parsed.BodyText
			m.BodyHTML = parsed.BodyHTML
			m.Attachments = parsed.Attachments
			m.BodyFetched = true
			if err := s.messages.StoreMessage(m); err != nil {
				return err
			}
			*downloaded += uint64(len(rec.Raw))
			*processed++
			op.Update(progress.PhaseFetchingBodies, *processed, *downloaded, nil, nil)
			return nil
		})
	})
}

func (s *Synchronizer) messagesNeedingBody(accountID, folderID string) ([]*message.Stored, error) {
	const pageSize = 500
	var out []*message.Stored
	for offset := 0; ; offset += pageSize {
		page, err := s.messages.GetMessages(accountID, folderID, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if !m.BodyFetched {
				out = append(out, m)
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

