package message

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parlorsh/parlor/internal/database"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/parlorsh/parlor/internal/threading"
)

// changeSubscriberCapacity bounds each subscriber's channel. When a
// subscriber's channel is full, publish drops the event for that
// subscriber (logging a warning) instead of blocking the writer that
// produced the change; no Lagged marker is sent.
const changeSubscriberCapacity = 1024

// Store is the durable message registry: CRUD, flag updates, soft delete,
// purge, full-text search, and the change-event stream other components
// subscribe to. Writes for a single account are serialized through the
// per-account mutex from lockFor so concurrent Folder Synchronizer runs for the same account
// never interleave multi-row transactions; readers are never blocked.
type Store struct {
	db  *database.DB
	log zerolog.Logger

	writeLocks   map[string]*sync.Mutex
	writeLocksMu sync.Mutex

	subs   map[int]chan Change
	subsMu sync.Mutex
	nextID int
}

// NewStore wraps an open database for message persistence.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:         db,
		log:        logging.WithComponent("message-store"),
		writeLocks: make(map[string]*sync.Mutex),
		subs:       make(map[int]chan Change),
	}
}

func (s *Store) lockFor(accountID string) *sync.Mutex {
	s.writeLocksMu.Lock()
	defer s.writeLocksMu.Unlock()
	l, ok := s.writeLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[accountID] = l
	}
	return l
}

// SubscribeChanges returns a channel of Change events, buffered to
// changeSubscriberCapacity, and a cancel func that closes it. Events that
// arrive while the buffer is full are dropped for that subscriber rather
// than stalling every writer in the process: the channel stays open, and
// no marker tells the subscriber that events were lost.
func (s *Store) SubscribeChanges() (<-chan Change, func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Change, changeSubscriberCapacity)
	s.subs[id] = ch
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subsMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.log.Warn().Int("subscriber", id).Msg("change subscriber lagging, dropping event")
		}
	}
}

// StoreMessage inserts or updates a message keyed by (account_id,
// folder_id, imap_uid), bumping sync_version on every write.
func (s *Store) StoreMessage(m *Stored) error {
	lock := s.lockFor(m.AccountID)
	lock.Lock()
	defer lock.Unlock()

	kind, err := s.prepareAndUpsert(s.db, m)
	if err != nil {
		return err
	}
	s.publish(Change{AccountID: m.AccountID, FolderID: m.FolderID, Kind: kind, UID: m.UID, MessageID: m.ID})
	return nil
}

// StoreMessagesBatch upserts every message in one transaction, publishing
// change events only after the commit succeeds: the Folder Synchronizer
// uses this so a batch of fetched headers either lands atomically or not
// at all, matching the cancellation-safety the sync protocol requires.
func (s *Store) StoreMessagesBatch(accountID string, msgs []*Stored) error {
	if len(msgs) == 0 {
		return nil
	}
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	kinds := make([]ChangeKind, len(msgs))
	for i, m := range msgs {
		kind, err := s.prepareAndUpsert(tx, m)
		if err != nil {
			return err
		}
		kinds[i] = kind
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message batch: %w", err)
	}

	for i, m := range msgs {
		s.publish(Change{AccountID: m.AccountID, FolderID: m.FolderID, Kind: kinds[i], UID: m.UID, MessageID: m.ID})
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, so prepareAndUpsert can
// run either standalone or as part of a caller-managed transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) prepareAndUpsert(ex execer, m *Stored) (ChangeKind, error) {
	existing, err := getByUID(ex, m.AccountID, m.FolderID, m.UID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	kind := ChangeInserted
	if existing != nil {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.SyncVersion = existing.SyncVersion + 1
		kind = ChangeUpdated
	} else {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.CreatedAt = now
		m.SyncVersion = 1
	}
	m.UpdatedAt = now
	m.LastSyncedAt = now

	if err := upsert(ex, m); err != nil {
		return "", err
	}
	return kind, nil
}

func upsert(ex execer, m *Stored) error {
	toJSON, err := json.Marshal(m.To)
	if err != nil {
		return err
	}
	ccJSON, err := json.Marshal(m.Cc)
	if err != nil {
		return err
	}
	bccJSON, err := json.Marshal(m.Bcc)
	if err != nil {
		return err
	}
	refsJSON, err := json.Marshal(m.ReferencesHdr)
	if err != nil {
		return err
	}
	attachJSON, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	customFlagsJSON, err := json.Marshal(m.CustomFlags)
	if err != nil {
		return err
	}
	labelsJSON, err := json.Marshal(m.Labels)
	if err != nil {
		return err
	}

	_, err = ex.Exec(`
		INSERT INTO messages (
			id, account_id, folder_id, imap_uid, message_id, in_reply_to, refs, thread_id,
			subject, from_name, from_email, to_list, cc_list, bcc_list, reply_to, date,
			body_text, body_html, body_fetched, attachments,
			flag_seen, flag_answered, flag_flagged, flag_deleted, flag_draft, flag_recent,
			custom_flags, labels, size, priority, is_draft, is_deleted, pending_local_flags,
			sync_version, created_at, updated_at, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id, imap_uid) DO UPDATE SET
			id = excluded.id,
			message_id = excluded.message_id, in_reply_to = excluded.in_reply_to,
			refs = excluded.refs, thread_id = excluded.thread_id,
			subject = excluded.subject, from_name = excluded.from_name, from_email = excluded.from_email,
			to_list = excluded.to_list, cc_list = excluded.cc_list, bcc_list = excluded.bcc_list,
			reply_to = excluded.reply_to, date = excluded.date,
			body_text = excluded.body_text, body_html = excluded.body_html, body_fetched = excluded.body_fetched,
			attachments = excluded.attachments,
			flag_seen = excluded.flag_seen, flag_answered = excluded.flag_answered,
			flag_flagged = excluded.flag_flagged, flag_deleted = excluded.flag_deleted,
			flag_draft = excluded.flag_draft, flag_recent = excluded.flag_recent,
			custom_flags = excluded.custom_flags, labels = excluded.labels,
			size = excluded.size, priority = excluded.priority,
			is_draft = excluded.is_draft, is_deleted = excluded.is_deleted,
			pending_local_flags = excluded.pending_local_flags,
			sync_version = excluded.sync_version, updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at`,
		m.ID, m.AccountID, m.FolderID, m.UID, m.MessageID, m.InReplyTo, string(refsJSON), m.ThreadID,
		m.Subject, m.FromName, m.FromEmail, string(toJSON), string(ccJSON), string(bccJSON), m.ReplyTo, m.Date,
		m.BodyText, m.BodyHTML, boolToInt(m.BodyFetched), string(attachJSON),
		boolToInt(m.Flags[FlagSeen]), boolToInt(m.Flags[FlagAnswered]), boolToInt(m.Flags[FlagFlagged]),
		boolToInt(m.Flags[FlagDeleted]), boolToInt(m.Flags[FlagDraft]), boolToInt(m.Flags[FlagRecent]),
		string(customFlagsJSON), string(labelsJSON), m.Size, m.Priority,
		boolToInt(m.IsDraft), boolToInt(m.IsDeleted), m.PendingLocalFlags,
		m.SyncVersion, m.CreatedAt, m.UpdatedAt, m.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func getByUID(ex execer, accountID, folderID string, uid uint32) (*Stored, error) {
	row := ex.QueryRow(`SELECT id, created_at, sync_version FROM messages WHERE account_id = ? AND folder_id = ? AND imap_uid = ?`,
		accountID, folderID, uid)
	var m Stored
	if err := row.Scan(&m.ID, &m.CreatedAt, &m.SyncVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up message by uid: %w", err)
	}
	return &m, nil
}

// UpdateFlags applies a flag set to a message in place, without touching
// body/envelope fields, and bumps sync_version.
func (s *Store) UpdateFlags(accountID, messageID string, flags map[Flag]bool) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.Exec(`
		UPDATE messages SET
			flag_seen = ?, flag_answered = ?, flag_flagged = ?,
			flag_deleted = ?, flag_draft = ?, flag_recent = ?,
			sync_version = sync_version + 1, updated_at = ?
		WHERE id = ? AND account_id = ?`,
		boolToInt(flags[FlagSeen]), boolToInt(flags[FlagAnswered]), boolToInt(flags[FlagFlagged]),
		boolToInt(flags[FlagDeleted]), boolToInt(flags[FlagDraft]), boolToInt(flags[FlagRecent]),
		time.Now().UTC(), messageID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}

	folderID, uid, err := s.folderAndUID(messageID)
	if err != nil {
		return err
	}
	s.publish(Change{AccountID: accountID, FolderID: folderID, Kind: ChangeUpdated, UID: uid, MessageID: messageID})
	return nil
}

func (s *Store) folderAndUID(messageID string) (string, uint32, error) {
	row := s.db.QueryRow(`SELECT folder_id, imap_uid FROM messages WHERE id = ?`, messageID)
	var folderID string
	var uid uint32
	if err := row.Scan(&folderID, &uid); err != nil {
		return "", 0, err
	}
	return folderID, uid, nil
}

// DeleteMessage sets the local tombstone (is_deleted) without removing the
// row; Purge performs the hard delete.
func (s *Store) DeleteMessage(accountID, messageID string) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	folderID, uid, err := s.folderAndUID(messageID)
	if err != nil {
		return fmt.Errorf("message %s not found: %w", messageID, err)
	}
	if _, err := s.db.Exec(`UPDATE messages SET is_deleted = 1, sync_version = sync_version + 1, updated_at = ? WHERE id = ? AND account_id = ?`,
		time.Now().UTC(), messageID, accountID); err != nil {
		return fmt.Errorf("failed to tombstone message: %w", err)
	}
	s.publish(Change{AccountID: accountID, FolderID: folderID, Kind: ChangeDeleted, UID: uid, MessageID: messageID})
	return nil
}

// Purge hard-deletes the messages with the given UIDs in a folder,
// tombstoned or not, used after the server confirms an EXPUNGE.
func (s *Store) Purge(accountID, folderID string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, uid := range uids {
		if _, err := tx.Exec(`DELETE FROM messages WHERE account_id = ? AND folder_id = ? AND imap_uid = ?`,
			accountID, folderID, uid); err != nil {
			return fmt.Errorf("failed to purge message uid=%d: %w", uid, err)
		}
	}
	return tx.Commit()
}

// PurgeFolder deletes every message in a folder in one transaction, used
// when UIDVALIDITY changes and the whole folder must be re-fetched.
func (s *Store) PurgeFolder(accountID, folderID string) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec(`DELETE FROM messages WHERE account_id = ? AND folder_id = ?`, accountID, folderID)
	if err != nil {
		return fmt.Errorf("failed to purge folder: %w", err)
	}
	return nil
}

// GetMessages returns messages in a folder, newest first.
func (s *Store) GetMessages(accountID, folderID string, limit, offset int) ([]*Stored, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, folder_id, imap_uid, message_id, in_reply_to, refs, thread_id,
		       subject, from_name, from_email, to_list, cc_list, bcc_list, reply_to, date,
		       body_text, body_html, body_fetched, attachments,
		       flag_seen, flag_answered, flag_flagged, flag_deleted, flag_draft, flag_recent,
		       custom_flags, labels, size, priority, is_draft, is_deleted, pending_local_flags,
		       sync_version, created_at, updated_at, last_synced_at
		FROM messages
		WHERE account_id = ? AND folder_id = ? AND is_deleted = 0
		ORDER BY date DESC
		LIMIT ? OFFSET ?`, accountID, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*Stored
	for rows.Next() {
		m, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStored(row scanner) (*Stored, error) {
	var m Stored
	var toJSON, ccJSON, bccJSON, refsJSON, attachJSON, customFlagsJSON, labelsJSON string
	var date sql.NullTime
	var seen, answered, flagged, deleted, draft, recent int
	var isDraft, isDeleted int

	if err := row.Scan(
		&m.ID, &m.AccountID, &m.FolderID, &m.UID, &m.MessageID, &m.InReplyTo, &refsJSON, &m.ThreadID,
		&m.Subject, &m.FromName, &m.FromEmail, &toJSON, &ccJSON, &bccJSON, &m.ReplyTo, &date,
		&m.BodyText, &m.BodyHTML, &m.BodyFetched, &attachJSON,
		&seen, &answered, &flagged, &deleted, &draft, &recent,
		&customFlagsJSON, &labelsJSON, &m.Size, &m.Priority, &isDraft, &isDeleted, &m.PendingLocalFlags,
		&m.SyncVersion, &m.CreatedAt, &m.UpdatedAt, &m.LastSyncedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if date.Valid {
		m.Date = date.Time
	}
	m.IsDraft = isDraft != 0
	m.IsDeleted = isDeleted != 0
	m.Flags = map[Flag]bool{
		FlagSeen: seen != 0, FlagAnswered: answered != 0, FlagFlagged: flagged != 0,
		FlagDeleted: deleted != 0, FlagDraft: draft != 0, FlagRecent: recent != 0,
	}

	for _, pair := range []struct {
		raw string
		out any
	}{
		{toJSON, &m.To}, {ccJSON, &m.Cc}, {bccJSON, &m.Bcc},
		{refsJSON, &m.ReferencesHdr}, {attachJSON, &m.Attachments},
		{customFlagsJSON, &m.CustomFlags}, {labelsJSON, &m.Labels},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.out); err != nil {
			return nil, fmt.Errorf("failed to decode message json column: %w", err)
		}
	}
	return &m, nil
}

// SearchResult wraps one matched message; its containing folder is
// Message.FolderID.
type SearchResult struct {
	Message *Stored
}

// Search runs a full-text query against subject/from/body via FTS5.
func (s *Store) Search(accountID, query string, limit int) ([]SearchResult, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.account_id, m.folder_id, m.imap_uid, m.message_id, m.in_reply_to, m.refs, m.thread_id,
		       m.subject, m.from_name, m.from_email, m.to_list, m.cc_list, m.bcc_list, m.reply_to, m.date,
		       m.body_text, m.body_html, m.body_fetched, m.attachments,
		       m.flag_seen, m.flag_answered, m.flag_flagged, m.flag_deleted, m.flag_draft, m.flag_recent,
		       m.custom_flags, m.labels, m.size, m.priority, m.is_draft, m.is_deleted, m.pending_local_flags,
		       m.sync_version, m.created_at, m.updated_at, m.last_synced_at
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ? AND m.account_id = ? AND m.is_deleted = 0
		ORDER BY rank
		LIMIT ?`, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		m, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchResult{Message: m})
	}
	return out, rows.Err()
}

// FindThreadAnchors returns the thread_id already assigned to a stored
// message whose Message-ID equals inReplyTo, and separately to one whose
// Message-ID is in refs (the rightmost that resolves), used by the
// threading resolver to decide whether a new message joins an existing
// thread. Matches are returned most-specific first: in_reply_to before
// references.
func (s *Store) FindThreadAnchors(accountID, inReplyTo string, refs []string) (inReplyToMatch, referenceMatch string, err error) {
	if inReplyTo != "" {
		row := s.db.QueryRow(`SELECT thread_id FROM messages WHERE account_id = ? AND message_id = ? AND thread_id != '' LIMIT 1`,
			accountID, inReplyTo)
		var t string
		if err := row.Scan(&t); err == nil {
			inReplyToMatch = t
		} else if err != sql.ErrNoRows {
			return "", "", err
		}
	}

	for i := len(refs) - 1; i >= 0; i-- {
		row := s.db.QueryRow(`SELECT thread_id FROM messages WHERE account_id = ? AND message_id = ? AND thread_id != '' LIMIT 1`,
			accountID, refs[i])
		var t string
		if err := row.Scan(&t); err == nil {
			referenceMatch = t
			break
		} else if err != sql.ErrNoRows {
			return "", "", err
		}
	}
	return inReplyToMatch, referenceMatch, nil
}

// FindBySubjectWindow finds a thread_id for a normalized subject whose most
// recent message falls within window of t, the fallback thread-matching
// rule when no In-Reply-To/References anchor exists.
func (s *Store) FindBySubjectWindow(accountID, normalizedSubject string, t time.Time, window time.Duration) (string, error) {
	rows, err := s.db.Query(`
		SELECT thread_id, subject FROM messages
		WHERE account_id = ? AND thread_id != ''
		  AND date BETWEEN ? AND ?
		ORDER BY ABS(strftime('%s', date) - strftime('%s', ?)) ASC`,
		accountID, t.Add(-window), t.Add(window), t)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var threadID, subject string
		if err := rows.Scan(&threadID, &subject); err != nil {
			return "", err
		}
		if threading.NormalizeSubject(subject) == normalizedSubject {
			return threadID, nil
		}
	}
	return "", rows.Err()
}

// FindDescendantThreads returns the distinct thread_ids of messages whose
// in_reply_to equals messageID: used when a late-arriving ancestor needs
// to discover a thread it should be merged into.
func (s *Store) FindDescendantThreads(accountID, messageID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT thread_id FROM messages
		WHERE account_id = ? AND in_reply_to = ? AND thread_id != ''`,
		accountID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find descendant threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MergeThreads reassigns every message in fromThread to toThread, used
// when a late-arriving ancestor links two threads that were created
// independently. Idempotent: merging a thread into itself is a no-op.
func (s *Store) MergeThreads(accountID, fromThread, toThread string) error {
	if fromThread == toThread {
		return nil
	}
	_, err := s.db.Exec(`UPDATE messages SET thread_id = ? WHERE account_id = ? AND thread_id = ?`,
		toThread, accountID, fromThread)
	if err != nil {
		return fmt.Errorf("failed to merge threads: %w", err)
	}
	return nil
}

// GetMessageByUID looks up one stored message by its IMAP UID within a
// folder, or (nil, nil) if no row matches.
func (s *Store) GetMessageByUID(accountID, folderID string, uid uint32) (*Stored, error) {
	row := s.db.QueryRow(`
		SELECT id, account_id, folder_id, imap_uid, message_id, in_reply_to, refs, thread_id,
		       subject, from_name, from_email, to_list, cc_list, bcc_list, reply_to, date,
		       body_text, body_html, body_fetched, attachments,
		       flag_seen, flag_answered, flag_flagged, flag_deleted, flag_draft, flag_recent,
		       custom_flags, labels, size, priority, is_draft, is_deleted, pending_local_flags,
		       sync_version, created_at, updated_at, last_synced_at
		FROM messages
		WHERE account_id = ? AND folder_id = ? AND imap_uid = ? AND is_deleted = 0`,
		accountID, folderID, uid)
	m, err := scanStored(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// SetPendingFlags overwrites PendingLocalFlags directly, without touching
// any other field or bumping sync_version: used once a conflict has been
// resolved and the local pending delta has either been discarded or fully
// applied to the server.
func (s *Store) SetPendingFlags(accountID, messageID, pending string) error {
	_, err := s.db.Exec(`UPDATE messages SET pending_local_flags = ? WHERE id = ? AND account_id = ?`,
		pending, messageID, accountID)
	if err != nil {
		return fmt.Errorf("failed to set pending flags: %w", err)
	}
	return nil
}

// CountByFolder reports the live (non-tombstoned) message count and the
// count of those missing \Seen, the pair the Folder Synchronizer writes
// into FolderSyncState after every run.
func (s *Store) CountByFolder(accountID, folderID string) (total, unread int, err error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE flag_seen = 0)
		FROM messages WHERE account_id = ? AND folder_id = ? AND is_deleted = 0`,
		accountID, folderID)
	if err := row.Scan(&total, &unread); err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, unread, nil
}

// UIDsInFolder returns the IMAP UIDs of every live message stored locally
// for a folder, used to detect server-side expunges after a Full sync by
// diffing against the UIDs just observed on the wire.
func (s *Store) UIDsInFolder(accountID, folderID string) ([]uint32, error) {
	rows, err := s.db.Query(`SELECT imap_uid FROM messages WHERE account_id = ? AND folder_id = ? AND is_deleted = 0`,
		accountID, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder uids: %w", err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}
