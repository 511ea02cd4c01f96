package folder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parlorsh/parlor/internal/database"
)

// missedSyncsDeadThreshold is the number of consecutive LIST passes a
// folder may be absent from the server before it is marked Dead.
const missedSyncsDeadThreshold = 2

// Store is the durable folder registry, backed by the folders and
// folder_sync_state tables.
type Store struct {
	db *database.DB
}

// NewStore wraps an open database for folder persistence.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// List returns all non-dead folders for an account.
func (s *Store) List(accountID string) ([]*Folder, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, name, full_name, delimiter, attrs, parent_id,
		       missed_syncs, dead, created_at
		FROM folders WHERE account_id = ? AND dead = 0`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetByFullName looks up a folder by its full IMAP mailbox name.
func (s *Store) GetByFullName(accountID, fullName string) (*Folder, error) {
	row := s.db.QueryRow(`
		SELECT id, account_id, name, full_name, delimiter, attrs, parent_id,
		       missed_syncs, dead, created_at
		FROM folders WHERE account_id = ? AND full_name = ?`, accountID, fullName)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFolder(row scannable) (*Folder, error) {
	var f Folder
	var attrsJSON string
	var parentID sql.NullString
	var dead int

	if err := row.Scan(&f.ID, &f.AccountID, &f.Name, &f.FullName, &f.Delimiter,
		&attrsJSON, &parentID, &f.MissedSyncs, &dead, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ParentID = parentID.String
	f.Dead = dead != 0
	if err := json.Unmarshal([]byte(attrsJSON), &f.Attrs); err != nil {
		return nil, fmt.Errorf("failed to decode folder attrs: %w", err)
	}
	return &f, nil
}

// Create inserts a newly discovered folder along with its (empty)
// sync state row, satisfying the one-row-per-folder invariant.
func (s *Store) Create(f *Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	attrsJSON, err := json.Marshal(f.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode folder attrs: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var parentID any
	if f.ParentID != "" {
		parentID = f.ParentID
	}

	if _, err := tx.Exec(`
		INSERT INTO folders (id, account_id, name, full_name, delimiter, attrs, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.AccountID, f.Name, f.FullName, f.Delimiter, string(attrsJSON), parentID,
	); err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO folder_sync_state (folder_id, account_id) VALUES (?, ?)`,
		f.ID, f.AccountID,
	); err != nil {
		return fmt.Errorf("failed to insert folder sync state: %w", err)
	}
	return tx.Commit()
}

// UpdateAttrs persists a folder's attrs/delimiter/parent after a LIST
// reconciliation and resets its missed-sync counter.
func (s *Store) UpdateAttrs(f *Folder) error {
	attrsJSON, err := json.Marshal(f.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode folder attrs: %w", err)
	}
	var parentID any
	if f.ParentID != "" {
		parentID = f.ParentID
	}
	_, err = s.db.Exec(`
		UPDATE folders SET name = ?, delimiter = ?, attrs = ?, parent_id = ?,
		       missed_syncs = 0, dead = 0
		WHERE id = ?`,
		f.Name, f.Delimiter, string(attrsJSON), parentID, f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

// MarkSeen resets the missed-sync counter for folders present in the
// latest LIST response.
func (s *Store) MarkSeen(folderID string) error {
	_, err := s.db.Exec(`UPDATE folders SET missed_syncs = 0, dead = 0 WHERE id = ?`, folderID)
	return err
}

// MarkMissing increments the missed-sync counter for a folder absent from
// the latest LIST response, marking it Dead once it crosses the threshold.
// Dead folders are not deleted immediately: a single missing LIST pass
// could be a transient server blip, and the folder's messages should
// survive a one-off hiccup.
func (s *Store) MarkMissing(folderID string) error {
	_, err := s.db.Exec(`
		UPDATE folders
		SET missed_syncs = missed_syncs + 1,
		    dead = CASE WHEN missed_syncs + 1 >= ? THEN 1 ELSE dead END
		WHERE id = ?`, missedSyncsDeadThreshold, folderID)
	return err
}

// CollectDead permanently deletes folders marked Dead, cascading to their
// messages and sync state via foreign keys, and returns the deleted IDs.
func (s *Store) CollectDead(accountID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM folders WHERE account_id = ? AND dead = 1`, accountID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete dead folder %s: %w", id, err)
		}
	}
	return ids, nil
}

// Delete removes a folder immediately (explicit user action), cascading
// to its messages and sync state.
func (s *Store) Delete(folderID string) error {
	_, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, folderID)
	return err
}

// GetSyncState reads the single FolderSyncState row for a folder.
func (s *Store) GetSyncState(folderID string) (*SyncState, error) {
	row := s.db.QueryRow(`
		SELECT folder_id, account_id, uid_validity, uid_next, highest_modseq,
		       message_count, unread_count, last_sync_at, status, status_detail
		FROM folder_sync_state WHERE folder_id = ?`, folderID)

	var st SyncState
	var highestModSeq sql.NullInt64
	var lastSyncAt sql.NullTime
	var status, detail string

	if err := row.Scan(&st.FolderID, &st.AccountID, &st.UIDValidity, &st.UIDNext,
		&highestModSeq, &st.MessageCount, &st.UnreadCount, &lastSyncAt, &status, &detail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read folder sync state: %w", err)
	}
	if highestModSeq.Valid {
		v := uint64(highestModSeq.Int64)
		st.HighestModSeq = &v
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		st.LastSyncAt = &t
	}
	st.Status = Status(status)
	st.StatusDetail = detail
	return &st, nil
}

// UpdateSyncState overwrites the single FolderSyncState row for a folder.
func (s *Store) UpdateSyncState(st *SyncState) error {
	var highestModSeq any
	if st.HighestModSeq != nil {
		highestModSeq = *st.HighestModSeq
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE folder_sync_state
		SET uid_validity = ?, uid_next = ?, highest_modseq = ?,
		    message_count = ?, unread_count = ?, last_sync_at = ?,
		    status = ?, status_detail = ?
		WHERE folder_id = ?`,
		st.UIDValidity, st.UIDNext, highestModSeq,
		st.MessageCount, st.UnreadCount, now,
		string(st.Status), st.StatusDetail, st.FolderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update folder sync state: %w", err)
	}
	return nil
}

// ResetSyncStateForUIDValidityChange zeroes UID bookkeeping after a purge,
// forcing the next run to treat the folder as never-synced.
func (s *Store) ResetSyncStateForUIDValidityChange(folderID string, newUIDValidity uint32) error {
	_, err := s.db.Exec(`
		UPDATE folder_sync_state
		SET uid_validity = ?, uid_next = 0, highest_modseq = NULL,
		    message_count = 0, unread_count = 0, status = ?, status_detail = ''
		WHERE folder_id = ?`, newUIDValidity, string(StatusIdle), folderID)
	return err
}
