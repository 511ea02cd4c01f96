// Package folder models the Folder and FolderSyncState entities: the set
// of remote mailboxes discovered via LIST and the per-folder sync
// bookkeeping the Folder Synchronizer reads and writes on every run.
package folder

import "time"

// Attr is one of the IMAP mailbox attributes reported by LIST, plus the
// synthesized special-use kinds used to pick the right icon/behavior in
// the client (Sent, Trash, Drafts, ...).
type Attr string

const (
	AttrHasChildren   Attr = "HasChildren"
	AttrHasNoChildren Attr = "HasNoChildren"
	AttrNoselect      Attr = "Noselect"
	AttrMarked        Attr = "Marked"
	AttrUnmarked      Attr = "Unmarked"
	AttrInbox         Attr = "Inbox"
	AttrSent          Attr = "Sent"
	AttrDrafts        Attr = "Drafts"
	AttrTrash         Attr = "Trash"
	AttrJunk          Attr = "Junk"
	AttrArchive       Attr = "Archive"
	AttrAll           Attr = "All"
	AttrFlagged       Attr = "Flagged"
	AttrImportant     Attr = "Important"
)

// CustomAttr builds a non-standard attribute, e.g. a Gmail label surfaced
// as a folder.
func CustomAttr(name string) Attr {
	return Attr("Custom:" + name)
}

// Status is the lifecycle state of a folder's sync bookkeeping.
type Status string

const (
	StatusIdle     Status = "Idle"
	StatusSyncing  Status = "Syncing"
	StatusComplete Status = "Complete"
	StatusError    Status = "Error"
	StatusCanceled Status = "Cancelled"
)

// Folder is one mailbox discovered via LIST. It is inserted lazily the
// first time it is seen and never authoritative for account configuration.
type Folder struct {
	ID        string
	AccountID string

	Name     string // last path segment
	FullName string // full IMAP mailbox name, e.g. "INBOX/Archive/2024"
	Delimiter string
	Attrs    []Attr
	ParentID string // "" if top-level

	// MissedSyncs counts consecutive LIST passes in which this folder was
	// absent from the server. Two consecutive misses mark it Dead and
	// eligible for garbage collection; a single miss could just be a
	// transient server hiccup mid-migration.
	MissedSyncs int
	Dead        bool

	CreatedAt time.Time
}

// HasAttr reports whether the folder carries the given attribute.
func (f *Folder) HasAttr(a Attr) bool {
	for _, x := range f.Attrs {
		if x == a {
			return true
		}
	}
	return false
}

// SyncState is the FolderSyncState entity: exactly one row per folder,
// read and written by the Folder Synchronizer on every run.
type SyncState struct {
	FolderID  string
	AccountID string

	UIDValidity   uint32
	UIDNext       uint32
	HighestModSeq *uint64 // nil when the server lacks CONDSTORE

	MessageCount int
	UnreadCount  int

	LastSyncAt   *time.Time
	Status       Status
	StatusDetail string
}
