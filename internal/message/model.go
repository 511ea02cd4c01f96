// Package message models the StoredMessage entity and the durable store
// backing it: a transactional, full-text-searchable local mirror of
// remote mailbox contents.
package message

import "time"

// Flag is one of the IMAP system flags, or a provider-specific custom one.
type Flag string

const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	FlagRecent   Flag = "\\Recent"
)

// CustomFlag builds a non-system flag, e.g. a keyword set by another client.
func CustomFlag(name string) Flag {
	return Flag(name)
}

// Address is a single envelope participant.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Attachment describes a MIME part without necessarily holding its bytes;
// StorageRef points at wherever the body store keeps the content.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	IsInline    bool   `json:"is_inline"`
	StorageRef  string `json:"storage_ref,omitempty"`
}

// Stored is one locally persisted copy of a remote message.
type Stored struct {
	ID        string
	AccountID string
	FolderID  string

	UID       uint32
	MessageID string // RFC 5322 Message-ID, empty if the server never sent one

	InReplyTo string
	ReferencesHdr []string
	ThreadID  string

	Subject   string
	FromName  string
	FromEmail string
	To        []Address
	Cc        []Address
	Bcc       []Address
	ReplyTo   string
	Date      time.Time

	BodyText    string
	BodyHTML    string
	BodyFetched bool
	Attachments []Attachment

	Flags       map[Flag]bool
	CustomFlags []string
	Labels      []string

	Size     int64
	Priority string

	IsDraft   bool
	IsDeleted bool // local tombstone, distinct from the \Deleted IMAP flag

	// PendingLocalFlags carries a flag change made offline-first, not yet
	// acknowledged by the server. Empty once the round trip completes.
	PendingLocalFlags string

	SyncVersion  uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt time.Time
}

// HasFlag reports whether f is set.
func (m *Stored) HasFlag(f Flag) bool {
	return m.Flags[f]
}

// ChangeKind classifies an event on the change stream.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "Inserted"
	ChangeUpdated  ChangeKind = "Updated"
	ChangeDeleted  ChangeKind = "Deleted"
)

// Change is one event published on the store's change stream.
type Change struct {
	AccountID string
	FolderID  string
	Kind      ChangeKind
	UID       uint32
	MessageID string // the Stored.ID, not the IMAP UID
}
