package syncfolder

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/message"
)

func TestExtractReferencesKeepsOnlyAngleBracketTokens(t *testing.T) {
	raw := []byte("References: <a@x> <b@y>\r\nSubject: hi\r\n\r\n")
	refs := extractReferences(raw)
	assert.Equal(t, []string{"<a@x>", "<b@y>"}, refs)
}

func TestExtractReferencesNoHeaderReturnsNil(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\n")
	assert.Nil(t, extractReferences(raw))
}

func TestExtractReferencesEmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, extractReferences(nil))
}

func TestBuildStoredMessagePopulatesFromEnvelope(t *testing.T) {
	date := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := imapsession.HeaderRecord{
		UID:   imap.UID(42),
		Flags: []imap.Flag{imap.FlagSeen, imap.FlagDraft},
		Envelope: &imap.Envelope{
			Subject:   "Re: hello",
			MessageID: "<msg1@example.com>",
			InReplyTo: []string{"<parent@example.com>"},
			Date:      date,
			From:      []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
			To:        []imap.Address{{Name: "Bob", Mailbox: "bob", Host: "example.com"}},
		},
		RFC822Size:  1024,
		HeaderBytes: []byte("References: <root@example.com>\r\n\r\n"),
	}

	m := buildStoredMessage(rec)

	require.NotNil(t, m)
	assert.Equal(t, uint32(42), m.UID)
	assert.Equal(t, "Re: hello", m.Subject)
	assert.Equal(t, "<msg1@example.com>", m.MessageID)
	assert.Equal(t, "<parent@example.com>", m.InReplyTo)
	assert.Equal(t, []string{"<root@example.com>"}, m.ReferencesHdr)
	assert.True(t, m.Date.Equal(date))
	assert.Equal(t, "Alice", m.FromName)
	assert.Equal(t, "alice@example.com", m.FromEmail)
	require.Len(t, m.To, 1)
	assert.Equal(t, "bob@example.com", m.To[0].Email)
	assert.True(t, m.IsDraft)
	assert.True(t, m.Flags[message.FlagSeen])
	assert.Equal(t, int64(1024), m.Size)
}

func TestBuildStoredMessageNoEnvelopeLeavesFieldsZero(t *testing.T) {
	rec := imapsession.HeaderRecord{UID: imap.UID(1), Flags: nil}
	m := buildStoredMessage(rec)
	assert.Equal(t, uint32(1), m.UID)
	assert.Equal(t, "", m.Subject)
	assert.False(t, m.IsDraft)
}
