package syncfolder

import (
	"bytes"
	"strings"

	"github.com/emersion/go-imap/v2"
	gomessage "github.com/emersion/go-message"

	"github.com/parlorsh/parlor/internal/imapsession"
	"github.com/parlorsh/parlor/internal/message"
)

// extractReferences parses the References header out of a raw RFC 5322
// header block; go-imap's ENVELOPE never surfaces it.
func extractReferences(headerBytes []byte) []string {
	if len(headerBytes) == 0 {
		return nil
	}
	entity, err := gomessage.Read(bytes.NewReader(headerBytes))
	if err != nil {
		return nil
	}
	raw := entity.Header.Get("References")
	if raw == "" {
		return nil
	}
	var refs []string
	for _, part := range strings.Fields(raw) {
		if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
			refs = append(refs, part)
		}
	}
	return refs
}

func addressesFromEnvelope(addrs []imap.Address) []message.Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]message.Address, len(addrs))
	for i, a := range addrs {
		out[i] = message.Address{Name: a.Name, Email: a.Addr()}
	}
	return out
}

func flagSetFromIMAP(flags []imap.Flag) map[message.Flag]bool {
	out := make(map[message.Flag]bool, len(flags))
	for _, f := range flags {
		out[message.Flag(f)] = true
	}
	return out
}

// buildStoredMessage turns one fetched header record into the
// not-yet-persisted Stored shape, everything except thread_id (assigned
// by the caller, which has access to the threading anchor lookup) and
// AccountID/FolderID (also caller-supplied, since this function stays
// pure and easy to test).
func buildStoredMessage(rec imapsession.HeaderRecord) *message.Stored {
	m := &message.Stored{
		UID:   uint32(rec.UID),
		Flags: flagSetFromIMAP(rec.Flags),
		Size:  rec.RFC822Size,
	}

	env := rec.Envelope
	if env != nil {
		m.Subject = env.Subject
		m.MessageID = env.MessageID
		if len(env.InReplyTo) > 0 {
			m.InReplyTo = env.InReplyTo[0]
		}
		m.Date = env.Date.UTC()
		if len(env.From) > 0 {
			m.FromName = env.From[0].Name
			m.FromEmail = env.From[0].Addr()
		}
		m.To = addressesFromEnvelope(env.To)
		m.Cc = addressesFromEnvelope(env.Cc)
		m.Bcc = addressesFromEnvelope(env.Bcc)
		if len(env.ReplyTo) > 0 {
			m.ReplyTo = env.ReplyTo[0].Addr()
		}
	}
	m.ReferencesHdr = extractReferences(rec.HeaderBytes)
	m.IsDraft = m.Flags[message.FlagDraft]

	return m
}
