package imapsession

import (
	"context"
	"io"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/parlorsh/parlor/internal/errs"
)

// maxMessageSize bounds a single fetched body literal, protecting the
// process against a hostile or misbehaving server streaming an unbounded
// literal. Messages larger than this are truncated without an error or a
// log entry.
const maxMessageSize = 64 * 1024 * 1024

// HeaderRecord is one envelope-and-flags record from fetch_headers,
// everything the folder synchronizer needs to build a StoredMessage
// without yet having fetched the body.
type HeaderRecord struct {
	UID        imap.UID
	Envelope   *imap.Envelope
	Flags      []imap.Flag
	ModSeq     uint64
	RFC822Size int64
	// HeaderBytes holds the raw RFC 5322 header block (References,
	// In-Reply-To, and any other header the envelope doesn't surface),
	// read with a peek so fetching headers never marks \Seen.
	HeaderBytes []byte
}

// BodyRecord is one raw message body from fetch_bodies, left unparsed:
// MIME decoding is the body-fetch phase's job, not the session's.
type BodyRecord struct {
	UID imap.UID
	Raw []byte
}

// ChangeRecord is one flag/existence update from fetch_changes_since.
type ChangeRecord struct {
	UID    imap.UID
	Flags  []imap.Flag
	ModSeq uint64
}

// FetchHeaders streams envelope, flags, and raw header bytes for uids in
// the currently selected mailbox. Requires a prior Select/Examine.
func (s *Session) FetchHeaders(ctx context.Context, uids imap.UIDSet, fn func(HeaderRecord) error) error {
	if s.state != StateSelected {
		return errs.New(errs.KindProtocol, "imapsession.FetchHeaders", "no mailbox selected")
	}

	opts := &imap.FetchOptions{
		UID:        true,
		Envelope:   true,
		Flags:      true,
		RFC822Size: true,
		ModSeq:     true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierHeader, Peek: true},
		},
	}

	cmd := s.client.Fetch(uids, opts)
	return streamFetch(ctx, cmd, func(msg *imapclient.FetchMessageData) error {
		rec := HeaderRecord{}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				rec.UID = data.UID
			case imapclient.FetchItemDataEnvelope:
				rec.Envelope = data.Envelope
			case imapclient.FetchItemDataFlags:
				rec.Flags = data.Flags
			case imapclient.FetchItemDataRFC822Size:
				rec.RFC822Size = data.Size
			case imapclient.FetchItemDataModSeq:
				rec.ModSeq = data.ModSeq
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					b, err := io.ReadAll(io.LimitReader(data.Literal, maxMessageSize))
					if err != nil {
						return errs.Wrap(errs.KindNetwork, "imapsession.FetchHeaders", err)
					}
					rec.HeaderBytes = b
				}
			}
		}
		if rec.UID == 0 {
			return nil
		}
		return fn(rec)
	})
}

// FetchBodies streams raw message bytes for uids in the currently
// selected mailbox, peeking so \Seen is never set as a side effect of
// sync.
func (s *Session) FetchBodies(ctx context.Context, uids imap.UIDSet, fn func(BodyRecord) error) error {
	if s.state != StateSelected {
		return errs.New(errs.KindProtocol, "imapsession.FetchBodies", "no mailbox selected")
	}

	opts := &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	cmd := s.client.Fetch(uids, opts)
	return streamFetch(ctx, cmd, func(msg *imapclient.FetchMessageData) error {
		rec := BodyRecord{}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				rec.UID = data.UID
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					b, err := io.ReadAll(io.LimitReader(data.Literal, maxMessageSize))
					if err != nil {
						return errs.Wrap(errs.KindNetwork, "imapsession.FetchBodies", err)
					}
					rec.Raw = b
				}
			}
		}
		if rec.UID == 0 {
			return nil
		}
		return fn(rec)
	})
}

// FetchChangesSince streams flag and existence updates recorded against
// the mailbox since modseq, via CONDSTORE. Returns KindUnsupported if the
// session never negotiated CONDSTORE; the folder synchronizer's
// Incremental strategy falls back to a UID-range fetch in that case.
func (s *Session) FetchChangesSince(ctx context.Context, modseq uint64, fn func(ChangeRecord) error) error {
	if !s.SupportsCondStore() {
		return errs.New(errs.KindUnsupported, "imapsession.FetchChangesSince", "server lacks CONDSTORE")
	}
	if s.state != StateSelected {
		return errs.New(errs.KindProtocol, "imapsession.FetchChangesSince", "no mailbox selected")
	}

	all := imap.UIDSet{}
	all.AddRange(1, 0) // 1:* — every UID in the mailbox

	opts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		ModSeq:       true,
		ChangedSince: modseq,
	}

	cmd := s.client.Fetch(all, opts)
	return streamFetch(ctx, cmd, func(msg *imapclient.FetchMessageData) error {
		rec := ChangeRecord{}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				rec.UID = data.UID
			case imapclient.FetchItemDataFlags:
				rec.Flags = data.Flags
			case imapclient.FetchItemDataModSeq:
				rec.ModSeq = data.ModSeq
			}
		}
		if rec.UID == 0 {
			return nil
		}
		return fn(rec)
	})
}

// streamFetch drives a FETCH command with Next() rather than Collect(), so
// a cancelled context returns whatever was already delivered instead of
// blocking until the server finishes (or hangs).
func streamFetch(ctx context.Context, cmd *imapclient.FetchCommand, handle func(*imapclient.FetchMessageData) error) error {
	for {
		if ctx.Err() != nil {
			cmd.Close()
			return errs.Wrap(errs.KindCancelled, "imapsession.streamFetch", ctx.Err())
		}

		msg := cmd.Next()
		if msg == nil {
			break
		}
		if err := handle(msg); err != nil {
			cmd.Close()
			return err
		}
	}
	if err := cmd.Close(); err != nil {
		return errs.Wrap(errs.KindProtocol, "imapsession.streamFetch", err)
	}
	return nil
}
