package imapsession

import (
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/parlorsh/parlor/internal/folder"
)

// ClassifyAttrs maps the RFC 6154 SPECIAL-USE attributes (and the
// IMAP4rev1 \HasChildren/\Noselect family) a LIST response reports for one
// mailbox into folder.Attr values. Name-based fallback for servers that
// never advertise SPECIAL-USE is applied separately by the folder
// synchronizer, which also runs the cross-list dedup pass (demoting a
// name-matched folder when a SPECIAL-USE-tagged one already claims that
// role) since that needs to see every listed mailbox at once.
func ClassifyAttrs(attrs []imap.MailboxAttr) []folder.Attr {
	out := make([]folder.Attr, 0, len(attrs))
	for _, a := range attrs {
		switch a {
		case imap.MailboxAttrHasChildren:
			out = append(out, folder.AttrHasChildren)
		case imap.MailboxAttrHasNoChildren:
			out = append(out, folder.AttrHasNoChildren)
		case imap.MailboxAttrNoSelect:
			out = append(out, folder.AttrNoselect)
		case imap.MailboxAttrMarked:
			out = append(out, folder.AttrMarked)
		case imap.MailboxAttrUnmarked:
			out = append(out, folder.AttrUnmarked)
		case imap.MailboxAttrAll:
			out = append(out, folder.AttrAll)
		case imap.MailboxAttrArchive:
			out = append(out, folder.AttrArchive)
		case imap.MailboxAttrDrafts:
			out = append(out, folder.AttrDrafts)
		case imap.MailboxAttrFlagged:
			out = append(out, folder.AttrFlagged)
		case imap.MailboxAttrJunk:
			out = append(out, folder.AttrJunk)
		case imap.MailboxAttrSent:
			out = append(out, folder.AttrSent)
		case imap.MailboxAttrTrash:
			out = append(out, folder.AttrTrash)
		}
	}
	return out
}

// HasSpecialUse reports whether attrs contains any RFC 6154 SPECIAL-USE
// attribute (as opposed to the purely structural \HasChildren/\Noselect
// family).
func HasSpecialUse(attrs []folder.Attr) bool {
	for _, a := range attrs {
		switch a {
		case folder.AttrAll, folder.AttrArchive, folder.AttrDrafts,
			folder.AttrFlagged, folder.AttrJunk, folder.AttrSent, folder.AttrTrash:
			return true
		}
	}
	return false
}

// GuessAttrByName falls back to name matching for servers that never
// advertise SPECIAL-USE, the same heuristics RFC 6154 standardized the
// attribute to replace.
func GuessAttrByName(name string) (folder.Attr, bool) {
	lower := strings.ToLower(name)
	switch {
	case lower == "inbox":
		return folder.AttrInbox, true
	case strings.Contains(lower, "sent"):
		return folder.AttrSent, true
	case strings.Contains(lower, "draft"):
		return folder.AttrDrafts, true
	case strings.Contains(lower, "trash"), strings.Contains(lower, "deleted"):
		return folder.AttrTrash, true
	case strings.Contains(lower, "spam"), strings.Contains(lower, "junk"):
		return folder.AttrJunk, true
	case strings.Contains(lower, "archive"):
		return folder.AttrArchive, true
	case strings.Contains(lower, "all mail"):
		return folder.AttrAll, true
	}
	return "", false
}
