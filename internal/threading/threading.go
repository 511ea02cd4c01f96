// Package threading computes thread_id assignments for incoming
// messages. It is pure: no I/O, no database access, so the resolution
// rules can be exercised directly in unit tests.
package threading

import (
	"regexp"
	"strings"
	"time"
)

// SubjectWindow is the time window within which two messages with the
// same normalized subject and no References/In-Reply-To link are
// considered part of the same thread.
const SubjectWindow = 30 * 24 * time.Hour

var reSubjectPrefix = regexp.MustCompile(`(?i)^\s*(re|fw|fwd|aw|wg)\s*(\[\d+\])?\s*:\s*`)
var reLeadingBracket = regexp.MustCompile(`^\s*\[[^\[\]]*\]\s*`)
var reWhitespace = regexp.MustCompile(`\s+`)

// NormalizeSubject strips reply/forward prefixes (possibly repeated, e.g.
// "Re: Fwd: Re: ...") and collapses whitespace, so "Re: Re: Q3 numbers"
// and "Q3 numbers" compare equal. A leading bracket group is stripped
// unconditionally, not just when it trails a Re/Fwd prefix, so "[ext] Re:
// foo" and a mailing-list "[listname] foo" subject both normalize the
// same as "foo".
func NormalizeSubject(subject string) string {
	s := subject
	for {
		if stripped := reSubjectPrefix.ReplaceAllString(s, ""); stripped != s {
			s = stripped
			continue
		}
		if stripped := reLeadingBracket.ReplaceAllString(s, ""); stripped != s {
			s = stripped
			continue
		}
		break
	}
	s = strings.TrimSpace(s)
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// Anchors carries the identifiers available for thread resolution, taken
// from the message envelope before it has been assigned an ID.
type Anchors struct {
	MessageID string
	InReplyTo string
	Refs      []string
	Subject   string
	Date      time.Time
}

// AnchorLookup resolves existing thread assignments from already-stored
// messages. Implemented by message.Store in production code; a plain map
// suffices in tests.
type AnchorLookup interface {
	// FindThreadAnchors returns the thread_id of the stored message whose
	// Message-ID equals inReplyTo, and separately the thread_id of the
	// stored message whose Message-ID matches the rightmost (most recent)
	// entry in refs that resolves to anything.
	FindThreadAnchors(inReplyTo string, refs []string) (inReplyToMatch, referenceMatch string)
	// FindBySubjectWindow returns the thread_id of the most recent message
	// with the given normalized subject within the window around t, or ""
	// if none exists.
	FindBySubjectWindow(normalizedSubject string, t time.Time, window time.Duration) string
}

// Resolve assigns a thread_id to a, consulting lookup for existing
// candidates in priority order: in_reply_to match, then rightmost
// references match, then normalized-subject-and-time-window match.
// freshID is used verbatim when none of those apply — the caller is
// expected to pass a freshly generated id only when Resolve needs one, so
// it should be lazy, but a plain string keeps the pure-function contract.
func Resolve(a Anchors, lookup AnchorLookup, freshID string) string {
	inReplyToMatch, referenceMatch := lookup.FindThreadAnchors(a.InReplyTo, a.Refs)
	if inReplyToMatch != "" {
		return inReplyToMatch
	}
	if referenceMatch != "" {
		return referenceMatch
	}

	normalized := NormalizeSubject(a.Subject)
	if normalized != "" {
		if t := lookup.FindBySubjectWindow(normalized, a.Date, SubjectWindow); t != "" {
			return t
		}
	}

	return freshID
}

// MergeTarget picks which of two thread ids survives a merge, when a
// late-arriving ancestor message links threads that were created
// independently. The lexicographically smaller id wins so the choice is
// deterministic regardless of which side observes the merge first,
// keeping repeated merges of the same pair idempotent.
func MergeTarget(a, b string) (survivor, absorbed string) {
	if a == b {
		return a, b
	}
	if a < b {
		return a, b
	}
	return b, a
}
