package imapsession

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"

	"github.com/parlorsh/parlor/internal/folder"
)

func TestClassifyAttrsMapsSpecialUseAndStructural(t *testing.T) {
	got := ClassifyAttrs([]imap.MailboxAttr{
		imap.MailboxAttrHasChildren,
		imap.MailboxAttrSent,
		imap.MailboxAttrNoSelect,
	})
	assert.ElementsMatch(t, []folder.Attr{folder.AttrHasChildren, folder.AttrSent, folder.AttrNoselect}, got)
}

func TestClassifyAttrsIgnoresUnknownAttrs(t *testing.T) {
	got := ClassifyAttrs([]imap.MailboxAttr{imap.MailboxAttr("\\Subscribed")})
	assert.Empty(t, got)
}

func TestHasSpecialUseTrueForKnownRoles(t *testing.T) {
	assert.True(t, HasSpecialUse([]folder.Attr{folder.AttrHasChildren, folder.AttrDrafts}))
}

func TestHasSpecialUseFalseForPurelyStructuralAttrs(t *testing.T) {
	assert.False(t, HasSpecialUse([]folder.Attr{folder.AttrHasChildren, folder.AttrNoselect, folder.AttrMarked}))
}

func TestGuessAttrByNameMatchesCommonNames(t *testing.T) {
	cases := map[string]folder.Attr{
		"INBOX":         folder.AttrInbox,
		"Sent Items":    folder.AttrSent,
		"Drafts":        folder.AttrDrafts,
		"Deleted Items": folder.AttrTrash,
		"Junk E-mail":   folder.AttrJunk,
		"Archive":       folder.AttrArchive,
		"All Mail":      folder.AttrAll,
	}
	for name, want := range cases {
		got, ok := GuessAttrByName(name)
		assert.True(t, ok, "expected a match for %q", name)
		assert.Equal(t, want, got)
	}
}

func TestGuessAttrByNameNoMatchReturnsFalse(t *testing.T) {
	_, ok := GuessAttrByName("Project X")
	assert.False(t, ok)
}
