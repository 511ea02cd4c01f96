package syncfolder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorsh/parlor/internal/folder"
)

func TestDemoteDuplicateSpecialUseKeepsFirstByName(t *testing.T) {
	byFullName := map[string][]folder.Attr{
		"Archive":     {folder.AttrArchive},
		"Old Archive": {folder.AttrArchive},
		"INBOX":       {folder.AttrInbox},
	}

	demoteDuplicateSpecialUse(byFullName)

	assert.Contains(t, byFullName["Archive"], folder.AttrArchive)
	assert.NotContains(t, byFullName["Old Archive"], folder.AttrArchive)
	assert.Contains(t, byFullName["INBOX"], folder.AttrInbox)
}

func TestDemoteDuplicateSpecialUseLeavesSingleOwnerUntouched(t *testing.T) {
	byFullName := map[string][]folder.Attr{
		"Sent": {folder.AttrSent, folder.AttrHasNoChildren},
	}

	demoteDuplicateSpecialUse(byFullName)

	assert.ElementsMatch(t, []folder.Attr{folder.AttrSent, folder.AttrHasNoChildren}, byFullName["Sent"])
}

func TestLastSegmentSplitsOnDelimiter(t *testing.T) {
	assert.Equal(t, "2024", lastSegment("INBOX/Archive/2024", "/"))
	assert.Equal(t, "INBOX", lastSegment("INBOX", "/"))
	assert.Equal(t, "INBOX", lastSegment("INBOX", ""))
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	m := map[string][]folder.Attr{"c": nil, "a": nil, "b": nil}
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(m))
}
