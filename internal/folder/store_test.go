package folder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlorsh/parlor/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStoreCreateAndList(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)

	f := &Folder{
		AccountID: "acct-1",
		Name:      "INBOX",
		FullName:  "INBOX",
		Delimiter: "/",
		Attrs:     []Attr{AttrInbox},
	}
	require.NoError(t, s.Create(f))
	require.NotEmpty(t, f.ID)

	got, err := s.List("acct-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "INBOX", got[0].FullName)
	require.True(t, got[0].HasAttr(AttrInbox))

	st, err := s.GetSyncState(f.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, StatusIdle, st.Status)
}

func TestMarkMissingDeadThreshold(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)

	f := &Folder{AccountID: "acct-1", Name: "Old", FullName: "Old", Delimiter: "/"}
	require.NoError(t, s.Create(f))

	require.NoError(t, s.MarkMissing(f.ID))
	got, err := s.GetByFullName("acct-1", "Old")
	require.NoError(t, err)
	require.False(t, got.Dead, "one miss should not mark dead")

	require.NoError(t, s.MarkMissing(f.ID))
	got, err = s.GetByFullName("acct-1", "Old")
	require.NoError(t, err)
	require.True(t, got.Dead, "two consecutive misses should mark dead")

	ids, err := s.CollectDead("acct-1")
	require.NoError(t, err)
	require.Equal(t, []string{f.ID}, ids)

	got, err = s.GetByFullName("acct-1", "Old")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMarkSeenResetsMissedCounter(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)

	f := &Folder{AccountID: "acct-1", Name: "Flaky", FullName: "Flaky", Delimiter: "/"}
	require.NoError(t, s.Create(f))
	require.NoError(t, s.MarkMissing(f.ID))
	require.NoError(t, s.MarkSeen(f.ID))

	got, err := s.GetByFullName("acct-1", "Flaky")
	require.NoError(t, err)
	require.Equal(t, 0, got.MissedSyncs)
	require.False(t, got.Dead)
}
