package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.journal")
	j, err := Open(path)
	require.NoError(t, err)

	events := []Event{
		{ID: "e1", Kind: "reserve", CategoryID: "cat-1", AmountCents: 5000, Version: 1, At: time.Unix(100, 0).UTC()},
		{ID: "e2", Kind: "commit_to_spend", CategoryID: "cat-1", AmountCents: 5000, Version: 2, At: time.Unix(200, 0).UTC()},
		{ID: "e3", Kind: "reserve", CategoryID: "cat-1", AmountCents: 100, Version: 3, Override: true, Actor: "manager-9", Reason: "plan review pending", At: time.Unix(300, 0).UTC()},
	}
	for _, e := range events {
		require.NoError(t, j.Append(e))
	}
	require.NoError(t, j.Close())

	var replayed []Event
	require.NoError(t, Replay(path, func(e Event) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Len(t, replayed, 3)
	assert.Equal(t, events, replayed)
	assert.True(t, replayed[2].Override)
	assert.Equal(t, "manager-9", replayed[2].Actor)
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "absent.journal"), func(Event) error {
		t.Fatal("handler should not be called")
		return nil
	})
	require.NoError(t, err)
}

func TestReplayTruncatedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.journal")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(Event{ID: "e1", Kind: "reserve"}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	err = Replay(path, func(Event) error { return nil })
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.journal")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.ErrorIs(t, j.Append(Event{ID: "e1"}), ErrClosed)
}
