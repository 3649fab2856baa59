package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteManifestReplaces(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{ID: "a", Name: "daily", Sequence: 1, JournalOffset: 100, CreatedAt: time.Now().UTC()}
	_, err := writeManifest(dir, m)
	require.NoError(t, err)

	m2 := *m
	m2.ID, m2.Sequence, m2.JournalOffset = "b", 2, 200
	data, err := writeManifest(dir, &m2)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"journalOffset": 200`)

	ms, err := loadManifests(dir)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "b", ms[0].ID)
}

func TestLoadManifestsRemovesTemporaries(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, ".daily-123.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	ms, err := loadManifests(dir)
	require.NoError(t, err)
	assert.Empty(t, ms)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadManifestsMissingDir(t *testing.T) {
	ms, err := loadManifests(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Nil(t, ms)
}

func TestLoadManifestsCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daily.json"), []byte("not json"), 0o644))
	_, err := loadManifests(dir)
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	assert.Nil(t, latest(nil))
	ms := []*Manifest{{ID: "a", Sequence: 3}, {ID: "b", Sequence: 7}, {ID: "c", Sequence: 5}}
	assert.Equal(t, "b", latest(ms).ID)
}

func TestListCheckpointsSorted(t *testing.T) {
	dir := t.TempDir()
	cpDir := filepath.Join(dir, "checkpoints")
	require.NoError(t, os.MkdirAll(cpDir, 0o755))
	for _, m := range []*Manifest{
		{ID: "x", Name: "weekly", Sequence: 9},
		{ID: "y", Name: "daily", Sequence: 4},
	} {
		_, err := writeManifest(cpDir, m)
		require.NoError(t, err)
	}

	ms, err := ListCheckpoints(dir)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "daily", ms[0].Name)
	assert.Equal(t, "weekly", ms[1].Name)
}
