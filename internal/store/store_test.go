package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kbs2/internal/kbserr"
)

func TestValidateLabel(t *testing.T) {
	assert.NoError(t, ValidateLabel("github"))
	assert.Error(t, ValidateLabel(""))
	assert.Error(t, ValidateLabel("a/b"))
	assert.Error(t, ValidateLabel(".hidden"))
	assert.Error(t, ValidateLabel("."))
	assert.Error(t, ValidateLabel(".."))
}

func TestListEmptyStore(t *testing.T) {
	labels, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestWriteReadRemove(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(dir, "github", "armored-ciphertext", false))
	assert.True(t, Exists(dir, "github"))

	got, err := Read(dir, "github")
	require.NoError(t, err)
	assert.Equal(t, "armored-ciphertext", got)

	labels, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, labels)

	require.NoError(t, Remove(dir, "github"))
	assert.False(t, Exists(dir, "github"))
}

func TestWriteRejectsOverwriteByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "github", "v1", false))

	err := Write(dir, "github", "v2", false)
	assert.ErrorIs(t, err, kbserr.ErrExists)
}

func TestWriteOverwriteAllowed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "github", "v1", false))
	require.NoError(t, Write(dir, "github", "v2", true))

	got, err := Read(dir, "github")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir(), "missing")
	assert.ErrorIs(t, err, kbserr.ErrNotFound)
}

func TestRemoveMissing(t *testing.T) {
	err := Remove(t.TempDir(), "missing")
	assert.ErrorIs(t, err, kbserr.ErrNotFound)
}

func TestListSortedAndIgnoresNonRecordFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "zeta", "z", false))
	require.NoError(t, Write(dir, "alpha", "a", false))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a record"), 0o600))

	labels, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, labels)
}
