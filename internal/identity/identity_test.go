package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbs2/internal/kbserr"
)

func TestGenerateProducesUnwrappedKeyfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")

	kf, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()

	assert.False(t, kf.Wrapped)
	assert.NotEmpty(t, unwrapped.Identity.String())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Wrapped)
}

func TestUnwrapPlainKeyfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")
	_, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()

	kf, err := Load(path)
	require.NoError(t, err)

	reopened, err := Unwrap(kf, "")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, unwrapped.Identity.String(), reopened.Identity.String())
}

func TestRewrapWrapsWithPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")
	_, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()

	require.NoError(t, Rewrap(unwrapped, path, "hunter2", true, false))

	kf, err := Load(path)
	require.NoError(t, err)
	assert.True(t, kf.Wrapped)

	opened, err := Unwrap(kf, "hunter2")
	require.NoError(t, err)
	defer opened.Close()
	assert.Equal(t, unwrapped.Identity.String(), opened.Identity.String())
}

func TestUnwrapWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")
	_, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()
	require.NoError(t, Rewrap(unwrapped, path, "correct-horse", true, false))

	kf, err := Load(path)
	require.NoError(t, err)

	_, err = Unwrap(kf, "wrong-passphrase")
	assert.ErrorIs(t, err, kbserr.ErrWrongKey)
}

func TestRewrapKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")
	_, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()

	require.NoError(t, Rewrap(unwrapped, path, "pw", true, true))
	_, err = os.Stat(path + ".old")
	assert.NoError(t, err)
}

func TestRewrapUnwrappedDropsWrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.age")
	_, unwrapped, err := Generate(path)
	require.NoError(t, err)
	defer unwrapped.Close()
	require.NoError(t, Rewrap(unwrapped, path, "pw", true, false))

	require.NoError(t, Rewrap(unwrapped, path, "", false, false))
	kf, err := Load(path)
	require.NoError(t, err)
	assert.False(t, kf.Wrapped)
}
