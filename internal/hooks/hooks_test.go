package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbs2/internal/kbserr"
)

func TestRunNoCommandIsNoop(t *testing.T) {
	r := NewRunner(Config{Store: t.TempDir()})
	assert.NoError(t, r.Run(PostGlobal, ""))
}

func TestRunExecutesScriptAndReceivesArgs(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "out.txt")
	script := filepath.Join(dir, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > \""+marker+"\"\n"), 0o700))

	r := NewRunner(Config{Store: dir, ConfigDir: dir})
	require.NoError(t, r.Run(PostCommand, script, "mylabel"))

	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "mylabel\n", string(got))
}

func TestRunNonZeroExitIsExternalError(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o700))

	r := NewRunner(Config{Store: dir, ConfigDir: dir})
	err := r.Run(PostGlobal, script)
	require.Error(t, err)

	var extErr *kbserr.External
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, 3, extErr.Code)
	assert.Contains(t, extErr.Stderr, "boom")
}

func TestRunSkipsReentrantHookByDefault(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "out.txt")
	script := filepath.Join(dir, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch \""+marker+"\"\n"), 0o700))

	t.Setenv("KBS2_HOOK", "1")
	r := NewRunner(Config{Store: dir, ConfigDir: dir, ReentrantHooks: false})
	require.NoError(t, r.Run(PreGlobal, script))

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestRunHonorsReentrantHooksEnabled(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "out.txt")
	script := filepath.Join(dir, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch \""+marker+"\"\n"), 0o700))

	t.Setenv("KBS2_HOOK", "1")
	r := NewRunner(Config{Store: dir, ConfigDir: dir, ReentrantHooks: true})
	require.NoError(t, r.Run(PreGlobal, script))

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestErrorHookNotSkippedByReentrancy(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "out.txt")
	script := filepath.Join(dir, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > \""+marker+"\"\n"), 0o700))

	t.Setenv("KBS2_HOOK", "1")
	r := NewRunner(Config{Store: dir, ConfigDir: dir, ReentrantHooks: false})
	require.NoError(t, r.Run(ErrorGlobal, script, "boom"))

	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "boom\n", string(got))
}

func TestResolvePathRelativeToConfigDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/cfg", "sync.sh"), resolvePath("sync.sh", "/cfg"))
	assert.Equal(t, "/abs/sync.sh", resolvePath("/abs/sync.sh", "/cfg"))
}
