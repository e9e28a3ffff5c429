package agentclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbs2/internal/agentserver"
)

// fakeKeyReader hands back a fixed identity string regardless of the
// passphrase, or fails every attempt, to drive Open's unwrap/retry paths
// without touching the filesystem.
type fakeKeyReader struct {
	identity  string
	failUntil int // number of failures before Unwrap starts succeeding
	attempts  int
}

func (r *fakeKeyReader) WrappedKeyBytes() ([]byte, error) {
	return []byte("wrapped"), nil
}

func (r *fakeKeyReader) Unwrap(_ []byte, _ string) (string, error) {
	r.attempts++
	if r.attempts <= r.failUntil {
		return "", assert.AnError
	}
	return r.identity, nil
}

type fakePinentry struct{ calls int }

func (p *fakePinentry) Prompt(string) (string, error) {
	p.calls++
	return "passphrase", nil
}

func startTestAgent(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv, err := agentserver.Listen(socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return socketPath
}

func TestOpenUnwrapsOnFirstConnection(t *testing.T) {
	socketPath := startTestAgent(t)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keys := &fakeKeyReader{identity: id.String()}
	entry := &fakePinentry{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, err := Open(ctx, socketPath, false, "/cfg/x", "/cfg/x/key", keys, entry)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, 1, entry.calls)

	ciphertext, err := sess.Encrypt("hello")
	require.NoError(t, err)
	plaintext, err := sess.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)
}

func TestOpenSkipsUnwrapWhenAlreadyPresent(t *testing.T) {
	socketPath := startTestAgent(t)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keys := &fakeKeyReader{identity: id.String()}
	entry := &fakePinentry{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := Open(ctx, socketPath, false, "/cfg/y", "/cfg/y/key", keys, entry)
	require.NoError(t, err)
	first.Close()
	assert.Equal(t, 1, entry.calls)

	second, err := Open(ctx, socketPath, false, "/cfg/y", "/cfg/y/key", keys, entry)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, 1, entry.calls, "second Open must not re-prompt: the agent already holds this fingerprint")
}

func TestOpenRetriesUnwrapOnWrongPassphrase(t *testing.T) {
	socketPath := startTestAgent(t)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keys := &fakeKeyReader{identity: id.String(), failUntil: 2}
	entry := &fakePinentry{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, err := Open(ctx, socketPath, false, "/cfg/z", "/cfg/z/key", keys, entry)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 3, entry.calls)
}

func TestOpenFailsAfterMaxUnwrapAttempts(t *testing.T) {
	socketPath := startTestAgent(t)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keys := &fakeKeyReader{identity: id.String(), failUntil: maxUnwrapAttempts}
	entry := &fakePinentry{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = Open(ctx, socketPath, false, "/cfg/w", "/cfg/w/key", keys, entry)
	require.Error(t, err)
	assert.Equal(t, maxUnwrapAttempts, entry.calls)
}

func TestFlushAndQuitViaConnect(t *testing.T) {
	socketPath := startTestAgent(t)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keys := &fakeKeyReader{identity: id.String()}
	entry := &fakePinentry{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, err := Open(ctx, socketPath, false, "/cfg/q", "/cfg/q/key", keys, entry)
	require.NoError(t, err)

	require.NoError(t, sess.Flush())
	sess.Close()

	sess2, err := Connect(ctx, socketPath, false, "/cfg/q")
	require.NoError(t, err)
	defer sess2.Close()
	present, err := sess2.Query()
	require.NoError(t, err)
	assert.False(t, present, "Flush must drop the identity so a fresh Query reports absent")

	require.NoError(t, sess2.Quit())
}
