package agentserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbs2/internal/agentproto"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv, err := Listen(socketPath)
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
	return srv, socketPath
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, op agentproto.Op, payload any) agentproto.Response {
	t.Helper()
	env, err := agentproto.NewEnvelope(op, payload)
	require.NoError(t, err)
	require.NoError(t, agentproto.WriteFrame(conn, env))
	resp, err := agentproto.ReadResponse(conn)
	require.NoError(t, err)
	return resp
}

func TestQueryReportsAbsentThenPresentAfterAddIdentity(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	resp := roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/a"})
	assert.True(t, resp.Ok)
	assert.False(t, resp.Found)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	resp = roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{
		Fingerprint: "/cfg/a",
		Identity:    id.String(),
	})
	require.True(t, resp.Ok)

	resp = roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/a"})
	assert.True(t, resp.Ok)
	assert.True(t, resp.Found)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	resp := roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{
		Fingerprint: "/cfg/b",
		Identity:    id.String(),
	})
	require.True(t, resp.Ok)

	resp = roundTrip(t, conn, agentproto.OpEncrypt, agentproto.EncryptRequest{
		Fingerprint: "/cfg/b",
		Plaintext:   `{"label":"x"}`,
	})
	require.True(t, resp.Ok)
	armored := resp.Result
	assert.NotEmpty(t, armored)

	resp = roundTrip(t, conn, agentproto.OpDecrypt, agentproto.DecryptRequest{
		Fingerprint: "/cfg/b",
		Ciphertext:  armored,
	})
	require.True(t, resp.Ok)
	assert.Equal(t, `{"label":"x"}`, resp.Result)
}

func TestEncryptWithoutIdentityFails(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	resp := roundTrip(t, conn, agentproto.OpEncrypt, agentproto.EncryptRequest{
		Fingerprint: "/cfg/nonexistent",
		Plaintext:   "secret",
	})
	assert.False(t, resp.Ok)
	assert.NotEmpty(t, resp.Error)
}

func TestFlushIdentityRemovesOnlyThatFingerprint(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	id1, _ := age.GenerateX25519Identity()
	id2, _ := age.GenerateX25519Identity()
	require.True(t, roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{Fingerprint: "/cfg/1", Identity: id1.String()}).Ok)
	require.True(t, roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{Fingerprint: "/cfg/2", Identity: id2.String()}).Ok)

	require.True(t, roundTrip(t, conn, agentproto.OpFlushIdentity, agentproto.FlushIdentityRequest{Fingerprint: "/cfg/1"}).Ok)

	assert.False(t, roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/1"}).Found)
	assert.True(t, roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/2"}).Found)
}

func TestFlushAllRemovesEveryIdentity(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	id1, _ := age.GenerateX25519Identity()
	id2, _ := age.GenerateX25519Identity()
	require.True(t, roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{Fingerprint: "/cfg/1", Identity: id1.String()}).Ok)
	require.True(t, roundTrip(t, conn, agentproto.OpAddIdentity, agentproto.AddIdentityRequest{Fingerprint: "/cfg/2", Identity: id2.String()}).Ok)

	require.True(t, roundTrip(t, conn, agentproto.OpFlushAll, agentproto.FlushAllRequest{}).Ok)

	assert.False(t, roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/1"}).Found)
	assert.False(t, roundTrip(t, conn, agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: "/cfg/2"}).Found)
}

func TestListenRejectsSecondAgentOnSameSocket(t *testing.T) {
	_, socketPath := startServer(t)

	_, err := Listen(socketPath)
	require.Error(t, err)
}

func TestListenReclaimsStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")

	// A leftover file at the socket path (e.g. from a killed agent) binds
	// with the same "address already in use" error a live socket would;
	// Listen must tell the two apart by probing, then reclaim this one.
	require.NoError(t, os.WriteFile(socketPath, nil, 0o600))

	srv, err := Listen(socketPath)
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestQuitClosesListener(t *testing.T) {
	_, socketPath := startServer(t)
	conn := dial(t, socketPath)

	resp := roundTrip(t, conn, agentproto.OpQuit, agentproto.QuitRequest{})
	assert.True(t, resp.Ok)

	time.Sleep(50 * time.Millisecond)
	_, err := net.Dial("unix", socketPath)
	assert.Error(t, err)
}
