// Package agentclient is the library every CLI subcommand uses to reach the
// background agent: locating its socket, auto-spawning it when absent,
// driving the unwrap/pinentry flow, and submitting encrypt/decrypt calls.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"kbs2/internal/agentproto"
	"kbs2/internal/kbserr"
)

// maxUnwrapAttempts bounds how many times Open re-prompts for a passphrase
// before surfacing kbserr.ErrAuth (spec.md §4.5 step 3: "up to 3 total").
const maxUnwrapAttempts = 3

// autospawnBackoff is the exponential retry schedule Open uses to wait for
// a freshly spawned agent to start listening, totalling ~1s (spec.md §5's
// 2-second connect-timeout ceiling, halved to leave headroom for the dial
// itself).
var autospawnBackoff = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// KeyReader supplies the wrapped key bytes and passphrase needed to unwrap
// an identity. The session layer only needs the raw identity string once
// unwrapped; it never persists it beyond the single add_identity round
// trip.
type KeyReader interface {
	// WrappedKeyBytes returns the keyfile's raw on-disk contents.
	WrappedKeyBytes() ([]byte, error)
	// Unwrap decrypts raw under passphrase and returns the plain
	// AGE-SECRET-KEY-1... identity string.
	Unwrap(raw []byte, passphrase string) (string, error)
}

// Session is a client-side handle over one agent connection, scoped to one
// CLI invocation. Every method is a single agentproto round-trip over the
// same persistent connection.
type Session struct {
	conn        net.Conn
	fingerprint string
}

// Open connects to the agent (auto-spawning it if absent and permitted),
// ensures fingerprint's identity is unwrapped in the agent (prompting via
// pinentry if necessary), and returns a ready-to-use Session.
//
// socketPath is the agent's deterministic socket path (config.SocketPath).
// autostart mirrors the config's agent-autostart key. keyPath is the
// configured keyfile's path, used only if the agent doesn't already hold
// the identity.
func Open(ctx context.Context, socketPath string, autostart bool, fingerprint string, keyPath string, keys KeyReader, entry Pinentry) (*Session, error) {
	conn, err := dialOrSpawn(ctx, socketPath, autostart)
	if err != nil {
		return nil, err
	}

	s := &Session{conn: conn, fingerprint: fingerprint}

	present, err := s.Query()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if present {
		return s, nil
	}

	if err := s.unwrap(keyPath, keys, entry); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// dialOrSpawn dials socketPath, spawning "kbs2 agent" and retrying with
// exponential backoff when the socket is absent or refusing connections and
// autostart is permitted (spec.md §4.5 step 1).
func dialOrSpawn(ctx context.Context, socketPath string, autostart bool) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		return conn, nil
	}
	if !autostart || !isUnreachable(err) {
		return nil, fmt.Errorf("%w: %v", kbserr.ErrAgentUnavailable, err)
	}

	if spawnErr := spawnAgent(); spawnErr != nil {
		return nil, fmt.Errorf("%w: spawning agent: %v", kbserr.ErrAgentUnavailable, spawnErr)
	}

	for _, wait := range autospawnBackoff {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", kbserr.ErrAgentUnavailable, ctx.Err())
		case <-time.After(wait):
		}
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("%w: agent did not start listening on %s", kbserr.ErrAgentUnavailable, socketPath)
}

// isUnreachable reports whether err looks like "nothing is listening yet"
// (ENOENT, ECONNREFUSED) as opposed to some other dial failure worth
// surfacing immediately.
func isUnreachable(err error) bool {
	return errors.Is(err, os.ErrNotExist) || isConnRefused(err)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// spawnAgent launches a detached "kbs2 agent" using the running binary's
// own path, matching spec.md §4.4's non-foreground daemonization.
func spawnAgent() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(self, "agent")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}

// Connect dials socketPath (auto-spawning the agent if absent and autostart
// is set) without performing any unwrap, for callers like "agent query" and
// "agent flush" that only need a raw protocol round-trip.
func Connect(ctx context.Context, socketPath string, autostart bool, fingerprint string) (*Session, error) {
	conn, err := dialOrSpawn(ctx, socketPath, autostart)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, fingerprint: fingerprint}, nil
}

// Query asks the agent whether this session's fingerprint identity is
// already loaded.
func (s *Session) Query() (bool, error) {
	env, err := agentproto.NewEnvelope(agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: s.fingerprint})
	if err != nil {
		return false, err
	}
	resp, err := s.roundTrip(env)
	if err != nil {
		return false, err
	}
	return resp.Found, nil
}

// unwrap drives spec.md §4.5 step 3: read the wrapped key, prompt for a
// passphrase via entry, and send add_identity, re-prompting on a wrong
// passphrase up to maxUnwrapAttempts total.
func (s *Session) unwrap(keyPath string, keys KeyReader, entry Pinentry) error {
	raw, err := keys.WrappedKeyBytes()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxUnwrapAttempts; attempt++ {
		passphrase, err := entry.Prompt(fmt.Sprintf("Enter the master passphrase for %s: ", keyPath))
		if err != nil {
			return fmt.Errorf("%w: %v", kbserr.ErrAuth, err)
		}

		identityStr, err := keys.Unwrap(raw, passphrase)
		if err != nil {
			lastErr = err
			continue
		}

		env, err := agentproto.NewEnvelope(agentproto.OpAddIdentity, agentproto.AddIdentityRequest{
			Fingerprint: s.fingerprint,
			Identity:    identityStr,
		})
		if err != nil {
			return err
		}
		if _, err := s.roundTrip(env); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", kbserr.ErrAuth, lastErr)
}

// Encrypt asks the agent to encrypt plaintext for this session's recipient.
func (s *Session) Encrypt(plaintext string) (string, error) {
	env, err := agentproto.NewEnvelope(agentproto.OpEncrypt, agentproto.EncryptRequest{
		Fingerprint: s.fingerprint,
		Plaintext:   plaintext,
	})
	if err != nil {
		return "", err
	}
	resp, err := s.roundTrip(env)
	if err != nil {
		return "", err
	}
	return resp.Result, nil
}

// Decrypt asks the agent to decrypt armored using this session's identity.
func (s *Session) Decrypt(armored string) (string, error) {
	env, err := agentproto.NewEnvelope(agentproto.OpDecrypt, agentproto.DecryptRequest{
		Fingerprint: s.fingerprint,
		Ciphertext:  armored,
	})
	if err != nil {
		return "", err
	}
	resp, err := s.roundTrip(env)
	if err != nil {
		return "", err
	}
	return resp.Result, nil
}

// Flush asks the agent to drop and zero this session's identity.
func (s *Session) Flush() error {
	env, err := agentproto.NewEnvelope(agentproto.OpFlushIdentity, agentproto.FlushIdentityRequest{Fingerprint: s.fingerprint})
	if err != nil {
		return err
	}
	_, err = s.roundTrip(env)
	return err
}

// FlushAll asks the agent to drop and zero every identity it holds.
func (s *Session) FlushAll() error {
	env, err := agentproto.NewEnvelope(agentproto.OpFlushAll, agentproto.FlushAllRequest{})
	if err != nil {
		return err
	}
	_, err = s.roundTrip(env)
	return err
}

// Quit asks the agent to zero every identity and exit.
func (s *Session) Quit() error {
	env, err := agentproto.NewEnvelope(agentproto.OpQuit, agentproto.QuitRequest{})
	if err != nil {
		return err
	}
	_, err = s.roundTrip(env)
	return err
}

// Close releases the session's connection without affecting agent state.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) roundTrip(env agentproto.Envelope) (agentproto.Response, error) {
	if err := agentproto.WriteFrame(s.conn, env); err != nil {
		return agentproto.Response{}, err
	}
	resp, err := agentproto.ReadResponse(s.conn)
	if err != nil {
		return agentproto.Response{}, err
	}
	if !resp.Ok {
		return agentproto.Response{}, translateAgentError(resp.Error)
	}
	return resp, nil
}

// translateAgentError maps an agent-reported error string back to a typed
// kbserr sentinel where the message matches a known kind, so callers can
// errors.Is against e.g. kbserr.ErrWrongKey without string-matching
// themselves.
func translateAgentError(msg string) error {
	for _, sentinel := range []error{kbserr.ErrWrongKey, kbserr.ErrCorrupt, kbserr.ErrAgentUnavailable, kbserr.ErrAgentProtocol} {
		if contains(msg, sentinel.Error()) {
			return fmt.Errorf("%w: %s", sentinel, msg)
		}
	}
	return errors.New(msg)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
