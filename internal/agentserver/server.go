// Package agentserver implements the kbs2 background agent: a process that
// holds unwrapped identities in memory, keyed by configuration fingerprint,
// and serves encrypt/decrypt requests over a Unix domain socket so the
// master passphrase only needs to be entered once per session.
package agentserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"

	"filippo.io/age"
	"filippo.io/age/armor"

	"kbs2/internal/agentproto"
	"kbs2/internal/identity"
	"kbs2/internal/kbserr"
	"kbs2/internal/kbslog"
)

// livenessFingerprint is the sentinel key a client queries to probe whether
// a socket path is backed by a live kbs2 agent, without naming any real
// configuration fingerprint.
const livenessFingerprint = "\x00kbs2-liveness\x00"

// Server holds every unwrapped identity currently known to the agent,
// keyed by configuration fingerprint. Every mutating operation
// (add/flush/flush-all/quit) takes the write lock; encrypt/decrypt take the
// read lock for exactly the duration of one age operation.
type Server struct {
	mu         sync.RWMutex
	identities map[string]*identity.Unwrapped

	socketPath string
	listener   net.Listener
	logger     kbslog.Logger
}

// Listen binds socketPath, first probing for and removing a stale socket
// left by a crashed agent. Bind failure with EADDRINUSE is resolved by
// dialing the existing socket and sending a liveness query: a live agent
// answers and Listen fails outright (another agent already owns this
// path); a dead agent's stale socket file is removed and the bind retried
// once.
func Listen(socketPath string) (*Server, error) {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		if !isAddrInUse(err) {
			return nil, kbserr.Wrap(err, "binding agent socket")
		}
		if probeLive(socketPath) {
			return nil, fmt.Errorf("%w: a kbs2 agent is already listening on %s", kbserr.ErrAgentProtocol, socketPath)
		}
		os.Remove(socketPath)
		ln, err = net.Listen("unix", socketPath)
		if err != nil {
			return nil, kbserr.Wrap(err, "binding agent socket after removing stale socket")
		}
	}

	return &Server{
		identities: make(map[string]*identity.Unwrapped),
		socketPath: socketPath,
		listener:   ln,
		logger:     kbslog.GetLogger(),
	}, nil
}

// isAddrInUse reports whether err is net.Listen's failure mode for a path
// that's already bound: a wrapped syscall.EADDRINUSE, or (Unix domain
// sockets being filesystem paths) a plain "already in use" message when the
// stdlib doesn't preserve the errno across the OpError.
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.EADDRINUSE) {
		return true
	}
	return strings.Contains(err.Error(), "address already in use")
}

// probeLive dials socketPath and issues a query for the liveness sentinel,
// reporting true only if it gets a well-formed response back.
func probeLive(socketPath string) bool {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return false
	}
	defer conn.Close()

	env, err := agentproto.NewEnvelope(agentproto.OpQuery, agentproto.QueryRequest{Fingerprint: livenessFingerprint})
	if err != nil {
		return false
	}
	if err := agentproto.WriteFrame(conn, env); err != nil {
		return false
	}
	_, err = agentproto.ReadResponse(conn)
	return err == nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
// Each connection is handled in its own goroutine with panic recovery, so a
// malformed or hostile client can never bring the whole agent down.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// handleConn serves every request a client sends on conn, in order, until
// the client disconnects or sends OpQuit. A session reuses one connection
// for its whole lifetime (an initial Query, then add_identity, then any
// number of encrypt/decrypt calls), so requests and responses must stay
// strictly FIFO on that single connection rather than one-shot per accept.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent connection handler panicked", kbslog.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	for {
		env, err := agentproto.ReadEnvelope(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				writeError(conn, err)
			}
			return
		}

		req, err := agentproto.DecodeRequest(env)
		if err != nil {
			writeError(conn, err)
			return
		}

		resp := s.dispatch(env.Op, req)
		if err := agentproto.WriteFrame(conn, resp); err != nil {
			return
		}

		if env.Op == agentproto.OpQuit {
			return
		}
	}
}

func (s *Server) dispatch(op agentproto.Op, req any) agentproto.Response {
	switch op {
	case agentproto.OpQuery:
		r := req.(*agentproto.QueryRequest)
		if r.Fingerprint == livenessFingerprint {
			return agentproto.Response{Ok: true, Found: true}
		}
		return agentproto.Response{Ok: true, Found: s.hasIdentity(r.Fingerprint)}

	case agentproto.OpAddIdentity:
		r := req.(*agentproto.AddIdentityRequest)
		if err := s.addIdentity(r.Fingerprint, r.Identity); err != nil {
			return errResponse(err)
		}
		return agentproto.Response{Ok: true}

	case agentproto.OpFlushIdentity:
		r := req.(*agentproto.FlushIdentityRequest)
		s.flushIdentity(r.Fingerprint)
		return agentproto.Response{Ok: true}

	case agentproto.OpFlushAll:
		s.flushAll()
		return agentproto.Response{Ok: true}

	case agentproto.OpEncrypt:
		r := req.(*agentproto.EncryptRequest)
		ct, err := s.encrypt(r.Fingerprint, r.Plaintext)
		if err != nil {
			return errResponse(err)
		}
		return agentproto.Response{Ok: true, Result: ct}

	case agentproto.OpDecrypt:
		r := req.(*agentproto.DecryptRequest)
		pt, err := s.decrypt(r.Fingerprint, r.Ciphertext)
		if err != nil {
			return errResponse(err)
		}
		return agentproto.Response{Ok: true, Result: pt}

	case agentproto.OpQuit:
		s.flushAll()
		go func() { _ = s.listener.Close() }()
		return agentproto.Response{Ok: true}

	default:
		return errResponse(kbserr.NewProtocolError(fmt.Sprintf("unhandled op %q", op)))
	}
}

func errResponse(err error) agentproto.Response {
	return agentproto.Response{Ok: false, Error: err.Error()}
}

func writeError(conn net.Conn, err error) {
	_ = agentproto.WriteFrame(conn, errResponse(err))
}

func (s *Server) hasIdentity(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.identities[fingerprint]
	return ok
}

func (s *Server) addIdentity(fingerprint, identityStr string) error {
	id, err := age.ParseX25519Identity(identityStr)
	if err != nil {
		return kbserr.NewKeyIOError("add_identity", fingerprint, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.identities[fingerprint]; ok {
		existing.Close()
	}
	s.identities[fingerprint] = &identity.Unwrapped{Identity: id}
	return nil
}

func (s *Server) flushIdentity(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.identities[fingerprint]; ok {
		existing.Close()
		delete(s.identities, fingerprint)
	}
}

func (s *Server) flushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, existing := range s.identities {
		existing.Close()
		delete(s.identities, fp)
	}
}

func (s *Server) encrypt(fingerprint, plaintext string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.identities[fingerprint]
	if !ok {
		return "", fmt.Errorf("%w: no identity loaded for this configuration", kbserr.ErrAgentUnavailable)
	}

	ct, err := ageEncryptString(plaintext, u.Recipient())
	if err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}
	return ct, nil
}

func (s *Server) decrypt(fingerprint, ciphertext string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.identities[fingerprint]
	if !ok {
		return "", fmt.Errorf("%w: no identity loaded for this configuration", kbserr.ErrAgentUnavailable)
	}
	pt, err := ageDecryptString(ciphertext, u.Identity)
	if err != nil {
		return "", kbserr.NewCryptoError("decrypt", classifyDecryptError(err), err)
	}
	return pt, nil
}

// classifyDecryptError matches recordenvelope's classification: only
// age.Decrypt's no-matching-recipient-stanza failure is a wrong key, every
// other armor/header/parse failure means the ciphertext is damaged.
func classifyDecryptError(err error) error {
	if strings.Contains(err.Error(), "no identity matched") {
		return kbserr.ErrWrongKey
	}
	return kbserr.ErrCorrupt
}

// Shutdown zeroes every held identity and removes the socket file. It does
// not stop Serve; callers cancel Serve's context first (which closes the
// listener) and then call Shutdown to clean up identity material and the
// filesystem entry.
func (s *Server) Shutdown(_ context.Context) error {
	s.flushAll()
	return os.Remove(s.socketPath)
}

// ageEncryptString armor-encrypts plaintext for recipient, matching the
// wire format recordenvelope.Encrypt produces so the client can hand the
// result straight to the store.
func ageEncryptString(plaintext string, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	w, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(plaintext)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := armorWriter.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ageDecryptString armor-decodes and age-decrypts armored with identity.
func ageDecryptString(armored string, id age.Identity) (string, error) {
	r := armor.NewReader(strings.NewReader(armored))
	out, err := age.Decrypt(r, id)
	if err != nil {
		return "", err
	}
	plaintext, err := io.ReadAll(out)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
