// Package agentproto defines the wire protocol spoken between kbs2's CLI
// client and its background agent over a Unix domain socket: one operation
// request per frame, one response frame in reply.
package agentproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"kbs2/internal/kbserr"
)

// Op names one agent operation. The wire encodes it as the request's "op"
// field so DecodeRequest can dispatch without a type switch on the caller's
// side of the connection.
type Op string

const (
	OpQuery         Op = "query"
	OpAddIdentity   Op = "add_identity"
	OpFlushIdentity Op = "flush_identity"
	OpFlushAll      Op = "flush_all"
	OpEncrypt       Op = "encrypt"
	OpDecrypt       Op = "decrypt"
	OpQuit          Op = "quit"
)

// MaxFrameSize bounds a single frame's body, rejecting an oversized length
// prefix before it is ever allocated. A record body never approaches this;
// anything claiming to is either a protocol mismatch or hostile input on
// the socket.
const MaxFrameSize = 1 << 20

// Envelope is the outer shape every request and response shares: an "op"
// tag plus a "payload" holding the op-specific fields.
type Envelope struct {
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WriteFrame writes v as a 4-byte big-endian length prefix followed by its
// JSON encoding.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return kbserr.NewProtocolError(fmt.Sprintf("encoding frame: %v", err))
	}
	if len(body) > MaxFrameSize {
		return kbserr.NewProtocolError("frame exceeds maximum size")
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	if _, err := w.Write(length[:]); err != nil {
		return kbserr.NewProtocolError(fmt.Sprintf("writing frame length: %v", err))
	}
	if _, err := w.Write(body); err != nil {
		return kbserr.NewProtocolError(fmt.Sprintf("writing frame body: %v", err))
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON body from r, rejecting a length
// prefix above limit (pass MaxFrameSize in production; tests may pass a
// smaller bound to exercise the rejection path).
func ReadFrame(r io.Reader, limit int) (json.RawMessage, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(length[:])
	if int(n) > limit {
		return nil, kbserr.NewProtocolError("frame length exceeds maximum size")
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, kbserr.NewProtocolError(fmt.Sprintf("reading frame body: %v", err))
	}
	return body, nil
}

// --- Request payloads, one per Op. ---

// QueryRequest asks whether fingerprint has an identity loaded.
type QueryRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// AddIdentityRequest hands the agent an already-unwrapped identity string
// (an AGE-SECRET-KEY-1... line) to hold for fingerprint.
type AddIdentityRequest struct {
	Fingerprint string `json:"fingerprint"`
	Identity    string `json:"identity"`
}

// FlushIdentityRequest asks the agent to drop and zero fingerprint's
// identity.
type FlushIdentityRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// FlushAllRequest asks the agent to drop and zero every identity it holds.
type FlushAllRequest struct{}

// EncryptRequest asks the agent to encrypt plaintext for fingerprint's
// recipient.
type EncryptRequest struct {
	Fingerprint string `json:"fingerprint"`
	Plaintext   string `json:"plaintext"`
}

// DecryptRequest asks the agent to decrypt an armored message using
// fingerprint's identity.
type DecryptRequest struct {
	Fingerprint string `json:"fingerprint"`
	Ciphertext  string `json:"ciphertext"`
}

// QuitRequest asks the agent to zero every identity and exit.
type QuitRequest struct{}

// --- Responses. ---

// Response is the single response shape for every op: either Ok is true and
// Result/Found carry the op-specific answer, or Ok is false and Error
// explains why.
type Response struct {
	Ok     bool   `json:"ok"`
	Found  bool   `json:"found,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DecodeRequest unwraps env's payload into the typed request struct that
// matches env.Op.
func DecodeRequest(env Envelope) (any, error) {
	var v any
	switch env.Op {
	case OpQuery:
		v = &QueryRequest{}
	case OpAddIdentity:
		v = &AddIdentityRequest{}
	case OpFlushIdentity:
		v = &FlushIdentityRequest{}
	case OpFlushAll:
		v = &FlushAllRequest{}
	case OpEncrypt:
		v = &EncryptRequest{}
	case OpDecrypt:
		v = &DecryptRequest{}
	case OpQuit:
		v = &QuitRequest{}
	default:
		return nil, kbserr.NewProtocolError(fmt.Sprintf("unknown operation %q", env.Op))
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, kbserr.NewProtocolError(fmt.Sprintf("decoding %s payload: %v", env.Op, err))
		}
	}
	return v, nil
}

// NewEnvelope builds a request Envelope for op with payload marshaled into
// its Payload field.
func NewEnvelope(op Op, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, kbserr.NewProtocolError(fmt.Sprintf("encoding %s payload: %v", op, err))
	}
	return Envelope{Op: op, Payload: body}, nil
}

// ReadEnvelope reads one request Envelope from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	raw, err := ReadFrame(r, MaxFrameSize)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, kbserr.NewProtocolError(fmt.Sprintf("decoding envelope: %v", err))
	}
	return env, nil
}

// ReadResponse reads one Response frame from r.
func ReadResponse(r io.Reader) (Response, error) {
	raw, err := ReadFrame(r, MaxFrameSize)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, kbserr.NewProtocolError(fmt.Sprintf("decoding response: %v", err))
	}
	return resp, nil
}
