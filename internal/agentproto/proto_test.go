package agentproto

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := QueryRequest{Fingerprint: "/home/user/.config/kbs2"}

	require.NoError(t, WriteFrame(&buf, req))

	raw, err := ReadFrame(&buf, MaxFrameSize)
	require.NoError(t, err)

	var out QueryRequest
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, req, out)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, QueryRequest{Fingerprint: "x"}))

	_, err := ReadFrame(&buf, 2) // smaller than the actual body
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	env, err := NewEnvelope(OpEncrypt, EncryptRequest{Fingerprint: "fp", Plaintext: "hello"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, env))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpEncrypt, got.Op)

	decoded, err := DecodeRequest(got)
	require.NoError(t, err)
	req, ok := decoded.(*EncryptRequest)
	require.True(t, ok)
	assert.Equal(t, "hello", req.Plaintext)
}

func TestDecodeRequestUnknownOp(t *testing.T) {
	_, err := DecodeRequest(Envelope{Op: "bogus"})
	assert.Error(t, err)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Response{Ok: true, Result: "ciphertext"}))

	resp, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	assert.Equal(t, "ciphertext", resp.Result)
}

func TestAllRequestTypesDecode(t *testing.T) {
	cases := []struct {
		op      Op
		payload any
	}{
		{OpQuery, QueryRequest{Fingerprint: "fp"}},
		{OpAddIdentity, AddIdentityRequest{Fingerprint: "fp", Identity: "AGE-SECRET-KEY-1..."}},
		{OpFlushIdentity, FlushIdentityRequest{Fingerprint: "fp"}},
		{OpFlushAll, FlushAllRequest{}},
		{OpEncrypt, EncryptRequest{Fingerprint: "fp", Plaintext: "p"}},
		{OpDecrypt, DecryptRequest{Fingerprint: "fp", Ciphertext: "c"}},
		{OpQuit, QuitRequest{}},
	}
	for _, tc := range cases {
		env, err := NewEnvelope(tc.op, tc.payload)
		require.NoError(t, err)
		decoded, err := DecodeRequest(env)
		require.NoError(t, err, tc.op)
		require.NotNil(t, decoded)
	}
}
