// Package kbssecure provides memory-zeroing utilities for secure cleanup of
// sensitive data: unwrapped private key bytes, passphrases, and plaintext
// record fields that pass through the agent.
package kbssecure

import (
	"crypto/subtle"
)

// SecureZero overwrites a byte slice with zeros to prevent sensitive data
// from persisting in memory. This helps mitigate memory dump attacks and
// reduces the window during which keys are recoverable from RAM.
//
// Due to Go's garbage collector and potential compiler optimizations, this
// function cannot guarantee complete erasure. It significantly reduces the
// attack surface compared to no cleanup.
//
// The function uses subtle.ConstantTimeCopy to prevent the compiler from
// optimizing away the zeroing operation.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros multiple byte slices in a single call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// Material wraps sensitive byte data (an unwrapped identity's secret half,
// a passphrase, a decrypted record's plaintext) with automatic zeroing on
// Close(). This is the type the agent's identity map and client sessions use
// for every plaintext value that must not outlive its one use.
//
// Example:
//
//	m := kbssecure.NewMaterial(secretBytes)
//	defer m.Close()
//	// ... use m.Bytes() ...
type Material struct {
	data   []byte
	closed bool
}

// NewMaterial creates a new Material wrapper. The data is copied so Material
// owns an independent buffer the caller can freely continue to use or
// discard.
func NewMaterial(data []byte) *Material {
	if data == nil {
		return &Material{}
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return &Material{data: copied}
}

// Bytes returns the underlying data. Returns nil once the Material is closed.
func (m *Material) Bytes() []byte {
	if m.closed {
		return nil
	}
	return m.data
}

// Len returns the length of the data, or 0 if closed.
func (m *Material) Len() int {
	if m.closed || m.data == nil {
		return 0
	}
	return len(m.data)
}

// Clone returns an independent copy of m's data in a new Material, rather
// than aliasing the same backing array. Callers that need to hand a copy of
// secret material to another owner (e.g. a read-lock-held encrypt/decrypt
// call) should Clone rather than pass Bytes() directly, so the copy's
// lifetime is decoupled from m's.
func (m *Material) Clone() *Material {
	return NewMaterial(m.Bytes())
}

// Close securely zeros the data and marks the Material closed. Idempotent.
func (m *Material) Close() {
	if m.closed || m.data == nil {
		return
	}
	SecureZero(m.data)
	m.data = nil
	m.closed = true
}

// IsClosed returns whether the Material has been closed.
func (m *Material) IsClosed() bool {
	return m.closed
}
