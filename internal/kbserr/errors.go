// Package kbserr provides typed errors for kbs2 operations.
// This enables callers to use errors.Is()/errors.As() for specific handling
// and lets the session orchestrator map any error to an exit code and an
// error-hook message without string-matching.
package kbserr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per error kind in the core's error-handling design.
// Use errors.Is(err, kbserr.ErrNotFound) to check for a specific kind.
var (
	ErrConfig           = errors.New("configuration error")
	ErrKeyIO            = errors.New("key file error")
	ErrStoreIO          = errors.New("record store error")
	ErrCrypto           = errors.New("cryptographic operation failed")
	ErrWrongKey         = errors.New("wrong key")
	ErrCorrupt          = errors.New("corrupt ciphertext")
	ErrAgentProtocol    = errors.New("agent protocol error")
	ErrAgentUnavailable = errors.New("agent unavailable")
	ErrAuth             = errors.New("authentication failed")
	ErrNotFound         = errors.New("record not found")
	ErrExists           = errors.New("record already exists")
)

// Kind names the nine error kinds from the core's error-handling design,
// plus External (hook/subcommand failure) and Unknown (anything untyped).
type Kind string

const (
	KindConfig          Kind = "Config"
	KindKeyIO           Kind = "KeyIO"
	KindStoreIO         Kind = "StoreIO"
	KindCrypto          Kind = "Crypto"
	KindAgentProtocol   Kind = "AgentProtocol"
	KindAgentUnavailable Kind = "AgentUnavailable"
	KindAuth            Kind = "Auth"
	KindNotFound        Kind = "NotFound"
	KindExists          Kind = "Exists"
	KindExternal        Kind = "External"
	KindUnknown         Kind = "Unknown"
)

// CryptoError wraps a crypto-kind failure with the age/decrypt subcase
// (ErrWrongKey or ErrCorrupt) and operation context.
type CryptoError struct {
	Op  string // "encrypt", "decrypt", "rekey", "unwrap", "rewrap"
	Sub error  // ErrWrongKey, ErrCorrupt, or nil
	Err error  // underlying error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() []error {
	errs := []error{ErrCrypto}
	if e.Sub != nil {
		errs = append(errs, e.Sub)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewCryptoError creates a CryptoError. sub is ErrWrongKey, ErrCorrupt, or nil.
func NewCryptoError(op string, sub, err error) *CryptoError {
	return &CryptoError{Op: op, Sub: sub, Err: err}
}

// KeyIOError represents an error reading or writing a key file.
type KeyIOError struct {
	Op   string // "load", "unwrap", "rewrap", "generate"
	Path string
	Err  error
}

func (e *KeyIOError) Error() string {
	return fmt.Sprintf("key %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *KeyIOError) Unwrap() []error { return []error{ErrKeyIO, e.Err} }

// NewKeyIOError creates a KeyIOError.
func NewKeyIOError(op, path string, err error) *KeyIOError {
	return &KeyIOError{Op: op, Path: path, Err: err}
}

// StoreIOError represents an error reading or writing a record file.
type StoreIOError struct {
	Op    string // "read", "write", "remove", "list"
	Label string
	Err   error
}

func (e *StoreIOError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Label, e.Err)
}

func (e *StoreIOError) Unwrap() []error { return []error{ErrStoreIO, e.Err} }

// NewStoreIOError creates a StoreIOError.
func NewStoreIOError(op, label string, err error) *StoreIOError {
	return &StoreIOError{Op: op, Label: label, Err: err}
}

// ProtocolError represents a malformed agent frame or unknown operation.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("agent protocol: %s", e.Reason) }
func (e *ProtocolError) Unwrap() error { return ErrAgentProtocol }

// NewProtocolError creates a ProtocolError.
func NewProtocolError(reason string) *ProtocolError { return &ProtocolError{Reason: reason} }

// ConfigError represents missing or malformed configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}
func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

// NewConfigError creates a ConfigError.
func NewConfigError(path string, err error) *ConfigError { return &ConfigError{Path: path, Err: err} }

// External represents a hook or external-subcommand failure. It carries the
// exit code and captured stderr so the session orchestrator can surface both
// in the error-hook message.
type External struct {
	Command string
	Code    int
	Stderr  string
}

func (e *External) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s: exit %d", e.Command, e.Code)
}

// KindOf maps any error to one of the documented error kinds, most specific
// match first. Errors that don't match any typed kind (e.g. plain argument
// validation errors) report KindUnknown; callers still exit 1, they just
// can't attribute the failure to one of the nine named kinds for diagnostics.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, new(*External)):
		return KindExternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExists):
		return KindExists
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrAgentUnavailable):
		return KindAgentUnavailable
	case errors.Is(err, ErrAgentProtocol):
		return KindAgentProtocol
	case errors.Is(err, ErrCrypto):
		return KindCrypto
	case errors.Is(err, ErrStoreIO):
		return KindStoreIO
	case errors.Is(err, ErrKeyIO):
		return KindKeyIO
	case errors.Is(err, ErrConfig):
		return KindConfig
	default:
		return KindUnknown
	}
}

// Is is a thin re-export of errors.Is for callers that only import kbserr.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a thin re-export of errors.As for callers that only import kbserr.
func As(err error, target any) bool { return errors.As(err, target) }

// Wrap wraps err with additional context, or returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
