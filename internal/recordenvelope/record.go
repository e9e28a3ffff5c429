// Package recordenvelope defines kbs2's record types and their age-armored
// encrypted wire format. A record is always stored and transmitted as a
// single armored age message wrapping a JSON document.
package recordenvelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"kbs2/internal/kbserr"
)

// Kind identifies which of the three record shapes a Record holds.
type Kind string

const (
	KindLogin        Kind = "Login"
	KindEnvironment  Kind = "Environment"
	KindUnstructured Kind = "Unstructured"
)

func (k Kind) valid() bool {
	switch k {
	case KindLogin, KindEnvironment, KindUnstructured:
		return true
	default:
		return false
	}
}

// Body is the kind-tagged payload of a record. Fields holds the kind's
// named values: "username"/"password" for Login, "variable"/"value" for
// Environment, "contents" for Unstructured.
type Body struct {
	Kind   Kind
	Fields map[string]string
}

// body is Body's exact wire shape: kind, then fields, in that order.
type body struct {
	Kind   Kind              `json:"kind"`
	Fields map[string]string `json:"fields"`
}

func (b Body) MarshalJSON() ([]byte, error) {
	return json.Marshal(body{Kind: b.Kind, Fields: b.Fields})
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var raw body
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Kind.valid() {
		return fmt.Errorf("unknown record kind %q", raw.Kind)
	}
	b.Kind = raw.Kind
	b.Fields = raw.Fields
	return nil
}

// Record is one decrypted secret: a labeled, timestamped, kind-tagged body.
type Record struct {
	Timestamp int64
	Label     string
	Body      Body
}

// record is Record's exact wire shape: timestamp, label, then body.
type record struct {
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
	Body      Body   `json:"body"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{Timestamp: r.Timestamp, Label: r.Label, Body: r.Body})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw record
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Timestamp = raw.Timestamp
	r.Label = raw.Label
	r.Body = raw.Body
	return nil
}

// NewLogin builds a Login record.
func NewLogin(label, username, password string, timestamp int64) Record {
	return Record{
		Timestamp: timestamp,
		Label:     label,
		Body:      Body{Kind: KindLogin, Fields: map[string]string{"username": username, "password": password}},
	}
}

// NewEnvironment builds an Environment record.
func NewEnvironment(label, variable, value string, timestamp int64) Record {
	return Record{
		Timestamp: timestamp,
		Label:     label,
		Body:      Body{Kind: KindEnvironment, Fields: map[string]string{"variable": variable, "value": value}},
	}
}

// NewUnstructured builds an Unstructured record.
func NewUnstructured(label, contents string, timestamp int64) Record {
	return Record{
		Timestamp: timestamp,
		Label:     label,
		Body:      Body{Kind: KindUnstructured, Fields: map[string]string{"contents": contents}},
	}
}

// Encrypt serializes rec to JSON, age-encrypts it for recipient, and armors
// the result so the stored file is ASCII-safe.
func Encrypt(rec Record, recipient age.Recipient) (string, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	w, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}
	if err := w.Close(); err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", kbserr.NewCryptoError("encrypt", nil, err)
	}
	return buf.String(), nil
}

// Decrypt unarmors armored, age-decrypts it with identity, and parses the
// resulting JSON back into a Record. Only the specific case of no recipient
// stanza matching identity is reported as ErrWrongKey; a malformed armor
// envelope, a truncated or otherwise unparsable age message, or a successful
// decryption that doesn't parse as JSON are all ErrCorrupt.
func Decrypt(armored string, identity age.Identity) (Record, error) {
	r := armor.NewReader(strings.NewReader(armored))
	out, err := age.Decrypt(r, identity)
	if err != nil {
		return Record{}, kbserr.NewCryptoError("decrypt", classifyDecryptError(err), err)
	}
	plaintext, err := io.ReadAll(out)
	if err != nil {
		return Record{}, kbserr.NewCryptoError("decrypt", classifyDecryptError(err), err)
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return Record{}, kbserr.NewCryptoError("decrypt", kbserr.ErrCorrupt, err)
	}
	return rec, nil
}

// classifyDecryptError tells an age failure that means "identity doesn't
// match any recipient stanza" apart from everything else age.Decrypt can
// fail with (truncated input, a malformed header, a bad armor envelope),
// which all mean the ciphertext itself is damaged rather than merely keyed
// to someone else. age doesn't export a sentinel for the no-match case, so
// this matches the message text the library has used since its v1 release.
func classifyDecryptError(err error) error {
	if strings.Contains(err.Error(), "no identity matched") {
		return kbserr.ErrWrongKey
	}
	return kbserr.ErrCorrupt
}

// IsArmored reports whether data begins with age's armor header, as opposed
// to a raw binary age message.
func IsArmored(data []byte) bool {
	return bytes.HasPrefix(data, []byte(armor.Header))
}
