// Package identity manages kbs2 keyfiles: the on-disk age identity that
// backs a store's public key, optionally wrapped under a master passphrase.
package identity

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"kbs2/internal/kbserr"
	"kbs2/internal/kbssecure"
)

// KeyFile is a keyfile's on-disk contents plus whatever Load could
// determine about its format without a passphrase.
type KeyFile struct {
	Path    string
	Wrapped bool
	raw     []byte
}

// Unwrapped is a keyfile that has been opened: it owns the underlying
// X25519 identity's secret half in a kbssecure.Material so it can be
// explicitly zeroed on Close.
type Unwrapped struct {
	Identity *age.X25519Identity
	secret   *kbssecure.Material
}

// RawBytes returns the keyfile's raw on-disk contents as read by Load.
func (kf *KeyFile) RawBytes() []byte { return kf.raw }

// Close zeroes the unwrapped identity's secret material. Safe to call more
// than once.
func (u *Unwrapped) Close() {
	if u.secret != nil {
		u.secret.Close()
	}
}

// Recipient returns the public half of u, for encryption.
func (u *Unwrapped) Recipient() age.Recipient {
	return u.Identity.Recipient()
}

// RecipientString returns the public half of u in age's textual recipient
// format (age1...), for writing into config.toml's public-key key.
func (u *Unwrapped) RecipientString() string {
	return u.Identity.Recipient().String()
}

// Load peeks at path's contents and reports whether the keyfile is wrapped
// (its contents are an armored age message) or unwrapped (a plain
// AGE-SECRET-KEY-1... identity string), without requiring a passphrase.
func Load(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kbserr.NewKeyIOError("load", path, err)
	}
	return &KeyFile{
		Path:    path,
		Wrapped: bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), []byte(armor.Header)),
		raw:     data,
	}, nil
}

// Unwrap opens kf, decrypting with passphrase first if kf is wrapped, and
// parses the resulting identity string. A wrong passphrase or corrupt
// wrapped keyfile is reported as kbserr.ErrWrongKey via CryptoError.
func Unwrap(kf *KeyFile, passphrase string) (*Unwrapped, error) {
	plaintext := kf.raw
	if kf.Wrapped {
		scryptIdentity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, kbserr.NewCryptoError("unwrap", nil, err)
		}
		r, err := age.Decrypt(armor.NewReader(bytes.NewReader(kf.raw)), scryptIdentity)
		if err != nil {
			return nil, kbserr.NewCryptoError("unwrap", kbserr.ErrWrongKey, err)
		}
		plaintext, err = io.ReadAll(r)
		if err != nil {
			return nil, kbserr.NewCryptoError("unwrap", kbserr.ErrWrongKey, err)
		}
	}

	secret := kbssecure.NewMaterial(plaintext)
	identityStr := strings.TrimSpace(string(secret.Bytes()))
	id, err := age.ParseX25519Identity(identityStr)
	if err != nil {
		secret.Close()
		return nil, kbserr.NewKeyIOError("unwrap", kf.Path, fmt.Errorf("parsing identity: %w", err))
	}

	return &Unwrapped{Identity: id, secret: secret}, nil
}

// Generate creates a fresh X25519 identity, writes it unwrapped to path,
// and returns both the KeyFile and the already-open Unwrapped so the caller
// (init) can read the public key and optionally wrap it immediately without
// a second round trip through the filesystem.
func Generate(path string) (*KeyFile, *Unwrapped, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, nil, kbserr.NewKeyIOError("generate", path, err)
	}

	plaintext := []byte(id.String() + "\n")
	if err := writeAtomic(path, plaintext); err != nil {
		return nil, nil, kbserr.NewKeyIOError("generate", path, err)
	}

	secret := kbssecure.NewMaterial(plaintext)
	return &KeyFile{Path: path, Wrapped: false, raw: plaintext},
		&Unwrapped{Identity: id, secret: secret}, nil
}

// Rewrap re-persists u under a new passphrase (wrap=true) or as a plain
// identity string (wrap=false), atomically replacing path. When keepBackup
// is true the previous contents are preserved at path+".old" before the
// replacement; Rewrap never writes the backup and the new keyfile out of
// order, so a crash leaves either the original keyfile or the original
// keyfile plus an extra ".old" copy, never a missing keyfile.
func Rewrap(u *Unwrapped, path string, passphrase string, wrap bool, keepBackup bool) error {
	var out []byte
	if wrap {
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return kbserr.NewCryptoError("rewrap", nil, err)
		}
		var buf bytes.Buffer
		armorWriter := armor.NewWriter(&buf)
		w, err := age.Encrypt(armorWriter, recipient)
		if err != nil {
			return kbserr.NewCryptoError("rewrap", nil, err)
		}
		if _, err := w.Write([]byte(u.Identity.String() + "\n")); err != nil {
			return kbserr.NewCryptoError("rewrap", nil, err)
		}
		if err := w.Close(); err != nil {
			return kbserr.NewCryptoError("rewrap", nil, err)
		}
		if err := armorWriter.Close(); err != nil {
			return kbserr.NewCryptoError("rewrap", nil, err)
		}
		out = buf.Bytes()
	} else {
		out = []byte(u.Identity.String() + "\n")
	}

	if keepBackup {
		existing, err := os.ReadFile(path)
		if err == nil {
			if err := writeAtomic(path+".old", existing); err != nil {
				return kbserr.NewKeyIOError("rewrap", path+".old", err)
			}
		}
	}

	if err := writeAtomic(path, out); err != nil {
		return kbserr.NewKeyIOError("rewrap", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
