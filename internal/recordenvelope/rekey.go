package recordenvelope

import (
	"os"
	"path/filepath"

	"filippo.io/age"

	"kbs2/internal/kbserr"
	"kbs2/internal/store"
)

// RekeyManifest reports the outcome of a Rekey run: every label rewritten
// before either success or the first failure.
type RekeyManifest struct {
	Rewritten []string
	Failed    string // label that failed, empty on full success
}

// DumpAll decrypts every record in dir with identity, in List order.
func DumpAll(dir string, identity age.Identity) ([]Record, error) {
	labels, err := store.List(dir)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(labels))
	for _, label := range labels {
		armored, err := store.Read(dir, label)
		if err != nil {
			return nil, err
		}
		rec, err := Decrypt(armored, identity)
		if err != nil {
			return nil, kbserr.Wrap(err, label)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Rekey re-encrypts every record in dir under newRecipient, having decrypted
// each with oldIdentity. Each record is written to "<label>.new" and synced
// before being renamed over the original, so a crash mid-run leaves every
// already-rewritten record intact and every not-yet-rewritten record
// decryptable with the old identity; rerunning Rekey is safe and resumable
// since it always starts from dir's current (possibly partially rekeyed)
// contents. A record that no longer opens with oldIdentity is first tried
// against newIdentity: if that succeeds, a prior run already rewrote it, and
// it's counted as done instead of aborting the whole rerun.
func Rekey(oldIdentity, newIdentity age.Identity, newRecipient age.Recipient, dir string) (RekeyManifest, error) {
	labels, err := store.List(dir)
	if err != nil {
		return RekeyManifest{}, err
	}

	manifest := RekeyManifest{Rewritten: make([]string, 0, len(labels))}
	for _, label := range labels {
		armored, err := store.Read(dir, label)
		if err != nil {
			manifest.Failed = label
			return manifest, err
		}

		rec, err := Decrypt(armored, oldIdentity)
		if err != nil {
			if _, newErr := Decrypt(armored, newIdentity); newErr == nil {
				manifest.Rewritten = append(manifest.Rewritten, label)
				continue
			}
			manifest.Failed = label
			return manifest, err
		}

		reencrypted, err := Encrypt(rec, newRecipient)
		if err != nil {
			manifest.Failed = label
			return manifest, err
		}

		tmpLabel := label + ".new"
		tmpPath := filepath.Join(dir, tmpLabel+store.Ext)
		if err := store.Write(dir, tmpLabel, reencrypted, true); err != nil {
			manifest.Failed = label
			return manifest, err
		}
		finalPath := filepath.Join(dir, label+store.Ext)
		f, err := os.Open(tmpPath)
		if err == nil {
			f.Sync()
			f.Close()
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			manifest.Failed = label
			return manifest, kbserr.NewStoreIOError("rekey", label, err)
		}

		manifest.Rewritten = append(manifest.Rewritten, label)
	}

	return manifest, nil
}
