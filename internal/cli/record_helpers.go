package cli

import (
	"encoding/json"
	"fmt"

	"kbs2/internal/agentclient"
	"kbs2/internal/recordenvelope"
	"kbs2/internal/store"
)

// encryptRecord serializes rec and asks the agent session to encrypt it for
// the session's configured recipient, matching the armored wire format
// recordenvelope.Encrypt would produce directly (used instead, here, since
// the CLI only ever holds a session, never the identity itself).
func encryptRecord(sess *agentclient.Session, rec recordenvelope.Record) (string, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("serializing record: %w", err)
	}
	return sess.Encrypt(string(plaintext))
}

// decryptRecord asks the agent session to decrypt armored and parses the
// resulting JSON back into a Record.
func decryptRecord(sess *agentclient.Session, armored string) (recordenvelope.Record, error) {
	plaintext, err := sess.Decrypt(armored)
	if err != nil {
		return recordenvelope.Record{}, err
	}
	var rec recordenvelope.Record
	if err := json.Unmarshal([]byte(plaintext), &rec); err != nil {
		return recordenvelope.Record{}, fmt.Errorf("parsing decrypted record: %w", err)
	}
	return rec, nil
}

// encodeRecordJSON marshals rec to indented JSON for the "edit" subcommand's
// temp file, so the editor presents a legible document rather than the
// compact form used on the wire.
func encodeRecordJSON(rec recordenvelope.Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing record: %w", err)
	}
	return data, nil
}

// decodeRecordJSON parses an edited record back from its temp-file form.
func decodeRecordJSON(data []byte) (recordenvelope.Record, error) {
	var rec recordenvelope.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return recordenvelope.Record{}, fmt.Errorf("parsing edited record: %w", err)
	}
	return rec, nil
}

// readRecord reads and decrypts label's record from the store.
func readRecord(storeDir, label string, sess *agentclient.Session) (recordenvelope.Record, error) {
	armored, err := store.Read(storeDir, label)
	if err != nil {
		return recordenvelope.Record{}, err
	}
	return decryptRecord(sess, armored)
}

// writeRecord encrypts and atomically writes rec to the store.
func writeRecord(storeDir string, sess *agentclient.Session, rec recordenvelope.Record, overwrite bool) error {
	armored, err := encryptRecord(sess, rec)
	if err != nil {
		return err
	}
	return store.Write(storeDir, rec.Label, armored, overwrite)
}
