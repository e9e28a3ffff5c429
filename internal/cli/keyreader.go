package cli

import (
	"kbs2/internal/identity"
)

// fileKeyReader implements agentclient.KeyReader by delegating to
// internal/identity: it loads the configured keyfile once and reuses the
// resulting classification (wrapped/unwrapped) for each unwrap attempt, so
// a mistyped passphrase doesn't force a second disk read.
type fileKeyReader struct {
	path string
	kf   *identity.KeyFile
}

func newFileKeyReader(path string) *fileKeyReader {
	return &fileKeyReader{path: path}
}

func (r *fileKeyReader) WrappedKeyBytes() ([]byte, error) {
	kf, err := identity.Load(r.path)
	if err != nil {
		return nil, err
	}
	r.kf = kf
	return kf.RawBytes(), nil
}

func (r *fileKeyReader) Unwrap(_ []byte, passphrase string) (string, error) {
	u, err := identity.Unwrap(r.kf, passphrase)
	if err != nil {
		return "", err
	}
	defer u.Close()
	return u.Identity.String(), nil
}
