package kbserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrConfig, ErrKeyIO, ErrStoreIO, ErrCrypto, ErrWrongKey, ErrCorrupt,
		ErrAgentProtocol, ErrAgentUnavailable, ErrAuth, ErrNotFound, ErrExists,
	}
	for _, err := range sentinels {
		require.Error(t, err)
		assert.NotEmpty(t, err.Error())
	}
}

func TestCryptoErrorWrongKey(t *testing.T) {
	base := errors.New("no matching recipient")
	err := NewCryptoError("decrypt", ErrWrongKey, base)

	assert.Equal(t, "crypto decrypt: no matching recipient", err.Error())
	assert.True(t, errors.Is(err, ErrCrypto))
	assert.True(t, errors.Is(err, ErrWrongKey))
	assert.True(t, errors.Is(err, base))
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func TestCryptoErrorCorrupt(t *testing.T) {
	err := NewCryptoError("decrypt", ErrCorrupt, errors.New("truncated frame"))
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.Equal(t, KindCrypto, KindOf(err))
}

func TestKeyIOError(t *testing.T) {
	base := errors.New("permission denied")
	err := NewKeyIOError("load", "/home/u/.kbs2/key", base)
	assert.Equal(t, `key load /home/u/.kbs2/key: permission denied`, err.Error())
	assert.True(t, errors.Is(err, ErrKeyIO))
	assert.Equal(t, KindKeyIO, KindOf(err))
}

func TestStoreIOError(t *testing.T) {
	err := NewStoreIOError("read", "amazon", errors.New("no such file"))
	assert.Contains(t, err.Error(), `"amazon"`)
	assert.True(t, errors.Is(err, ErrStoreIO))

	listErr := NewStoreIOError("list", "", errors.New("permission denied"))
	assert.NotContains(t, listErr.Error(), `""`)
}

func TestProtocolError(t *testing.T) {
	err := NewProtocolError("unknown op \"bogus\"")
	assert.True(t, errors.Is(err, ErrAgentProtocol))
	assert.Equal(t, KindAgentProtocol, KindOf(err))
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("/home/u/.config/kbs2/config.toml", errors.New("missing public-key"))
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestExternalKind(t *testing.T) {
	err := &External{Command: "post-hook", Code: 1, Stderr: "boom"}
	assert.Equal(t, `post-hook: exit 1: boom`, err.Error())
	assert.Equal(t, KindExternal, KindOf(err))
}

func TestKindOfPrecedence(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
	assert.Equal(t, KindExists, KindOf(ErrExists))
	assert.Equal(t, KindAuth, KindOf(ErrAuth))
	assert.Equal(t, KindAgentUnavailable, KindOf(ErrAgentUnavailable))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrap(t *testing.T) {
	base := errors.New("base")
	wrapped := Wrap(base, "context")
	assert.Equal(t, "context: base", wrapped.Error())
	assert.Nil(t, Wrap(nil, "context"))
}

func TestIsAs(t *testing.T) {
	err := NewCryptoError("encrypt", nil, errors.New("oops"))
	assert.True(t, Is(err, ErrCrypto))

	var target *CryptoError
	assert.True(t, As(err, &target))
	assert.Equal(t, "encrypt", target.Op)
}
