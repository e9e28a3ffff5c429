package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGenerator(t *testing.T) {
	g := Default()
	assert.Equal(t, "default", g.Name)
	assert.False(t, g.IsCommand())

	out, err := Generate(g)
	require.NoError(t, err)
	assert.Len(t, out, DefaultLength)
}

func TestSampleAlphabetsDrawsFromEach(t *testing.T) {
	g := Generator{
		Name:      "multi",
		Alphabets: []string{"0", "a", "!"},
		Length:    6,
	}

	out, err := Generate(g)
	require.NoError(t, err)
	assert.Len(t, out, 6)
	assert.Contains(t, out, "0")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "!")
}

func TestSampleAlphabetsOnlyUsesConfiguredChars(t *testing.T) {
	g := Generator{Alphabets: []string{"xy"}, Length: 32}
	out, err := Generate(g)
	require.NoError(t, err)
	for _, c := range out {
		assert.Contains(t, "xy", string(c))
	}
}

func TestSampleAlphabetsRejectsShortLength(t *testing.T) {
	g := Generator{Alphabets: []string{"a", "b", "c"}, Length: 2}
	_, err := Generate(g)
	assert.Error(t, err)
}

func TestSampleAlphabetsRejectsEmptyAlphabet(t *testing.T) {
	g := Generator{Alphabets: []string{""}, Length: 4}
	_, err := Generate(g)
	assert.Error(t, err)
}

func TestCommandGenerator(t *testing.T) {
	g := Generator{Name: "cmd", Command: "printf 'hunter2\\n'"}
	assert.True(t, g.IsCommand())

	out, err := Generate(g)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out)
}

func TestCommandGeneratorTrimsOnlyTrailingWhitespace(t *testing.T) {
	g := Generator{Command: "printf '  hunter2  \\n\\n'"}
	out, err := Generate(g)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "  hunter2"))
	assert.False(t, strings.HasSuffix(out, "\n"))
}

func TestCommandGeneratorFailure(t *testing.T) {
	g := Generator{Command: "exit 7"}
	_, err := Generate(g)
	assert.Error(t, err)
}

func TestShuffleIsPermutation(t *testing.T) {
	b := []byte("abcdefgh")
	original := append([]byte(nil), b...)
	require.NoError(t, shuffle(b))
	assert.ElementsMatch(t, original, b)
}
