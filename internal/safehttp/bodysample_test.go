package safehttp

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBodyUnderLimitReturnsEverything(t *testing.T) {
	body := bytes.NewBufferString("hello world")

	sample, err := sampleBody(body, 2048)

	require.NoError(t, err)
	assert.Equal(t, "hello world", sample)
}

func TestSampleBodyTruncatesAtLimit(t *testing.T) {
	body := bytes.NewBufferString(strings.Repeat("a", 5000))

	sample, err := sampleBody(body, 100)

	require.NoError(t, err)
	assert.Len(t, sample, 100)
}

func TestSampleBodyDropsTruncatedUTF8Rune(t *testing.T) {
	// "é" is 2 bytes (0xC3 0xA9); put it straddling the limit boundary so
	// the truncated sample ends mid-rune.
	payload := strings.Repeat("a", 99) + "é" + strings.Repeat("b", 100)
	body := bytes.NewBufferString(payload)

	sample, err := sampleBody(body, 100)

	require.NoError(t, err)
	assert.True(t, utf8.ValidString(sample))
	assert.Equal(t, strings.Repeat("a", 99), sample)
}
