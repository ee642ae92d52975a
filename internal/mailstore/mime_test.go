package mailstore

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseMIME(t *testing.T) {
	raw, err := buildMIME("sender@example.com", OutgoingMessage{
		To:       []string{"rcpt@example.com"},
		Subject:  "digest",
		TextBody: "plain text body",
		HTMLBody: "<p>html body</p>",
	})
	require.NoError(t, err)

	text, html, hasAttachment := parseMIMEBody(raw)
	assert.Contains(t, text, "plain text body")
	assert.Contains(t, html, "html body")
	assert.False(t, hasAttachment)
}

func TestParseMIMEBodyFallsBackOnGarbage(t *testing.T) {
	text, html, hasAttachment := parseMIMEBody([]byte("not a mime message at all"))
	assert.Equal(t, "not a mime message at all", text)
	assert.Empty(t, html)
	assert.False(t, hasAttachment)
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "a b c", previewOf("a\n b\t\tc", ""))
	assert.Equal(t, "from html", previewOf("", "from html"))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, previewOf(string(long), ""), 200)
}

func TestPreviewOfKeepsMultiByteRunesIntact(t *testing.T) {
	preview := previewOf(strings.Repeat("é", 300), "")
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, 200, utf8.RuneCountInString(preview))
}
