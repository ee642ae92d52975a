package mailstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildPathUsesServerDelimiter(t *testing.T) {
	assert.Equal(t, "Triage/FYI", childPath("Triage", "FYI", '/'))
	assert.Equal(t, "Triage.FYI", childPath("Triage", "FYI", '.'))
	assert.Equal(t, "INBOX.Corrections.spam", childPath("INBOX.Corrections", "spam", '.'))

	// No parent means a top-level mailbox regardless of delimiter.
	assert.Equal(t, "FYI", childPath("", "FYI", '.'))

	// A server reporting no delimiter falls back to '/'.
	assert.Equal(t, "Triage/FYI", childPath("Triage", "FYI", 0))
}

func TestLeafNameAndParentPath(t *testing.T) {
	assert.Equal(t, "FYI", leafName("Triage/FYI", '/'))
	assert.Equal(t, "Triage", parentPath("Triage/FYI", '/'))

	assert.Equal(t, "spam", leafName("INBOX.Corrections.spam", '.'))
	assert.Equal(t, "INBOX.Corrections", parentPath("INBOX.Corrections.spam", '.'))

	assert.Equal(t, "INBOX", leafName("INBOX", 0))
	assert.Equal(t, "", parentPath("INBOX", 0))
}
