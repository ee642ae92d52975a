package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
)

func TestUnmarshalResponseStripsFences(t *testing.T) {
	var parsed struct {
		Classification string `json:"classification"`
	}

	raw := "```json\n{\"classification\": \"important\"}\n```"
	require.NoError(t, unmarshalResponse(raw, &parsed))
	assert.Equal(t, "important", parsed.Classification)

	require.NoError(t, unmarshalResponse(`{"classification": "fyi"}`, &parsed))
	assert.Equal(t, "fyi", parsed.Classification)

	assert.Error(t, unmarshalResponse("not json", &parsed))
}

func TestParseCorrectionPrefersLocalGrammar(t *testing.T) {
	// No API key and no server: a locally parsable instruction must
	// never reach the network.
	c := NewAnthropicClassifier("", model.AIConfig{})

	result, err := c.ParseCorrection(context.Background(), "emails from boss@example.com are important")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationImportant, result.Classification)
	assert.Equal(t, "sender is boss@example.com, classify as Important", result.Reasoning)
}

func TestRelevantCorrectionsOrdersMatchesFirst(t *testing.T) {
	req := Request{
		Email: mailstore.Message{From: "billing@acme.com", Subject: "invoice"},
		Corrections: []model.Correction{
			{ID: "other", Reasoning: "sender is someone@else.com, classify as FYI"},
			{ID: "match", Reasoning: "sender domain is acme.com, classify as Important"},
		},
	}

	ordered := relevantCorrections(req)
	require.Len(t, ordered, 2)
	assert.Equal(t, "match", ordered[0].ID)
	assert.Equal(t, "other", ordered[1].ID)
}
