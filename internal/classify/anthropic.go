package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nhle/mail-triage/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"

	// maxBodyChars bounds how much body text is sent per call.
	maxBodyChars = 4000
)

// AnthropicClassifier implements Classifier against the Anthropic
// Messages API.
type AnthropicClassifier struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicClassifier creates a classifier with the given
// configuration.
func NewAnthropicClassifier(apiKey string, cfg model.AIConfig) *AnthropicClassifier {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicClassifier{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

// Classify assigns a classification to an email, weighing the sender's
// history and any user corrections that apply to similar mail.
func (c *AnthropicClassifier) Classify(
	ctx context.Context,
	req Request,
) (*Result, error) {
	prompt := buildClassifyPrompt(req)

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classifying %s: %w", req.Email.ID, err)
	}

	var parsed struct {
		Classification  string   `json:"classification"`
		Confidence      float64  `json:"confidence"`
		Reasoning       string   `json:"reasoning"`
		ContentSummary  string   `json:"content_summary"`
		SuggestedLabels []string `json:"suggested_labels"`
		MarkImportant   bool     `json:"mark_important"`
		ContentFormat   string   `json:"content_format"`
	}
	if err := unmarshalResponse(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing classification for %s: %w", req.Email.ID, err)
	}

	classification, ok := model.ParseClassification(parsed.Classification)
	if !ok {
		return nil, fmt.Errorf(
			"classifier returned unknown classification %q for %s",
			parsed.Classification, req.Email.ID,
		)
	}

	return &Result{
		Classification:  classification,
		Confidence:      clamp01(parsed.Confidence),
		Reasoning:       parsed.Reasoning,
		ContentSummary:  parsed.ContentSummary,
		SuggestedLabels: parsed.SuggestedLabels,
		MarkImportant:   parsed.MarkImportant,
		ContentFormat:   model.ParseContentFormat(parsed.ContentFormat),
	}, nil
}

// ParseCorrection parses a free-text correction instruction. The local
// rule grammar is tried first; only instructions it cannot decompose
// are forwarded verbatim to the API.
func (c *AnthropicClassifier) ParseCorrection(
	ctx context.Context,
	text string,
) (*CorrectionResult, error) {
	rule := ParseRule(text)
	if rule.Classification != "" {
		return &CorrectionResult{
			Classification: rule.Classification,
			Reasoning:      rule.Describe(),
		}, nil
	}

	prompt := buildCorrectionPrompt(text)

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("parsing correction: %w", err)
	}

	var parsed struct {
		Classification string `json:"classification"`
		Reasoning      string `json:"reasoning"`
	}
	if err := unmarshalResponse(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding correction result: %w", err)
	}

	classification, ok := model.ParseClassification(parsed.Classification)
	if !ok {
		return nil, fmt.Errorf(
			"correction parser returned unknown classification %q",
			parsed.Classification,
		)
	}

	return &CorrectionResult{
		Classification: classification,
		Reasoning:      parsed.Reasoning,
	}, nil
}

// Summarize produces a 1-2 sentence summary of email body text.
func (c *AnthropicClassifier) Summarize(
	ctx context.Context,
	text string,
) (string, error) {
	prompt := "Summarize this email in 1-2 sentences. " +
		"Return only the summary, no preamble.\n\n" + truncate(text, maxBodyChars)

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarizing: %w", err)
	}

	return strings.TrimSpace(raw), nil
}

// buildClassifyPrompt constructs the classification prompt.
func buildClassifyPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You triage a personal mailbox. Classify this email into ")
	sb.WriteString("exactly one of: important, needs_reply, fyi, low_priority.\n\n")

	sb.WriteString("Email:\n")
	sb.WriteString(fmt.Sprintf("From: %s", req.Email.From))
	if req.Email.FromName != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", req.Email.FromName))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Subject: %s\n", req.Email.Subject))
	body := req.Email.TextBody
	if body == "" {
		body = req.Email.Preview
	}
	sb.WriteString("Body:\n")
	sb.WriteString(truncate(body, maxBodyChars))
	sb.WriteString("\n\n")

	if req.Sender != nil && req.Sender.MessageCount > 0 {
		sb.WriteString(fmt.Sprintf(
			"Sender history: %d prior messages, last classified %s.\n\n",
			req.Sender.MessageCount, req.Sender.LastClassification,
		))
	}

	if corrections := relevantCorrections(req); len(corrections) > 0 {
		sb.WriteString("The user has corrected past decisions. These rules ")
		sb.WriteString("override your own judgment when they apply:\n")
		for _, corr := range corrections {
			sb.WriteString(fmt.Sprintf(
				"- %s (was %s, corrected to %s)\n",
				corr.Reasoning,
				corr.OriginalClassification, corr.CorrectedClassification,
			))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{
  "classification": "important|needs_reply|fyi|low_priority",
  "confidence": 0.9,
  "reasoning": "one sentence",
  "content_summary": "1-2 sentence summary of the content",
  "suggested_labels": ["optional", "extra", "labels"],
  "mark_important": false,
  "content_format": "standard|link_collection|article|announcement|transactional"
}

Return ONLY the JSON, no other text.`)

	return sb.String()
}

// relevantCorrections orders the correction corpus so that rules whose
// parsed condition matches this email come first, then truncates.
func relevantCorrections(req Request) []model.Correction {
	const maxCorrections = 20

	var matching, rest []model.Correction
	for _, corr := range req.Corrections {
		rule := ParseRule(corr.Reasoning)
		if rule.Parsed() && rule.Condition.Matches(req.Email) {
			matching = append(matching, corr)
		} else {
			rest = append(rest, corr)
		}
	}

	ordered := append(matching, rest...)
	if len(ordered) > maxCorrections {
		ordered = ordered[:maxCorrections]
	}
	return ordered
}

// buildCorrectionPrompt constructs the correction-parsing prompt.
func buildCorrectionPrompt(text string) string {
	var sb strings.Builder

	sb.WriteString("A user moved an email into a correction folder whose name ")
	sb.WriteString("is a free-text instruction about how mail like it should ")
	sb.WriteString("be classified. Interpret the instruction.\n\n")
	sb.WriteString(fmt.Sprintf("Instruction: %q\n\n", text))
	sb.WriteString(`Return a JSON object with this structure:
{
  "classification": "important|needs_reply|fyi|low_priority",
  "reasoning": "the instruction restated as a normalized rule"
}

Return ONLY the JSON, no other text.`)

	return sb.String()
}

// --- Anthropic Messages API plumbing ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callAPI makes a single request to the Messages API and returns the
// text of the first content block.
func (c *AnthropicClassifier) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			return "", fmt.Errorf(
				"API error (%d): %s", resp.StatusCode, apiErr.Error.Message,
			)
		}
		return "", fmt.Errorf(
			"API error (%d): %s", resp.StatusCode, string(respBody),
		)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return result.Content[0].Text, nil
}

// unmarshalResponse decodes a JSON payload from the model output,
// stripping markdown code fences if present.
func unmarshalResponse(raw string, dest interface{}) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("parse json: %w (response: %s)", err, raw)
	}
	return nil
}

// truncate caps s at max runes without splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
