package classify

import (
	"context"

	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
)

// Request carries one email (and optional sender history) into a
// classification call.
type Request struct {
	Email  mailstore.Message
	Sender *model.SenderProfile

	// Corrections is the recent correction corpus; the classifier
	// weighs user corrections above its own priors.
	Corrections []model.Correction
}

// Result is the outcome of classifying one email.
type Result struct {
	Classification  model.Classification
	Confidence      float64
	Reasoning       string
	ContentSummary  string
	SuggestedLabels []string
	MarkImportant   bool
	ContentFormat   model.ContentFormat
}

// CorrectionResult is the outcome of parsing a free-text correction
// instruction.
type CorrectionResult struct {
	Classification model.Classification
	Reasoning      string
}

// Classifier is the text-classification capability consumed by the
// triage engine.
type Classifier interface {
	// Classify assigns a classification to an email.
	Classify(ctx context.Context, req Request) (*Result, error)

	// ParseCorrection turns a free-text correction instruction into a
	// classification and a normalized reasoning string.
	ParseCorrection(ctx context.Context, text string) (*CorrectionResult, error)

	// Summarize produces a 1-2 sentence summary of email body text,
	// used by the article digest strategy when no stored summary exists.
	Summarize(ctx context.Context, text string) (string, error)
}
