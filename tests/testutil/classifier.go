package testutil

import (
	"context"
	"fmt"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/model"
)

// FakeClassifier is a scripted Classifier for tests. Results are keyed
// by message id; unscripted messages fall back to Default or fail.
type FakeClassifier struct {
	// Results maps message id to a scripted classification result.
	Results map[string]classify.Result

	// Default is used when a message id has no scripted result. Nil
	// Default makes unscripted calls return an error.
	Default *classify.Result

	// Corrections maps instruction text to a scripted parse result.
	Corrections map[string]classify.CorrectionResult

	// Summaries maps body text to a scripted summary.
	Summaries map[string]string

	// ClassifyCalls counts Classify invocations.
	ClassifyCalls int
}

// NewFakeClassifier creates an empty scripted classifier.
func NewFakeClassifier() *FakeClassifier {
	return &FakeClassifier{
		Results:     make(map[string]classify.Result),
		Corrections: make(map[string]classify.CorrectionResult),
		Summaries:   make(map[string]string),
	}
}

// Script sets the result for one message id.
func (f *FakeClassifier) Script(emailID string, result classify.Result) {
	f.Results[emailID] = result
}

func (f *FakeClassifier) Classify(_ context.Context, req classify.Request) (*classify.Result, error) {
	f.ClassifyCalls++

	if result, ok := f.Results[req.Email.ID]; ok {
		return &result, nil
	}
	if f.Default != nil {
		result := *f.Default
		return &result, nil
	}
	return nil, fmt.Errorf("no scripted result for %s", req.Email.ID)
}

func (f *FakeClassifier) ParseCorrection(_ context.Context, text string) (*classify.CorrectionResult, error) {
	if result, ok := f.Corrections[text]; ok {
		return &result, nil
	}

	// Fall back to the local rule grammar, like the real classifier.
	rule := classify.ParseRule(text)
	if rule.Classification != "" {
		return &classify.CorrectionResult{
			Classification: rule.Classification,
			Reasoning:      rule.Describe(),
		}, nil
	}
	return nil, fmt.Errorf("no scripted correction for %q", text)
}

func (f *FakeClassifier) Summarize(_ context.Context, text string) (string, error) {
	if summary, ok := f.Summaries[text]; ok {
		return summary, nil
	}
	return "", fmt.Errorf("no scripted summary")
}

// LowPriorityResult is a convenience scripted result for digest tests.
func LowPriorityResult(format model.ContentFormat, summary string) classify.Result {
	return classify.Result{
		Classification: model.ClassificationLowPriority,
		Confidence:     0.9,
		Reasoning:      "bulk mail",
		ContentSummary: summary,
		ContentFormat:  format,
	}
}
