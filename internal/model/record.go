package model

import "time"

// ProcessedEmailRecord is one row of the triage ledger, keyed by the
// message id. A message has at most one record; re-processing overwrites
// in place (last write wins on ProcessedAt). Records are created by the
// triage cycle, reclassified by the correction sweep, and never deleted.
type ProcessedEmailRecord struct {
	EmailID        string
	ThreadID       string
	From           string
	Subject        string
	ReceivedAt     time.Time
	ProcessedAt    time.Time
	Classification Classification
	Confidence     float64
	Reasoning      string
	ContentSummary string
	LabelsApplied  []string
	ActionTaken    ActionTaken
	ContentFormat  ContentFormat
	DigestID       string
}
