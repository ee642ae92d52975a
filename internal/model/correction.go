package model

import "time"

// Correction is one append-only learning record, written when the user
// reclassifies an email through the correction folder. The corpus is
// never mutated or deleted; the classifier consults it on future calls.
type Correction struct {
	ID                      string
	EmailID                 string
	OriginalClassification  Classification
	CorrectedClassification Classification
	Reasoning               string
	Subject                 string
	From                    string
	Preview                 string
	CreatedAt               time.Time
}
