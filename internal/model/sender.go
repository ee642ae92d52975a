package model

import "time"

// SenderProfile accumulates per-sender history that the classifier can
// weigh. Profiles are created lazily the first time a sender shows up
// in a triage cycle.
type SenderProfile struct {
	Address            string
	Name               string
	MessageCount       int
	LastClassification Classification
	FirstSeen          time.Time
	LastSeen           time.Time
}
