package model

import "time"

// DigestStatus is the lifecycle state of a digest batch.
type DigestStatus string

const (
	DigestPending DigestStatus = "pending"
	DigestSent    DigestStatus = "sent"
	DigestCleaned DigestStatus = "cleaned"
)

// Digest is a batch of low-value processed emails. At any time exactly
// one digest is pending; it is the sink new ledger records attach to.
// The cleanup token is minted at creation, immutable afterwards, and is
// the only external handle for triggering cleanup.
type Digest struct {
	ID           string
	CleanupToken string
	Status       DigestStatus
	GeneratedAt  time.Time
	SentAt       *time.Time
	CleanedAt    *time.Time
	EmailCount   int
	Summary      string
}
