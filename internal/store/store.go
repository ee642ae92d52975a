package store

import (
	"context"

	"github.com/nhle/mail-triage/internal/model"
)

// Store defines the persistence interface for the processed-email
// ledger, digest records, the correction corpus, sender profiles, and
// key/value config.
type Store interface {
	// === Processed-email ledger ===

	IsProcessed(ctx context.Context, emailID string) (bool, error)
	SaveProcessedRecord(ctx context.Context, rec model.ProcessedEmailRecord) error
	GetRecord(ctx context.Context, emailID string) (*model.ProcessedEmailRecord, error)
	UpdateClassification(ctx context.Context, emailID string, c model.Classification) error
	GetRecordsByDigest(ctx context.Context, digestID string) ([]model.ProcessedEmailRecord, error)

	// === Digests ===

	// GetPendingDigest returns the single pending digest, creating one
	// with a fresh cleanup token if none exists.
	GetPendingDigest(ctx context.Context) (*model.Digest, error)

	// CreatePendingDigest ensures a pending digest exists: at most one
	// digest is ever pending, so an existing one is returned instead of
	// a duplicate.
	CreatePendingDigest(ctx context.Context) (*model.Digest, error)
	GetDigestByToken(ctx context.Context, token string) (*model.Digest, error)
	MarkDigestSent(ctx context.Context, id string, emailCount int, summary string) error
	MarkDigestCleaned(ctx context.Context, id string) error

	// === Corrections ===

	SaveCorrection(ctx context.Context, c model.Correction) error
	GetRecentCorrections(ctx context.Context, limit int) ([]model.Correction, error)

	// === Sender profiles ===

	GetSenderProfile(ctx context.Context, address string) (*model.SenderProfile, error)
	SaveSenderProfile(ctx context.Context, p model.SenderProfile) error

	// === Key/value config ===

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}
