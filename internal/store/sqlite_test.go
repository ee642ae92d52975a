package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/tests/testutil"
)

func testRecord(id string) model.ProcessedEmailRecord {
	return model.ProcessedEmailRecord{
		EmailID:        id,
		ThreadID:       "thread-" + id,
		From:           "sender@example.com",
		Subject:        "subject " + id,
		ReceivedAt:     time.Now().Add(-time.Hour).Truncate(time.Second),
		ProcessedAt:    time.Now().Truncate(time.Second),
		Classification: model.ClassificationFYI,
		Confidence:     0.8,
		Reasoning:      "newsletter-ish",
		ContentSummary: "a summary",
		LabelsApplied:  []string{"FYI"},
		ActionTaken:    model.ActionLabeled,
		ContentFormat:  model.FormatStandard,
	}
}

func TestProcessedRecordRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	done, err := s.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, done)

	rec := testRecord("msg-1")
	require.NoError(t, s.SaveProcessedRecord(ctx, rec))

	done, err = s.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, done)

	got, err := s.GetRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Classification, got.Classification)
	assert.Equal(t, rec.Subject, got.Subject)
	assert.Equal(t, rec.LabelsApplied, got.LabelsApplied)
}

func TestGetRecordNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateClassification(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProcessedRecord(ctx, testRecord("msg-1")))
	require.NoError(t, s.UpdateClassification(ctx, "msg-1", model.ClassificationImportant))

	got, err := s.GetRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationImportant, got.Classification)
}

func TestPendingDigestLazyCreation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DigestPending, first.Status)
	assert.NotEmpty(t, first.CleanupToken)

	// A second call returns the same digest, not a new one.
	second, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CleanupToken, second.CleanupToken)
}

func TestDigestLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	pending, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)

	rec := testRecord("msg-1")
	rec.Classification = model.ClassificationLowPriority
	rec.DigestID = pending.ID
	require.NoError(t, s.SaveProcessedRecord(ctx, rec))

	records, err := s.GetRecordsByDigest(ctx, pending.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, s.MarkDigestSent(ctx, pending.ID, 1, "1 other"))

	sent, err := s.GetDigestByToken(ctx, pending.CleanupToken)
	require.NoError(t, err)
	assert.Equal(t, model.DigestSent, sent.Status)
	assert.Equal(t, 1, sent.EmailCount)
	require.NotNil(t, sent.SentAt)

	// Sending twice must not succeed; the digest already left pending.
	err = s.MarkDigestSent(ctx, pending.ID, 1, "1 other")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.MarkDigestCleaned(ctx, pending.ID))
	cleaned, err := s.GetDigestByToken(ctx, pending.CleanupToken)
	require.NoError(t, err)
	assert.Equal(t, model.DigestCleaned, cleaned.Status)
	require.NotNil(t, cleaned.CleanedAt)
}

func TestDigestRotation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkDigestSent(ctx, first.ID, 0, ""))

	rotated, err := s.CreatePendingDigest(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, rotated.ID)
	assert.NotEqual(t, first.CleanupToken, rotated.CleanupToken)

	current, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated.ID, current.ID)
}

func TestPendingDigestStaysSingleAcrossInterleavedRotation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkDigestSent(ctx, first.ID, 1, "1 other"))

	// A triage tick lazily recreates the sink before the digest job
	// finishes its rotation.
	interleaved, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, interleaved.ID)

	rotated, err := s.CreatePendingDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, interleaved.ID, rotated.ID,
		"rotation adopts the existing pending digest instead of minting a second one")

	current, err := s.GetPendingDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, interleaved.ID, current.ID)
}

func TestGetDigestByTokenNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetDigestByToken(context.Background(), "bogus")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCorrections(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"c1", "c2", "c3"} {
		corr := model.Correction{
			ID:                      id,
			EmailID:                 "msg-" + id,
			OriginalClassification:  model.ClassificationFYI,
			CorrectedClassification: model.ClassificationImportant,
			Reasoning:               "sender is boss@example.com, classify as Important",
			Subject:                 "re: budget",
			From:                    "boss@example.com",
			CreatedAt:               time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.SaveCorrection(ctx, corr))
	}

	recent, err := s.GetRecentCorrections(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, "c3", recent[0].ID)
	assert.Equal(t, "c2", recent[1].ID)
}

func TestSenderProfiles(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetSenderProfile(ctx, "new@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	profile := model.SenderProfile{
		Address:            "new@example.com",
		Name:               "Newcomer",
		MessageCount:       3,
		LastClassification: model.ClassificationNeedsReply,
		FirstSeen:          time.Now().Add(-24 * time.Hour).Truncate(time.Second),
		LastSeen:           time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveSenderProfile(ctx, profile))

	got, err := s.GetSenderProfile(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
	assert.Equal(t, model.ClassificationNeedsReply, got.LastClassification)
}

func TestConfigKV(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	val, err := s.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetConfig(ctx, "k", "v1"))
	require.NoError(t, s.SetConfig(ctx, "k", "v2"))

	val, err = s.GetConfig(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}
