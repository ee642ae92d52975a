package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/cleanup"
	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/tests/testutil"
)

type fixture struct {
	store      *store.SQLiteStore
	mailstore  *testutil.FakeMailstore
	labels     *labels.LabelMap
	reconciler *cleanup.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := testutil.NewTestStore(t)
	ms := testutil.NewFakeMailstore()
	logger := zap.NewNop()

	lm := labels.NewLabelMap(ms, logger)
	require.NoError(t, lm.Initialize(context.Background(), model.FoldersConfig{
		Parent:     "Triage",
		Correction: "Corrections",
	}))

	return &fixture{
		store:      st,
		mailstore:  ms,
		labels:     lm,
		reconciler: cleanup.NewReconciler(st, ms, lm, logger),
	}
}

// seedDigestEmail attaches one low-priority email to the digest, with
// the classification folder applied and the given extra memberships.
func (f *fixture) seedDigestEmail(t *testing.T, digestID, msgID string, extraFolders ...string) {
	t.Helper()
	ctx := context.Background()

	lowID, _ := f.labels.FolderIDFor(model.ClassificationLowPriority)
	f.mailstore.AddMessage(mailstore.Message{
		ID:        msgID,
		From:      "bulk@example.com",
		Subject:   "bulk " + msgID,
		FolderIDs: append([]string{lowID}, extraFolders...),
	})

	require.NoError(t, f.store.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        msgID,
		From:           "bulk@example.com",
		Subject:        "bulk " + msgID,
		ReceivedAt:     time.Now().Add(-time.Hour),
		ProcessedAt:    time.Now(),
		Classification: model.ClassificationLowPriority,
		ActionTaken:    model.ActionArchived,
		ContentFormat:  model.FormatStandard,
		DigestID:       digestID,
	}))
}

// sentDigest creates a digest in sent state and returns it.
func (f *fixture) sentDigest(t *testing.T) *model.Digest {
	t.Helper()
	ctx := context.Background()

	pending, err := f.store.GetPendingDigest(ctx)
	require.NoError(t, err)
	return pending
}

func (f *fixture) markSent(t *testing.T, d *model.Digest, count int) {
	t.Helper()
	require.NoError(t, f.store.MarkDigestSent(context.Background(), d.ID, count, "test"))
}

func TestCleanupPartitionsOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.sentDigest(t)

	// Two archived, two moved back to the inbox by the user, one
	// deleted from the mailbox entirely.
	f.seedDigestEmail(t, d.ID, "msg-a1", "archive")
	f.seedDigestEmail(t, d.ID, "msg-a2", "archive")
	f.seedDigestEmail(t, d.ID, "msg-k1", "inbox")
	f.seedDigestEmail(t, d.ID, "msg-k2", "inbox")
	f.seedDigestEmail(t, d.ID, "msg-d1", "archive")
	f.mailstore.RemoveMessage("msg-d1")

	f.markSent(t, d, 5)

	result := f.reconciler.Cleanup(ctx, d.CleanupToken)

	assert.True(t, result.Success)
	assert.False(t, result.AlreadyCleaned)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, 1, result.Deleted)

	// Classification folders are stripped from everything still there.
	lowID, _ := f.labels.FolderIDFor(model.ClassificationLowPriority)
	for _, id := range []string{"msg-a1", "msg-a2", "msg-k1", "msg-k2"} {
		assert.False(t, f.mailstore.Message(id).InFolder(lowID), "%s keeps its label", id)
	}

	// Kept mail stays in the inbox.
	assert.True(t, f.mailstore.Message("msg-k1").InFolder("inbox"))

	cleaned, err := f.store.GetDigestByToken(ctx, d.CleanupToken)
	require.NoError(t, err)
	assert.Equal(t, model.DigestCleaned, cleaned.Status)
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.sentDigest(t)
	f.seedDigestEmail(t, d.ID, "msg-1", "archive")
	f.markSent(t, d, 1)

	first := f.reconciler.Cleanup(ctx, d.CleanupToken)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.Archived)

	second := f.reconciler.Cleanup(ctx, d.CleanupToken)
	assert.True(t, second.Success)
	assert.True(t, second.AlreadyCleaned)
	assert.Zero(t, second.Archived)
	assert.Zero(t, second.Kept)
	assert.Zero(t, second.Deleted)
}

func TestCleanupInvalidToken(t *testing.T) {
	f := newFixture(t)

	result := f.reconciler.Cleanup(context.Background(), "bogus-token")
	assert.False(t, result.Success)
	assert.Equal(t, "invalid cleanup token", result.Error)
}

func TestCleanupProtectsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.sentDigest(t)
	// The classification folder is this message's only membership;
	// stripping it blind would make the message unreachable.
	f.seedDigestEmail(t, d.ID, "msg-orphan")
	f.markSent(t, d, 1)

	result := f.reconciler.Cleanup(ctx, d.CleanupToken)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Archived)

	msg := f.mailstore.Message("msg-orphan")
	require.NotNil(t, msg)
	assert.True(t, msg.InFolder("archive"), "orphan candidate is parked in the archive")
	assert.False(t, f.labels.HasAnyClassificationFolder(msg.FolderIDs))
}

func TestCleanupKeepsLabelsWhenParkingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.sentDigest(t)
	f.seedDigestEmail(t, d.ID, "msg-orphan")
	f.markSent(t, d, 1)

	// Archive add fails; the strip must not proceed.
	f.mailstore.FailAddTo = "archive"

	result := f.reconciler.Cleanup(ctx, d.CleanupToken)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Kept)

	msg := f.mailstore.Message("msg-orphan")
	assert.True(t, f.labels.HasAnyClassificationFolder(msg.FolderIDs),
		"labels survive when the message cannot be parked")
}
