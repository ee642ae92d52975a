package digest_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/digest"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/tests/testutil"
)

var digestCfg = model.DigestConfig{
	Recipient:           "me@example.com",
	CleanupBaseURL:      "http://127.0.0.1:8321",
	MessageLinkTemplate: "https://mail.example.com/msg/%s",
}

func newLifecycle(t *testing.T) (*digest.Lifecycle, *store.SQLiteStore, *testutil.FakeMailstore) {
	t.Helper()

	st := testutil.NewTestStore(t)
	ms := testutil.NewFakeMailstore()
	cl := testutil.NewFakeClassifier()
	return digest.NewLifecycle(st, ms, cl, digestCfg, "me@example.com", zap.NewNop()), st, ms
}

// attachRecord files one low-priority record onto the pending digest.
func attachRecord(t *testing.T, st *store.SQLiteStore, id, from, subject, summary string, format model.ContentFormat) {
	t.Helper()
	ctx := context.Background()

	pending, err := st.GetPendingDigest(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        id,
		From:           from,
		Subject:        subject,
		ReceivedAt:     time.Now().Add(-time.Hour),
		ProcessedAt:    time.Now(),
		Classification: model.ClassificationLowPriority,
		ContentSummary: summary,
		ActionTaken:    model.ActionArchived,
		ContentFormat:  format,
		DigestID:       pending.ID,
	}))
}

func TestGenerateNothingToSend(t *testing.T) {
	l, _, _ := newLifecycle(t)

	_, err := l.Generate(context.Background())
	assert.ErrorIs(t, err, digest.ErrNothingToSend)
}

func TestGenerateFiltersIneligibleRecords(t *testing.T) {
	l, st, _ := newLifecycle(t)
	ctx := context.Background()

	pending, err := st.GetPendingDigest(ctx)
	require.NoError(t, err)

	// Important mail and self-authored mail share the digest id but must
	// never surface in the digest body.
	require.NoError(t, st.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        "msg-important",
		From:           "boss@example.com",
		Subject:        "urgent",
		ReceivedAt:     time.Now(),
		ProcessedAt:    time.Now(),
		Classification: model.ClassificationImportant,
		ActionTaken:    model.ActionLabeled,
		ContentFormat:  model.FormatStandard,
		DigestID:       pending.ID,
	}))
	require.NoError(t, st.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        "msg-self",
		From:           "Me@Example.com",
		Subject:        "note to self",
		ReceivedAt:     time.Now(),
		ProcessedAt:    time.Now(),
		Classification: model.ClassificationFYI,
		ActionTaken:    model.ActionLabeled,
		ContentFormat:  model.FormatStandard,
		DigestID:       pending.ID,
	}))

	_, err = l.Generate(ctx)
	assert.ErrorIs(t, err, digest.ErrNothingToSend)

	attachRecord(t, st, "msg-1", "deals@shop.example", "Sale", "a sale", model.FormatStandard)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)
	assert.Contains(t, rendered.Subject, "1 low-priority")
	assert.NotContains(t, rendered.TextBody, "urgent")
}

func TestGenerateRendersGroupsAndLinks(t *testing.T) {
	l, st, _ := newLifecycle(t)
	ctx := context.Background()

	attachRecord(t, st, "msg-1", "deals@shop.example", "Big sale", "50% off everything", model.FormatStandard)
	attachRecord(t, st, "msg-2", "noreply@service.example", "Login alert", "new login detected", model.FormatStandard)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)

	assert.Contains(t, rendered.Subject, "2 low-priority")
	assert.Contains(t, rendered.TextBody, "Big sale")
	assert.Contains(t, rendered.TextBody, "50% off everything")
	assert.Contains(t, rendered.TextBody, "https://mail.example.com/msg/msg-1")
	assert.Contains(t, rendered.TextBody,
		"http://127.0.0.1:8321/cleanup/"+rendered.Digest.CleanupToken)
	assert.Contains(t, rendered.HTMLBody, "Clean up these emails")

	// noreply sender lands in the notifications section.
	assert.Contains(t, rendered.TextBody, "Notifications (1)")
}

func TestGenerateAndSendRotatesPending(t *testing.T) {
	l, st, ms := newLifecycle(t)
	ctx := context.Background()

	attachRecord(t, st, "msg-1", "deals@shop.example", "Sale", "a sale", model.FormatStandard)

	first, err := st.GetPendingDigest(ctx)
	require.NoError(t, err)

	rendered, err := l.GenerateAndSend(ctx)
	require.NoError(t, err)

	require.Len(t, ms.Sent, 1)
	assert.Equal(t, []string{"me@example.com"}, ms.Sent[0].To)
	assert.Equal(t, rendered.Subject, ms.Sent[0].Subject)

	sent, err := st.GetDigestByToken(ctx, first.CleanupToken)
	require.NoError(t, err)
	assert.Equal(t, model.DigestSent, sent.Status)
	assert.Equal(t, 1, sent.EmailCount)

	// A fresh pending digest replaces the sent one.
	next, err := st.GetPendingDigest(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.NotEqual(t, first.CleanupToken, next.CleanupToken)
}

func TestLinkCollectionStrategy(t *testing.T) {
	l, st, ms := newLifecycle(t)
	ctx := context.Background()

	html := `<html><body>
		<a href="https://example.com/a">First article worth reading</a>
		<a href="https://example.com/b">Second article</a>
		<a href="https://example.com/unsub">Unsubscribe</a>
	</body></html>`
	ms.AddMessage(mailstore.Message{ID: "msg-1", HTMLBody: html})

	attachRecord(t, st, "msg-1", "weekly@news.example", "Weekly roundup", "fallback", model.FormatLinkCollection)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)

	require.Len(t, rendered.Groups, 1)
	summary := rendered.Groups[0].Items[0].Summary
	assert.True(t, strings.HasPrefix(summary, "Links: "), "got %q", summary)
	assert.Contains(t, summary, "First article worth reading")
	assert.Contains(t, summary, "Second article")
	assert.NotContains(t, summary, "Unsubscribe")
}

func TestStrategyFallsBackWhenBodyMissing(t *testing.T) {
	l, st, _ := newLifecycle(t)
	ctx := context.Background()

	// The message no longer exists in the mailbox; the stored summary
	// carries the entry.
	attachRecord(t, st, "msg-gone", "weekly@news.example", "Roundup", "stored summary", model.FormatLinkCollection)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored summary", rendered.Groups[0].Items[0].Summary)
}

func TestAnnouncementStrategyTruncatesOnRuneBoundary(t *testing.T) {
	l, st, _ := newLifecycle(t)
	ctx := context.Background()

	attachRecord(t, st, "msg-1", "team@example.com", "All hands update",
		strings.Repeat("ü", 200), model.FormatAnnouncement)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)

	summary := rendered.Groups[0].Items[0].Summary
	assert.True(t, utf8.ValidString(summary))
	assert.True(t, strings.HasSuffix(summary, "..."))
	assert.Equal(t, 143, utf8.RuneCountInString(summary))
}

func TestTransactionalStrategy(t *testing.T) {
	l, st, ms := newLifecycle(t)
	ctx := context.Background()

	ms.AddMessage(mailstore.Message{
		ID:       "msg-1",
		TextBody: "Thanks for your purchase. Order #: AB-12345. Total charged: $49.99.",
	})
	attachRecord(t, st, "msg-1", "shop@example.com", "Your receipt", "fallback", model.FormatTransactional)

	rendered, err := l.Generate(ctx)
	require.NoError(t, err)

	summary := rendered.Groups[0].Items[0].Summary
	assert.Contains(t, summary, "$49.99")
	assert.Contains(t, summary, "AB-12345")
}
