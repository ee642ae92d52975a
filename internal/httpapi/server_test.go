package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/cleanup"
	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/tests/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.FakeMailstore, string) {
	t.Helper()
	ctx := context.Background()

	st := testutil.NewTestStore(t)
	ms := testutil.NewFakeMailstore()
	logger := zap.NewNop()

	lm := labels.NewLabelMap(ms, logger)
	require.NoError(t, lm.Initialize(ctx, model.FoldersConfig{
		Parent:     "Triage",
		Correction: "Corrections",
	}))

	pending, err := st.GetPendingDigest(ctx)
	require.NoError(t, err)

	lowID, _ := lm.FolderIDFor(model.ClassificationLowPriority)
	ms.AddMessage(mailstore.Message{
		ID:        "msg-1",
		FolderIDs: []string{"archive", lowID},
	})
	require.NoError(t, st.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        "msg-1",
		From:           "bulk@example.com",
		Subject:        "bulk",
		ReceivedAt:     time.Now().Add(-time.Hour),
		ProcessedAt:    time.Now(),
		Classification: model.ClassificationLowPriority,
		ActionTaken:    model.ActionArchived,
		ContentFormat:  model.FormatStandard,
		DigestID:       pending.ID,
	}))
	require.NoError(t, st.MarkDigestSent(ctx, pending.ID, 1, "1 other"))

	registry := prometheus.NewRegistry()
	mt := metrics.New(registry)
	rc := cleanup.NewReconciler(st, ms, lm, logger)

	return New("127.0.0.1:0", rc, mt, registry, logger), ms, pending.CleanupToken
}

func TestCleanupEndpoint(t *testing.T) {
	server, ms, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cleanup/"+token, nil)
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cleanup complete")
	assert.Contains(t, rec.Body.String(), "1 archived")

	msg := ms.Message("msg-1")
	require.NotNil(t, msg)
	assert.Equal(t, []string{"archive"}, msg.FolderIDs)
}

func TestCleanupEndpointJSON(t *testing.T) {
	server, _, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cleanup/"+token, nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Archived":1`)
}

func TestCleanupEndpointUnknownToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cleanup/nope", nil)
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid cleanup token")
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailtriage_cycles_total")
}
