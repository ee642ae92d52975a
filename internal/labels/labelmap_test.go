package labels_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/tests/testutil"
)

var foldersCfg = model.FoldersConfig{Parent: "Triage", Correction: "Corrections"}

func newLabelMap(t *testing.T, ms mailstore.Mailstore) *labels.LabelMap {
	t.Helper()

	lm := labels.NewLabelMap(ms, zap.NewNop())
	require.NoError(t, lm.Initialize(context.Background(), foldersCfg))
	return lm
}

func TestInitializeCreatesTopology(t *testing.T) {
	ms := testutil.NewFakeMailstore()
	lm := newLabelMap(t, ms)

	for _, class := range model.AllClassifications() {
		id, ok := lm.FolderIDFor(class)
		assert.True(t, ok, "missing folder for %s", class)

		folder, found := ms.FolderByID(id)
		require.True(t, found)
		assert.Equal(t, class.DisplayName(), folder.Name)
	}

	assert.NotEmpty(t, lm.CorrectionFolderID())
	assert.Len(t, lm.ClassificationFolderIDs(), 4)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ms := testutil.NewFakeMailstore()
	first := newLabelMap(t, ms)
	second := newLabelMap(t, ms)

	for _, class := range model.AllClassifications() {
		a, _ := first.FolderIDFor(class)
		b, _ := second.FolderIDFor(class)
		assert.Equal(t, a, b, "second init must reuse folders for %s", class)
	}
}

func TestApplyClassificationLabelIsExclusive(t *testing.T) {
	ms := testutil.NewFakeMailstore()
	lm := newLabelMap(t, ms)
	ctx := context.Background()

	ms.AddMessage(mailstore.Message{ID: "msg-1", FolderIDs: []string{"inbox"}})

	require.NoError(t, lm.ApplyClassificationLabel(ctx, "msg-1", model.ClassificationFYI))
	fyiID, _ := lm.FolderIDFor(model.ClassificationFYI)
	assert.True(t, ms.Message("msg-1").InFolder(fyiID))

	// Reclassifying swaps the folder; the message never holds two
	// classification folders at once.
	require.NoError(t, lm.ApplyClassificationLabel(ctx, "msg-1", model.ClassificationImportant))

	msg := ms.Message("msg-1")
	importantID, _ := lm.FolderIDFor(model.ClassificationImportant)
	assert.True(t, msg.InFolder(importantID))
	assert.False(t, msg.InFolder(fyiID))
	assert.True(t, msg.InFolder("inbox"), "non-classification membership is untouched")

	count := 0
	for _, id := range msg.FolderIDs {
		if _, ok := lm.ClassificationForFolder(id); ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRemoveAllClassificationLabels(t *testing.T) {
	ms := testutil.NewFakeMailstore()
	lm := newLabelMap(t, ms)
	ctx := context.Background()

	ms.AddMessage(mailstore.Message{ID: "msg-1", FolderIDs: []string{"inbox"}})
	require.NoError(t, lm.ApplyClassificationLabel(ctx, "msg-1", model.ClassificationLowPriority))

	lm.RemoveAllClassificationLabels(ctx, "msg-1")

	assert.False(t, lm.HasAnyClassificationFolder(ms.Message("msg-1").FolderIDs))
	assert.True(t, ms.Message("msg-1").InFolder("inbox"))
}

func TestHasAnyClassificationFolder(t *testing.T) {
	ms := testutil.NewFakeMailstore()
	lm := newLabelMap(t, ms)

	fyiID, _ := lm.FolderIDFor(model.ClassificationFYI)
	assert.True(t, lm.HasAnyClassificationFolder([]string{"inbox", fyiID}))
	assert.False(t, lm.HasAnyClassificationFolder([]string{"inbox", "archive"}))
	assert.False(t, lm.HasAnyClassificationFolder(nil))
}
