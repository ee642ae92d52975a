package cleanup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// Result reports the outcome of one cleanup request. The counts
// partition the digest's emails: archived left the inbox when their
// labels were stripped, kept remained in the inbox, deleted could no
// longer be found in the mailbox at all.
type Result struct {
	Success        bool
	AlreadyCleaned bool
	Archived       int
	Kept           int
	Deleted        int
	Error          string
}

// Reconciler resolves a cleanup token and reconciles the digest's
// emails against the live mailbox.
type Reconciler struct {
	store     store.Store
	mailstore mailstore.Mailstore
	labels    *labels.LabelMap
	logger    *zap.Logger
}

// NewReconciler wires a reconciler from its dependencies.
func NewReconciler(
	st store.Store,
	ms mailstore.Mailstore,
	lm *labels.LabelMap,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:     st,
		mailstore: ms,
		labels:    lm,
		logger:    logger,
	}
}

// Cleanup processes a one-click cleanup request. Replaying a token is
// safe: a digest already cleaned reports AlreadyCleaned with zero
// counts instead of touching the mailbox again.
func (r *Reconciler) Cleanup(ctx context.Context, token string) Result {
	digest, err := r.store.GetDigestByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Error: "invalid cleanup token"}
		}
		return Result{Error: fmt.Sprintf("looking up digest: %v", err)}
	}

	if digest.Status == model.DigestCleaned {
		return Result{Success: true, AlreadyCleaned: true}
	}

	records, err := r.store.GetRecordsByDigest(ctx, digest.ID)
	if err != nil {
		return Result{Error: fmt.Sprintf("loading digest records: %v", err)}
	}

	inbox, err := r.mailstore.FindFolderByRole(ctx, mailstore.RoleInbox)
	if err != nil {
		return Result{Error: "inbox not found"}
	}
	// Some providers have no archive mailbox; orphan protection is then
	// skipped and stripped mail simply stays where it is.
	archive, archiveErr := r.mailstore.FindFolderByRole(ctx, mailstore.RoleArchive)

	result := Result{Success: true}
	for _, rec := range records {
		switch r.reconcile(ctx, rec, inbox, archive, archiveErr == nil) {
		case outcomeArchived:
			result.Archived++
		case outcomeKept:
			result.Kept++
		case outcomeDeleted:
			result.Deleted++
		}
	}

	if err := r.store.MarkDigestCleaned(ctx, digest.ID); err != nil {
		r.logger.Error("marking digest cleaned",
			zap.String("digest", digest.ID),
			zap.Error(err))
	}

	r.logger.Info("digest cleaned",
		zap.String("digest", digest.ID),
		zap.Int("archived", result.Archived),
		zap.Int("kept", result.Kept),
		zap.Int("deleted", result.Deleted))

	return result
}

// outcome is where one email ended up after reconciliation.
type outcome int

const (
	outcomeArchived outcome = iota
	outcomeKept
	outcomeDeleted
)

// reconcile handles one email: strip its classification folders, then
// report where it ended up. A message whose only remaining membership
// is a classification folder would be orphaned by the strip, so it is
// parked in the archive first.
func (r *Reconciler) reconcile(
	ctx context.Context,
	rec model.ProcessedEmailRecord,
	inbox, archive *mailstore.Folder,
	haveArchive bool,
) outcome {
	msgs, err := r.mailstore.FetchMessages(
		ctx, []string{rec.EmailID}, mailstore.FetchProps{Membership: true},
	)
	if err != nil || len(msgs) == 0 {
		// Gone from the mailbox entirely; the user deleted it themselves.
		return outcomeDeleted
	}
	msg := msgs[0]

	if r.orphanedByStrip(msg) && haveArchive {
		if err := r.mailstore.AddToFolder(ctx, msg.ID, archive.ID); err != nil {
			r.logger.Warn("parking orphan candidate in archive",
				zap.String("message", msg.ID),
				zap.Error(err))
			// Leave the classification folders in place rather than
			// risk stripping the message's last membership.
			return outcomeKept
		}
	}

	r.labels.RemoveAllClassificationLabels(ctx, msg.ID)

	if msg.InFolder(inbox.ID) {
		return outcomeKept
	}
	return outcomeArchived
}

// orphanedByStrip reports whether removing every classification folder
// would leave the message with no folder membership at all.
func (r *Reconciler) orphanedByStrip(msg mailstore.Message) bool {
	for _, id := range msg.FolderIDs {
		if _, isClass := r.labels.ClassificationForFolder(id); !isClass {
			return false
		}
	}
	return len(msg.FolderIDs) > 0
}
