package triage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/correction"
	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

const (
	// inboxQueryLimit caps how many inbox ids one cycle looks at.
	inboxQueryLimit = 500

	// cycleCap caps how many unprocessed emails one cycle classifies;
	// the rest wait for the next cycle.
	cycleCap = 50

	// maxSecondaryLabels caps the extra labels applied beyond the
	// classification folder.
	maxSecondaryLabels = 3

	// correctionCorpusSize is how many recent corrections are fed to
	// the classifier.
	correctionCorpusSize = 50
)

// Engine runs the triage cycle: sweep corrections, pull new inbox mail,
// classify it, file it, and record it in the ledger.
type Engine struct {
	store     store.Store
	mailstore mailstore.Mailstore
	labels    *labels.LabelMap
	classify  classify.Classifier
	sweeper   *correction.Sweeper
	metrics   *metrics.Metrics
	cfg       model.TriageConfig
	logger    *zap.Logger
}

// NewEngine wires an engine from its dependencies.
func NewEngine(
	st store.Store,
	ms mailstore.Mailstore,
	lm *labels.LabelMap,
	cl classify.Classifier,
	sw *correction.Sweeper,
	mt *metrics.Metrics,
	cfg model.TriageConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:     st,
		mailstore: ms,
		labels:    lm,
		classify:  cl,
		sweeper:   sw,
		metrics:   mt,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunCycle performs one full triage cycle. Corrections sweep first so
// this cycle's classifications already see them. Per-email failures are
// logged and skipped; an email left unrecorded is simply retried next
// cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	if err := e.sweeper.Run(ctx); err != nil {
		e.logger.Warn("correction sweep", zap.Error(err))
	}

	batch, err := e.collectBatch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		e.metrics.CyclesTotal.Inc()
		return nil
	}

	inbox, err := e.mailstore.FindFolderByRole(ctx, mailstore.RoleInbox)
	if err != nil {
		return err
	}

	corrections, err := e.store.GetRecentCorrections(ctx, correctionCorpusSize)
	if err != nil {
		e.logger.Warn("loading correction corpus", zap.Error(err))
	}

	pending, err := e.store.GetPendingDigest(ctx)
	if err != nil {
		return err
	}

	processed := 0
	for _, msg := range batch {
		if err := e.processOne(ctx, msg, inbox, corrections, pending.ID); err != nil {
			e.metrics.EmailsFailed.Inc()
			e.logger.Warn("processing email",
				zap.String("message", msg.ID),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			continue
		}
		processed++
	}

	e.metrics.CyclesTotal.Inc()
	e.logger.Info("triage cycle complete",
		zap.Int("batch", len(batch)),
		zap.Int("processed", processed))

	return nil
}

// collectBatch queries the newest inbox mail, filters out everything the
// ledger has seen, caps the remainder, and fetches full messages.
func (e *Engine) collectBatch(ctx context.Context) ([]mailstore.Message, error) {
	inbox, err := e.mailstore.FindFolderByRole(ctx, mailstore.RoleInbox)
	if err != nil {
		return nil, err
	}

	ids, err := e.mailstore.QueryMessages(ctx, mailstore.QueryFilter{
		InFolderID:  inbox.ID,
		Limit:       inboxQueryLimit,
		NewestFirst: true,
	})
	if err != nil {
		return nil, err
	}

	var fresh []string
	for _, id := range ids {
		done, err := e.store.IsProcessed(ctx, id)
		if err != nil {
			return nil, err
		}
		if !done {
			fresh = append(fresh, id)
		}
		if len(fresh) == cycleCap {
			break
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	return e.mailstore.FetchMessages(ctx, fresh, mailstore.FetchProps{
		Body:       true,
		Membership: true,
	})
}

// processOne classifies and files a single email.
func (e *Engine) processOne(
	ctx context.Context,
	msg mailstore.Message,
	inbox *mailstore.Folder,
	corrections []model.Correction,
	pendingDigestID string,
) error {
	// Mail this account authored (drafts-in-inbox, self-CCs) is never
	// classified, but it still gets a ledger record: unrecorded mail
	// re-enters the batch every cycle and squats on the cycle cap.
	if e.cfg.SelfAddress != "" && strings.EqualFold(msg.From, e.cfg.SelfAddress) {
		return e.recordPassthrough(ctx, msg, model.ClassificationFYI, "Self-authored")
	}

	// Mail the user already filed by hand keeps its folder; record it
	// as processed so we stop looking at it.
	if e.labels.HasAnyClassificationFolder(msg.FolderIDs) {
		class := model.ClassificationFYI
		for _, id := range msg.FolderIDs {
			if c, ok := e.labels.ClassificationForFolder(id); ok {
				class = c
				break
			}
		}
		return e.recordPassthrough(ctx, msg, class, "Already labeled")
	}

	sender := e.senderProfile(ctx, msg.From)

	result, err := e.classify.Classify(ctx, classify.Request{
		Email:       msg,
		Sender:      sender,
		Corrections: corrections,
	})
	if err != nil {
		return err
	}

	if err := e.labels.ApplyClassificationLabel(ctx, msg.ID, result.Classification); err != nil {
		return err
	}

	applied := []string{result.Classification.DisplayName()}
	applied = append(applied, e.applySecondaryLabels(ctx, msg.ID, result.SuggestedLabels)...)

	if result.MarkImportant {
		if err := e.mailstore.FlagImportant(ctx, msg.ID); err != nil {
			e.logger.Warn("flagging important", zap.String("message", msg.ID), zap.Error(err))
		}
	}

	rec := model.ProcessedEmailRecord{
		EmailID:        msg.ID,
		ThreadID:       msg.ThreadID,
		From:           msg.From,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		ProcessedAt:    time.Now(),
		Classification: result.Classification,
		Confidence:     result.Confidence,
		Reasoning:      result.Reasoning,
		ContentSummary: result.ContentSummary,
		LabelsApplied:  applied,
		ActionTaken:    model.ActionLabeled,
		ContentFormat:  result.ContentFormat,
		DigestID:       pendingDigestID,
	}

	switch {
	case result.Classification == model.ClassificationLowPriority && e.cfg.Mode == model.ModeTriage:
		// Low-priority mail leaves the inbox; everything else stays
		// visible. All of it attaches to the pending digest, which
		// filters for surfaceable entries at generation time.
		if err := e.mailstore.Archive(ctx, msg.ID); err != nil {
			return err
		}
		rec.ActionTaken = model.ActionArchived
	case e.cfg.StripInbox:
		if err := e.mailstore.RemoveFromFolder(ctx, msg.ID, inbox.ID); err != nil {
			e.logger.Warn("stripping inbox", zap.String("message", msg.ID), zap.Error(err))
		}
	}

	if err := e.store.SaveProcessedRecord(ctx, rec); err != nil {
		return err
	}

	e.updateSenderProfile(ctx, msg, sender, result.Classification)

	e.metrics.EmailsProcessed.Inc()
	e.metrics.ObserveClassification(result.Classification)

	e.logger.Info("classified",
		zap.String("message", msg.ID),
		zap.String("from", msg.From),
		zap.String("classification", string(result.Classification)),
		zap.Float64("confidence", result.Confidence))

	return nil
}

// recordPassthrough writes a ledger record for mail the engine will not
// classify, so the ledger check gates it out of future cycles.
func (e *Engine) recordPassthrough(
	ctx context.Context,
	msg mailstore.Message,
	class model.Classification,
	reasoning string,
) error {
	return e.store.SaveProcessedRecord(ctx, model.ProcessedEmailRecord{
		EmailID:        msg.ID,
		ThreadID:       msg.ThreadID,
		From:           msg.From,
		Subject:        msg.Subject,
		ReceivedAt:     msg.ReceivedAt,
		ProcessedAt:    time.Now(),
		Classification: class,
		Confidence:     1.0,
		Reasoning:      reasoning,
		ActionTaken:    model.ActionLabeled,
		ContentFormat:  model.FormatStandard,
	})
}

// senderProfile loads the sender's history; a sender we have never seen
// yields nil.
func (e *Engine) senderProfile(ctx context.Context, address string) *model.SenderProfile {
	profile, err := e.store.GetSenderProfile(ctx, address)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("loading sender profile", zap.String("address", address), zap.Error(err))
		}
		return nil
	}
	return profile
}

// updateSenderProfile records this classification into the sender's
// running history. Failures are logged; the profile is advisory.
func (e *Engine) updateSenderProfile(
	ctx context.Context,
	msg mailstore.Message,
	existing *model.SenderProfile,
	class model.Classification,
) {
	now := time.Now()
	profile := model.SenderProfile{
		Address:            msg.From,
		Name:               msg.FromName,
		MessageCount:       1,
		LastClassification: class,
		FirstSeen:          now,
		LastSeen:           now,
	}
	if existing != nil {
		profile.MessageCount = existing.MessageCount + 1
		profile.FirstSeen = existing.FirstSeen
		if profile.Name == "" {
			profile.Name = existing.Name
		}
	}

	if err := e.store.SaveSenderProfile(ctx, profile); err != nil {
		e.logger.Warn("saving sender profile", zap.String("address", msg.From), zap.Error(err))
	}
}

// applySecondaryLabels files the message into up to maxSecondaryLabels
// extra folders suggested by the classifier. Missing folders are
// created at the top level; failures are logged and skipped.
func (e *Engine) applySecondaryLabels(
	ctx context.Context,
	messageID string,
	suggested []string,
) []string {
	if len(suggested) > maxSecondaryLabels {
		suggested = suggested[:maxSecondaryLabels]
	}

	var applied []string
	for _, name := range suggested {
		folder, err := e.mailstore.FindFolderByName(ctx, name)
		if mailstore.IsNotFound(err) {
			folder, err = e.mailstore.CreateFolder(ctx, name, "")
		}
		if err != nil {
			e.logger.Warn("resolving secondary label",
				zap.String("label", name),
				zap.Error(err))
			continue
		}

		if err := e.mailstore.AddToFolder(ctx, messageID, folder.ID); err != nil {
			e.logger.Warn("applying secondary label",
				zap.String("label", name),
				zap.Error(err))
			continue
		}
		applied = append(applied, name)
	}
	return applied
}

