package correction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// Sweeper drains the correction folder tree. Each subfolder's name is a
// free-text instruction; messages the user dropped into it are
// reclassified accordingly and the instruction is recorded so future
// classifications learn from it.
type Sweeper struct {
	store     store.Store
	mailstore mailstore.Mailstore
	labels    *labels.LabelMap
	classify  classify.Classifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSweeper wires a sweeper from its dependencies.
func NewSweeper(
	st store.Store,
	ms mailstore.Mailstore,
	lm *labels.LabelMap,
	cl classify.Classifier,
	mt *metrics.Metrics,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		store:     st,
		mailstore: ms,
		labels:    lm,
		classify:  cl,
		metrics:   mt,
		logger:    logger,
	}
}

// Run performs one sweep. Per-message failures are logged and skipped;
// a message that fails stays in its subfolder and is retried on the
// next sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	root := s.labels.CorrectionFolderID()

	children, err := s.mailstore.ListChildFolders(ctx, root)
	if err != nil {
		return err
	}

	for _, child := range children {
		s.sweepFolder(ctx, child)
	}

	return nil
}

// sweepFolder processes every message in one instruction subfolder.
func (s *Sweeper) sweepFolder(ctx context.Context, folder mailstore.Folder) {
	ids, err := s.mailstore.QueryMessages(ctx, mailstore.QueryFilter{
		InFolderID: folder.ID,
	})
	if err != nil {
		s.logger.Warn("listing correction folder",
			zap.String("folder", folder.Name),
			zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	parsed, err := s.classify.ParseCorrection(ctx, folder.Name)
	if err != nil {
		s.logger.Warn("parsing correction instruction",
			zap.String("instruction", folder.Name),
			zap.Error(err))
		return
	}

	msgs, err := s.mailstore.FetchMessages(ctx, ids, mailstore.FetchProps{})
	if err != nil {
		s.logger.Warn("fetching corrected messages",
			zap.String("folder", folder.Name),
			zap.Error(err))
		return
	}

	handled := 0
	for _, msg := range msgs {
		if err := s.applyCorrection(ctx, msg, folder, parsed); err != nil {
			s.logger.Warn("applying correction",
				zap.String("message", msg.ID),
				zap.String("instruction", folder.Name),
				zap.Error(err))
			continue
		}
		handled++
		s.metrics.CorrectionsTotal.Inc()
	}

	s.logger.Info("swept correction folder",
		zap.String("instruction", folder.Name),
		zap.String("classification", string(parsed.Classification)),
		zap.Int("messages", handled))

	// An emptied instruction folder is deleted so the tree does not
	// accumulate stale instructions. Deletion failures are harmless:
	// the folder is simply re-swept (empty) next time.
	if handled == len(msgs) {
		if err := s.mailstore.DeleteFolder(ctx, folder.ID); err != nil {
			s.logger.Debug("deleting emptied correction folder",
				zap.String("folder", folder.Name),
				zap.Error(err))
		}
	}
}

// applyCorrection records one correction and re-files the message.
func (s *Sweeper) applyCorrection(
	ctx context.Context,
	msg mailstore.Message,
	folder mailstore.Folder,
	parsed *classify.CorrectionResult,
) error {
	original := model.Classification("unknown")
	if rec, err := s.store.GetRecord(ctx, msg.ID); err == nil {
		original = rec.Classification
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	corr := model.Correction{
		ID:                      uuid.New().String(),
		EmailID:                 msg.ID,
		OriginalClassification:  original,
		CorrectedClassification: parsed.Classification,
		Reasoning:               parsed.Reasoning,
		Subject:                 msg.Subject,
		From:                    msg.From,
		Preview:                 msg.Preview,
		CreatedAt:               time.Now(),
	}
	if err := s.store.SaveCorrection(ctx, corr); err != nil {
		return err
	}

	if original != "unknown" {
		if err := s.store.UpdateClassification(ctx, msg.ID, parsed.Classification); err != nil {
			return err
		}
	}

	if err := s.labels.ApplyClassificationLabel(ctx, msg.ID, parsed.Classification); err != nil {
		return err
	}

	// Pull the message back out of the correction tree.
	if err := s.mailstore.RemoveFromFolder(ctx, msg.ID, folder.ID); err != nil {
		return err
	}
	if err := s.mailstore.RemoveFromFolder(ctx, msg.ID, s.labels.CorrectionFolderID()); err != nil {
		return err
	}

	return nil
}
