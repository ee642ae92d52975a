package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// ErrNothingToSend is returned by Generate when the pending digest has
// no accumulated low-priority mail.
var ErrNothingToSend = errors.New("digest: nothing to send")

// Item is one digest entry: the ledger record plus its strategy-built
// summary line.
type Item struct {
	Record  model.ProcessedEmailRecord
	Summary string
}

// Group is a set of digest items sharing a category.
type Group struct {
	Category string
	Items    []Item
}

// Rendered is a fully built digest ready for delivery.
type Rendered struct {
	Digest   *model.Digest
	Groups   []Group
	Subject  string
	TextBody string
	HTMLBody string
	// Summary is the one-line description stored on the digest record.
	Summary string
}

// Lifecycle drives a digest through pending, sent, and cleaned. Exactly
// one digest is pending at a time; sending it rotates in a fresh
// pending digest so triage never pauses.
type Lifecycle struct {
	store      store.Store
	mailstore  mailstore.Mailstore
	classifier classify.Classifier
	cfg        model.DigestConfig
	selfAddr   string
	logger     *zap.Logger
}

// NewLifecycle wires a digest lifecycle from its dependencies. selfAddr
// is the triage account's own address; mail it authored never surfaces
// in a digest.
func NewLifecycle(
	st store.Store,
	ms mailstore.Mailstore,
	cl classify.Classifier,
	cfg model.DigestConfig,
	selfAddr string,
	logger *zap.Logger,
) *Lifecycle {
	return &Lifecycle{
		store:      st,
		mailstore:  ms,
		classifier: cl,
		cfg:        cfg,
		selfAddr:   selfAddr,
		logger:     logger,
	}
}

// Pending returns the current pending digest, creating one lazily.
func (l *Lifecycle) Pending(ctx context.Context) (*model.Digest, error) {
	return l.store.GetPendingDigest(ctx)
}

// Generate builds the pending digest's content without sending it.
func (l *Lifecycle) Generate(ctx context.Context) (*Rendered, error) {
	pending, err := l.store.GetPendingDigest(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pending digest: %w", err)
	}

	records, err := l.store.GetRecordsByDigest(ctx, pending.ID)
	if err != nil {
		return nil, fmt.Errorf("loading digest records: %w", err)
	}
	records = l.surfaceable(records)
	if len(records) == 0 {
		return nil, ErrNothingToSend
	}

	bodies := l.fetchBodies(ctx, records)

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, Item{
			Record:  rec,
			Summary: l.summarize(ctx, rec, bodies[rec.EmailID]),
		})
	}

	groups := groupItems(items)

	rendered := &Rendered{
		Digest:  pending,
		Groups:  groups,
		Subject: fmt.Sprintf("Mail digest: %d low-priority messages", len(items)),
		Summary: summaryLine(groups),
	}
	rendered.TextBody = renderText(rendered, l.cfg)
	rendered.HTMLBody = renderHTML(rendered, l.cfg)

	return rendered, nil
}

// GenerateAndSend builds the pending digest, delivers it, marks it
// sent, and rotates in a fresh pending digest.
func (l *Lifecycle) GenerateAndSend(ctx context.Context) (*Rendered, error) {
	rendered, err := l.Generate(ctx)
	if err != nil {
		return nil, err
	}

	if l.cfg.Recipient == "" {
		return nil, errors.New("digest: no recipient configured")
	}

	err = l.mailstore.Send(ctx, mailstore.OutgoingMessage{
		To:       []string{l.cfg.Recipient},
		Subject:  rendered.Subject,
		TextBody: rendered.TextBody,
		HTMLBody: rendered.HTMLBody,
	})
	if err != nil {
		return nil, fmt.Errorf("sending digest: %w", err)
	}

	count := 0
	for _, g := range rendered.Groups {
		count += len(g.Items)
	}
	if err := l.store.MarkDigestSent(ctx, rendered.Digest.ID, count, rendered.Summary); err != nil {
		return nil, fmt.Errorf("marking digest sent: %w", err)
	}

	if _, err := l.store.CreatePendingDigest(ctx); err != nil {
		return nil, fmt.Errorf("rotating pending digest: %w", err)
	}

	l.logger.Info("digest sent",
		zap.String("digest", rendered.Digest.ID),
		zap.Int("emails", count),
		zap.String("recipient", l.cfg.Recipient))

	return rendered, nil
}

// surfaceable filters the digest's records to the ones worth surfacing:
// low-priority and fyi mail, plus anything that was archived out of the
// inbox. Important and needs-reply mail stays out of the digest, and so
// does anything the account authored itself.
func (l *Lifecycle) surfaceable(records []model.ProcessedEmailRecord) []model.ProcessedEmailRecord {
	var out []model.ProcessedEmailRecord
	for _, rec := range records {
		if l.selfAddr != "" && strings.EqualFold(rec.From, l.selfAddr) {
			continue
		}
		switch {
		case rec.Classification == model.ClassificationLowPriority,
			rec.Classification == model.ClassificationFYI,
			rec.ActionTaken == model.ActionArchived:
			out = append(out, rec)
		}
	}
	return out
}

// fetchBodies loads message bodies for the records whose strategy needs
// one. Fetch failures are tolerated; the strategy falls back to stored
// ledger fields.
func (l *Lifecycle) fetchBodies(
	ctx context.Context,
	records []model.ProcessedEmailRecord,
) map[string]*mailstore.Message {
	var ids []string
	for _, rec := range records {
		switch rec.ContentFormat {
		case model.FormatLinkCollection, model.FormatArticle, model.FormatTransactional:
			ids = append(ids, rec.EmailID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	msgs, err := l.mailstore.FetchMessages(ctx, ids, mailstore.FetchProps{Body: true})
	if err != nil {
		l.logger.Warn("fetching digest message bodies", zap.Error(err))
		return nil
	}

	byID := make(map[string]*mailstore.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}
	return byID
}

// groupItems buckets items by category and orders groups and items
// deterministically.
func groupItems(items []Item) []Group {
	byCategory := make(map[string][]Item)
	for _, item := range items {
		cat := categoryOf(item.Record)
		byCategory[cat] = append(byCategory[cat], item)
	}

	groups := make([]Group, 0, len(byCategory))
	for _, cat := range categoryOrder {
		bucket, ok := byCategory[cat]
		if !ok {
			continue
		}
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].Record.ReceivedAt.After(bucket[j].Record.ReceivedAt)
		})
		groups = append(groups, Group{Category: cat, Items: bucket})
	}
	return groups
}

// summaryLine builds the one-line description stored on a sent digest.
func summaryLine(groups []Group) string {
	s := ""
	for i, g := range groups {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d %s", len(g.Items), g.Category)
	}
	return s
}
