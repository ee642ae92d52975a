package digest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
)

// summarizeFunc builds a digest line for one record. msg may be nil
// when the body could not be fetched; every strategy must degrade to
// stored ledger fields in that case.
type summarizeFunc func(ctx context.Context, l *Lifecycle, rec model.ProcessedEmailRecord, msg *mailstore.Message) string

// summarizers is the dispatch table keyed by content format. Adding a
// format means adding one entry here; nothing switches on the format
// anywhere else.
var summarizers = map[model.ContentFormat]summarizeFunc{
	model.FormatStandard:       summarizeStandard,
	model.FormatLinkCollection: summarizeLinkCollection,
	model.FormatArticle:        summarizeArticle,
	model.FormatAnnouncement:   summarizeAnnouncement,
	model.FormatTransactional:  summarizeTransactional,
}

// summarize dispatches on the record's content format. Unknown formats
// and strategy failures fall back to the standard strategy.
func (l *Lifecycle) summarize(
	ctx context.Context,
	rec model.ProcessedEmailRecord,
	msg *mailstore.Message,
) string {
	fn, ok := summarizers[rec.ContentFormat]
	if !ok {
		fn = summarizeStandard
	}
	return fn(ctx, l, rec, msg)
}

// summarizeStandard uses the summary captured at classification time.
func summarizeStandard(_ context.Context, _ *Lifecycle, rec model.ProcessedEmailRecord, _ *mailstore.Message) string {
	if rec.ContentSummary != "" {
		return rec.ContentSummary
	}
	return rec.Reasoning
}

// maxDigestLinks caps how many links a link-collection entry lists.
const maxDigestLinks = 5

// summarizeLinkCollection extracts the leading links from an HTML body,
// so a link-roundup newsletter reads as its table of contents.
func summarizeLinkCollection(ctx context.Context, l *Lifecycle, rec model.ProcessedEmailRecord, msg *mailstore.Message) string {
	if msg == nil || msg.HTMLBody == "" {
		return summarizeStandard(ctx, l, rec, msg)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTMLBody))
	if err != nil {
		l.logger.Debug("parsing link collection", zap.String("email", rec.EmailID), zap.Error(err))
		return summarizeStandard(ctx, l, rec, msg)
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if text == "" || len(text) < 4 {
			return true
		}
		if !strings.HasPrefix(href, "http") || seen[href] {
			return true
		}
		if strings.Contains(strings.ToLower(text), "unsubscribe") {
			return true
		}
		seen[href] = true
		links = append(links, text)
		return len(links) < maxDigestLinks
	})

	if len(links) == 0 {
		return summarizeStandard(ctx, l, rec, msg)
	}
	return "Links: " + strings.Join(links, "; ")
}

// summarizeArticle asks the classifier for a fresh summary of the full
// body text; long-form content summarizes better from the whole article
// than from the preview captured at classification time.
func summarizeArticle(ctx context.Context, l *Lifecycle, rec model.ProcessedEmailRecord, msg *mailstore.Message) string {
	if msg == nil || msg.TextBody == "" {
		return summarizeStandard(ctx, l, rec, msg)
	}

	summary, err := l.classifier.Summarize(ctx, msg.TextBody)
	if err != nil {
		l.logger.Debug("summarizing article", zap.String("email", rec.EmailID), zap.Error(err))
		return summarizeStandard(ctx, l, rec, msg)
	}
	return summary
}

// summarizeAnnouncement keeps the stored summary short; announcements
// rarely carry more signal than their first line.
func summarizeAnnouncement(ctx context.Context, l *Lifecycle, rec model.ProcessedEmailRecord, msg *mailstore.Message) string {
	s := summarizeStandard(ctx, l, rec, msg)
	if utf8.RuneCountInString(s) > 140 {
		s = string([]rune(s)[:140]) + "..."
	}
	return s
}

var (
	amountPattern = regexp.MustCompile(`(?:[$€£]\s?\d[\d,]*(?:\.\d{2})?|\d[\d,]*(?:\.\d{2})?\s?(?:USD|EUR|GBP))`)
	orderPattern  = regexp.MustCompile(`(?i)(?:order|invoice|confirmation|reference)\s*(?:number|no\.?|#)?[:\s]+([A-Z0-9\-]{4,})`)
)

// summarizeTransactional pulls the amount and order reference out of a
// receipt body. Text that yields neither falls back to the stored
// summary.
func summarizeTransactional(ctx context.Context, l *Lifecycle, rec model.ProcessedEmailRecord, msg *mailstore.Message) string {
	body := ""
	if msg != nil {
		body = msg.TextBody
	}
	if body == "" {
		return summarizeStandard(ctx, l, rec, msg)
	}

	var parts []string
	if amount := amountPattern.FindString(body); amount != "" {
		parts = append(parts, "Amount: "+strings.TrimSpace(amount))
	}
	if m := orderPattern.FindStringSubmatch(body); m != nil {
		parts = append(parts, "Ref: "+m[1])
	}

	if len(parts) == 0 {
		return summarizeStandard(ctx, l, rec, msg)
	}
	return strings.Join(parts, ", ")
}

// Digest categories in render order.
var categoryOrder = []string{"newsletters", "notifications", "receipts", "updates", "other"}

// categoryOf buckets a record into a digest section by cheap sender and
// subject heuristics.
func categoryOf(rec model.ProcessedEmailRecord) string {
	from := strings.ToLower(rec.From)
	subject := strings.ToLower(rec.Subject)

	switch {
	case rec.ContentFormat == model.FormatTransactional,
		strings.Contains(subject, "receipt"),
		strings.Contains(subject, "invoice"),
		strings.Contains(subject, "order confirm"):
		return "receipts"
	case rec.ContentFormat == model.FormatLinkCollection,
		strings.Contains(from, "newsletter"),
		strings.Contains(from, "digest"),
		strings.Contains(subject, "newsletter"):
		return "newsletters"
	case strings.Contains(from, "noreply"),
		strings.Contains(from, "no-reply"),
		strings.Contains(from, "notification"),
		strings.Contains(from, "alerts"):
		return "notifications"
	case rec.ContentFormat == model.FormatAnnouncement,
		strings.Contains(subject, "update"),
		strings.Contains(subject, "announce"),
		strings.Contains(subject, "changelog"):
		return "updates"
	default:
		return "other"
	}
}

// titleCategory renders a category key as a section heading.
func titleCategory(cat string) string {
	if cat == "" {
		return "Other"
	}
	return strings.ToUpper(cat[:1]) + cat[1:]
}

// sectionCount formats a heading with its item count.
func sectionCount(g Group) string {
	return fmt.Sprintf("%s (%d)", titleCategory(g.Category), len(g.Items))
}
