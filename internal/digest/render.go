package digest

import (
	"fmt"
	"html"
	"strings"

	"github.com/nhle/mail-triage/internal/model"
)

// cleanupPath is the HTTP route a sent digest links to.
const cleanupPath = "/cleanup/"

// cleanupURL builds the one-click cleanup link for a digest.
func cleanupURL(cfg model.DigestConfig, token string) string {
	if cfg.CleanupBaseURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.CleanupBaseURL, "/") + cleanupPath + token
}

// messageURL builds a deep link to a source message, if a template is
// configured.
func messageURL(cfg model.DigestConfig, emailID string) string {
	if cfg.MessageLinkTemplate == "" {
		return ""
	}
	return fmt.Sprintf(cfg.MessageLinkTemplate, emailID)
}

// renderText renders the plain-text digest body.
func renderText(r *Rendered, cfg model.DigestConfig) string {
	var sb strings.Builder

	sb.WriteString("Low-priority mail digest\n")
	sb.WriteString("========================\n\n")

	for _, g := range r.Groups {
		sb.WriteString(sectionCount(g))
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", len(sectionCount(g))))
		sb.WriteString("\n")

		for _, item := range g.Items {
			sb.WriteString(fmt.Sprintf("* %s — %s\n", item.Record.From, item.Record.Subject))
			if item.Summary != "" {
				sb.WriteString("  " + item.Summary + "\n")
			}
			if link := messageURL(cfg, item.Record.EmailID); link != "" {
				sb.WriteString("  " + link + "\n")
			}
		}
		sb.WriteString("\n")
	}

	if link := cleanupURL(cfg, r.Digest.CleanupToken); link != "" {
		sb.WriteString("Done with these? Clean them up in one click:\n")
		sb.WriteString(link + "\n")
	}

	return sb.String()
}

// renderHTML renders the HTML digest body.
func renderHTML(r *Rendered, cfg model.DigestConfig) string {
	var sb strings.Builder

	sb.WriteString(`<html><body style="font-family: sans-serif; max-width: 640px;">`)
	sb.WriteString("<h2>Low-priority mail digest</h2>")

	for _, g := range r.Groups {
		sb.WriteString("<h3>" + html.EscapeString(sectionCount(g)) + "</h3><ul>")
		for _, item := range g.Items {
			sb.WriteString("<li>")
			subject := html.EscapeString(item.Record.Subject)
			if link := messageURL(cfg, item.Record.EmailID); link != "" {
				sb.WriteString(fmt.Sprintf(
					`<a href="%s">%s</a>`, html.EscapeString(link), subject,
				))
			} else {
				sb.WriteString("<strong>" + subject + "</strong>")
			}
			sb.WriteString(" <em>" + html.EscapeString(item.Record.From) + "</em>")
			if item.Summary != "" {
				sb.WriteString("<br>" + html.EscapeString(item.Summary))
			}
			sb.WriteString("</li>")
		}
		sb.WriteString("</ul>")
	}

	if link := cleanupURL(cfg, r.Digest.CleanupToken); link != "" {
		sb.WriteString(fmt.Sprintf(
			`<p><a href="%s" style="display:inline-block;padding:8px 16px;`+
				`background:#2d6cdf;color:#fff;text-decoration:none;border-radius:4px;">`+
				`Clean up these emails</a></p>`,
			html.EscapeString(link),
		))
	}

	sb.WriteString("</body></html>")
	return sb.String()
}
