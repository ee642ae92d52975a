package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/model"
)

// Condition is one node of a parsed correction rule. Conditions are an
// explicit AST rather than ad-hoc string matching: a rule either parses
// into structured variants or degrades to Verbatim, which forwards the
// raw instruction to the remote classifier untouched.
type Condition interface {
	// Matches reports whether the condition applies to a message.
	Matches(msg mailstore.Message) bool

	// Describe renders the condition as a normalized human-readable
	// phrase.
	Describe() string
}

// FromCondition matches an exact sender address.
type FromCondition struct {
	Address string
}

func (c FromCondition) Matches(msg mailstore.Message) bool {
	return strings.EqualFold(msg.From, c.Address)
}

func (c FromCondition) Describe() string {
	return "sender is " + c.Address
}

// DomainCondition matches the sender's domain.
type DomainCondition struct {
	Domain string
}

func (c DomainCondition) Matches(msg mailstore.Message) bool {
	at := strings.LastIndex(msg.From, "@")
	if at < 0 {
		return false
	}
	return strings.EqualFold(msg.From[at+1:], c.Domain)
}

func (c DomainCondition) Describe() string {
	return "sender domain is " + c.Domain
}

// SubjectCondition matches a substring of the subject.
type SubjectCondition struct {
	Substring string
}

func (c SubjectCondition) Matches(msg mailstore.Message) bool {
	return strings.Contains(
		strings.ToLower(msg.Subject),
		strings.ToLower(c.Substring),
	)
}

func (c SubjectCondition) Describe() string {
	return fmt.Sprintf("subject contains %q", c.Substring)
}

// HasAttachmentCondition matches messages carrying attachments.
type HasAttachmentCondition struct{}

func (c HasAttachmentCondition) Matches(msg mailstore.Message) bool {
	return msg.HasAttachment
}

func (c HasAttachmentCondition) Describe() string {
	return "has attachment"
}

// AndCondition matches when every child matches.
type AndCondition struct {
	Conditions []Condition
}

func (c AndCondition) Matches(msg mailstore.Message) bool {
	for _, child := range c.Conditions {
		if !child.Matches(msg) {
			return false
		}
	}
	return true
}

func (c AndCondition) Describe() string {
	return joinDescriptions(c.Conditions, " and ")
}

// OrCondition matches when any child matches.
type OrCondition struct {
	Conditions []Condition
}

func (c OrCondition) Matches(msg mailstore.Message) bool {
	for _, child := range c.Conditions {
		if child.Matches(msg) {
			return true
		}
	}
	return false
}

func (c OrCondition) Describe() string {
	return joinDescriptions(c.Conditions, " or ")
}

// VerbatimCondition is the unparsed variant: the instruction could not
// be decomposed locally and is forwarded to the classifier as-is. It
// never matches by itself.
type VerbatimCondition struct {
	Text string
}

func (c VerbatimCondition) Matches(_ mailstore.Message) bool {
	return false
}

func (c VerbatimCondition) Describe() string {
	return c.Text
}

func joinDescriptions(conds []Condition, sep string) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, c.Describe())
	}
	return strings.Join(parts, sep)
}

// Rule is a parsed correction instruction: a condition plus the target
// classification. Classification is empty when no target could be
// recognized locally.
type Rule struct {
	Condition      Condition
	Classification model.Classification
}

// Parsed reports whether the rule parsed into something more structured
// than a verbatim passthrough.
func (r Rule) Parsed() bool {
	if _, verbatim := r.Condition.(VerbatimCondition); verbatim {
		return false
	}
	return r.Classification != ""
}

// Describe renders the rule as a normalized reasoning string.
func (r Rule) Describe() string {
	if r.Classification == "" {
		return r.Condition.Describe()
	}
	return fmt.Sprintf(
		"%s, classify as %s",
		r.Condition.Describe(), r.Classification.DisplayName(),
	)
}

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	domainPattern = regexp.MustCompile(`@?([a-zA-Z0-9\-]+(?:\.[a-zA-Z0-9\-]+)+)`)
)

// ParseRule parses a free-text correction instruction into a Rule.
// The grammar is deliberately small; anything it cannot decompose
// becomes a VerbatimCondition so the remote classifier gets the final
// say.
func ParseRule(text string) Rule {
	normalized := strings.TrimSpace(text)
	lower := strings.ToLower(normalized)

	rule := Rule{
		Condition:      VerbatimCondition{Text: normalized},
		Classification: classificationKeyword(lower),
	}

	var (
		segments []string
		combine  func([]Condition) Condition
	)

	switch {
	case strings.Contains(lower, " or "):
		segments = strings.Split(lower, " or ")
		combine = func(conds []Condition) Condition {
			return OrCondition{Conditions: conds}
		}
	case strings.Contains(lower, " and "):
		segments = strings.Split(lower, " and ")
		combine = func(conds []Condition) Condition {
			return AndCondition{Conditions: conds}
		}
	default:
		segments = []string{lower}
		combine = func(conds []Condition) Condition {
			return conds[0]
		}
	}

	var conds []Condition
	for _, seg := range segments {
		if c := parseSegment(seg); c != nil {
			conds = append(conds, c)
		}
	}

	if len(conds) > 0 {
		rule.Condition = combine(conds)
	}

	return rule
}

// parseSegment recognizes a single condition phrase; nil means the
// segment carries no structured condition.
func parseSegment(seg string) Condition {
	seg = strings.TrimSpace(seg)

	if strings.Contains(seg, "attachment") {
		return HasAttachmentCondition{}
	}

	if idx := strings.Index(seg, "subject contains "); idx >= 0 {
		rest := strings.TrimSpace(seg[idx+len("subject contains "):])
		sub := ""
		if len(rest) > 1 && (rest[0] == '"' || rest[0] == '\'') {
			if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
				sub = rest[1 : 1+end]
			}
		}
		if sub == "" {
			// Unquoted: take up to the first comma so a trailing
			// classification phrase is not swallowed.
			sub = strings.Trim(strings.SplitN(rest, ",", 2)[0], ` "'`)
		}
		if sub != "" {
			return SubjectCondition{Substring: sub}
		}
	}

	if strings.Contains(seg, "from ") || strings.Contains(seg, "sender ") {
		if addr := emailPattern.FindString(seg); addr != "" {
			return FromCondition{Address: addr}
		}
		if m := domainPattern.FindStringSubmatch(seg); m != nil {
			return DomainCondition{Domain: m[1]}
		}
	}

	return nil
}

// classificationKeyword recognizes the target classification in a
// correction phrase; "" means none was found.
func classificationKeyword(lower string) model.Classification {
	switch {
	case strings.Contains(lower, "not important"),
		strings.Contains(lower, "unimportant"),
		strings.Contains(lower, "low priority"),
		strings.Contains(lower, "low-priority"),
		strings.Contains(lower, "junk"),
		strings.Contains(lower, "ignore"):
		return model.ClassificationLowPriority
	case strings.Contains(lower, "reply"),
		strings.Contains(lower, "respond"),
		strings.Contains(lower, "answer"):
		return model.ClassificationNeedsReply
	case strings.Contains(lower, "important"),
		strings.Contains(lower, "urgent"),
		strings.Contains(lower, "priority"):
		return model.ClassificationImportant
	case strings.Contains(lower, "fyi"),
		strings.Contains(lower, "informational"):
		return model.ClassificationFYI
	}
	return ""
}
