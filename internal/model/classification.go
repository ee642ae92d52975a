package model

// Classification is the triage category assigned to an email. Every
// processed email carries exactly one active classification at a time;
// the labels package enforces that the remote folder membership agrees.
type Classification string

const (
	ClassificationImportant   Classification = "important"
	ClassificationNeedsReply  Classification = "needs_reply"
	ClassificationFYI         Classification = "fyi"
	ClassificationLowPriority Classification = "low_priority"
)

// AllClassifications returns every classification in display order.
func AllClassifications() []Classification {
	return []Classification{
		ClassificationImportant,
		ClassificationNeedsReply,
		ClassificationFYI,
		ClassificationLowPriority,
	}
}

// ParseClassification maps a string to a known Classification.
func ParseClassification(s string) (Classification, bool) {
	switch Classification(s) {
	case ClassificationImportant,
		ClassificationNeedsReply,
		ClassificationFYI,
		ClassificationLowPriority:
		return Classification(s), true
	}
	return "", false
}

// DisplayName returns the human-readable folder name for a classification.
func (c Classification) DisplayName() string {
	switch c {
	case ClassificationImportant:
		return "Important"
	case ClassificationNeedsReply:
		return "Needs Reply"
	case ClassificationFYI:
		return "FYI"
	case ClassificationLowPriority:
		return "Low Priority"
	default:
		return string(c)
	}
}

// ContentFormat selects the digest summarization strategy for an email.
// It does not affect triage decisions.
type ContentFormat string

const (
	FormatStandard       ContentFormat = "standard"
	FormatLinkCollection ContentFormat = "link_collection"
	FormatArticle        ContentFormat = "article"
	FormatAnnouncement   ContentFormat = "announcement"
	FormatTransactional  ContentFormat = "transactional"
)

// ParseContentFormat maps a string to a known ContentFormat, falling
// back to FormatStandard for anything unrecognized.
func ParseContentFormat(s string) ContentFormat {
	switch ContentFormat(s) {
	case FormatStandard, FormatLinkCollection, FormatArticle,
		FormatAnnouncement, FormatTransactional:
		return ContentFormat(s)
	}
	return FormatStandard
}

// ActionTaken records what the triage cycle did with an email beyond
// labeling it.
type ActionTaken string

const (
	ActionLabeled  ActionTaken = "labeled"
	ActionArchived ActionTaken = "archived"
	ActionKept     ActionTaken = "kept"
)
