// Package moderation classifies outbound message content. A flagged verdict
// is logged server-side but the message still goes through; a blocked verdict
// rejects it.
package moderation

import "strings"

type Verdict int

const (
	VerdictClean Verdict = iota
	VerdictFlagged
	VerdictBlocked
)

// Filter is a term-list classifier with separate flag and hard-block lists.
type Filter struct {
	flagTerms  []string
	blockTerms []string
}

// NewFilter builds a filter with the default term lists for parcel-handoff
// conversations: scams and off-platform payment pressure get flagged,
// contraband solicitation gets blocked.
func NewFilter() *Filter {
	return &Filter{
		flagTerms: []string{
			"wire transfer",
			"western union",
			"gift card",
			"pay outside",
			"off the app",
		},
		blockTerms: []string{
			"undeclared cash",
			"fake customs",
			"smuggle",
			"no customs declaration",
		},
	}
}

// NewFilterWithTerms builds a filter with explicit term lists.
func NewFilterWithTerms(flagTerms, blockTerms []string) *Filter {
	return &Filter{flagTerms: flagTerms, blockTerms: blockTerms}
}

// Check classifies content. Blocked takes precedence over flagged.
func (f *Filter) Check(content string) Verdict {
	lowered := strings.ToLower(content)
	for _, term := range f.blockTerms {
		if strings.Contains(lowered, term) {
			return VerdictBlocked
		}
	}
	for _, term := range f.flagTerms {
		if strings.Contains(lowered, term) {
			return VerdictFlagged
		}
	}
	return VerdictClean
}
