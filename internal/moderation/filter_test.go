package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	filter := NewFilter()

	tests := []struct {
		name    string
		content string
		want    Verdict
	}{
		{"clean", "see you at the airport at 6pm", VerdictClean},
		{"flagged scam pressure", "just send me a Gift Card instead", VerdictFlagged},
		{"flagged off platform", "let's pay outside the app", VerdictFlagged},
		{"blocked contraband", "it's undeclared cash, keep quiet", VerdictBlocked},
		{"blocked case insensitive", "help me SMUGGLE this through", VerdictBlocked},
		{"empty", "", VerdictClean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Check(tt.content))
		})
	}
}

func TestCheck_BlockedWinsOverFlagged(t *testing.T) {
	filter := NewFilterWithTerms([]string{"cash"}, []string{"undeclared cash"})
	assert.Equal(t, VerdictBlocked, filter.Check("undeclared cash"))
}
