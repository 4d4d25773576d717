package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusSeen, true},
		{StatusSent, StatusSeen, true},
		{StatusSeen, StatusDelivered, false},
		{StatusDelivered, StatusSent, false},
		{StatusSent, StatusSent, false},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusFailed, true},
		{StatusDelivered, StatusFailed, false},
		{StatusSeen, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{"bogus", StatusSeen, false},
		{StatusSent, "bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to))
		})
	}
}
