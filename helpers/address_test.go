package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		name   string
		author string
		want   string
	}{
		{"angle brackets", "Jane Doe <jane@example.com>", "jane@example.com"},
		{"bare address", "jane@example.com", "jane@example.com"},
		{"parenthesized name", "jane@example.com (Jane Doe)", "jane@example.com"},
		{"uppercase normalized", "Jane <JANE@Example.COM>", "jane@example.com"},
		{"embedded in text", "via Jane jane.doe+lists@example.co.uk thanks", "jane.doe+lists@example.co.uk"},
		{"no address", "Jane Doe", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEmail(tt.author))
		})
	}
}

func TestExtractName(t *testing.T) {
	assert.Equal(t, "Jane Doe", ExtractName("Jane Doe <jane@example.com>"))
	assert.Equal(t, "jane@example.com", ExtractName("jane@example.com"))
	assert.Equal(t, "Jane Doe", ExtractName("Jane Doe"))
}

func TestMergeRecipients(t *testing.T) {
	to := []string{"Alice <alice@example.com>", "bob@example.com"}
	cc := []string{"ALICE@example.com", "carol@example.com", "not an address"}

	got := MergeRecipients(to, cc)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, got)
}

func TestMergeRecipientsEmpty(t *testing.T) {
	assert.Empty(t, MergeRecipients(nil, nil))
}
