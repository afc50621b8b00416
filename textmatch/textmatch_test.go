package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hotel mulia senayan jakarta", Normalize("  Hôtel   Mulia—Senayan, JAKARTA "))
	assert.Equal(t, "", Normalize("!!!"))
}

func TestTokens_DropsStopwordsAndDuplicates(t *testing.T) {
	assert.Equal(t, []string{"ritz", "carlton", "jakarta"}, Tokens("The Ritz-Carlton Jakarta by the Ritz"))
}

func TestTokenOverlap(t *testing.T) {
	cases := []struct {
		query, candidate string
		want             float64
	}{
		{"Grand Hyatt Jakarta", "Grand Hyatt Jakarta", 1},
		{"Grand Hyatt Jakarta", "GRAND HYATT", 2.0 / 3.0},
		{"Grand Hyatt Jakarta", "Park Hyatt Tokyo", 1.0 / 3.0},
		{"", "anything", 0},
		{"Café Batavia", "cafe batavia kota tua", 1},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, TokenOverlap(c.query, c.candidate), 1e-9, "%q vs %q", c.query, c.candidate)
	}
}

func TestMatches_Threshold(t *testing.T) {
	// Three of four query tokens is 75%, above the default threshold.
	assert.True(t, Matches("Hotel Indonesia Kempinski Jakarta", "Hotel Indonesia Kempinski", 0))
	// Two of three is 66%, below it.
	assert.False(t, Matches("Grand Hyatt Jakarta", "Grand Hyatt Bali", 0))
	assert.True(t, Matches("Grand Hyatt Jakarta", "Grand Hyatt Bali", 0.6))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold("Best price at Hôtel Mulia today", "hotel mulia"))
	assert.False(t, ContainsFold("Best price", ""))
}
