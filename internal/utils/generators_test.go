package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateTicketSuffix(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		suffix := GenerateTicketSuffix(8)
		assert.Len(t, suffix, 8)
		for _, c := range suffix {
			assert.Contains(t, suffixAlphabet, string(c))
		}
		seen[suffix] = true
	}
	// 100 draws from a 32^8 space virtually never collide.
	assert.Greater(t, len(seen), 95)
}

func TestSuffixAlphabetExcludesAmbiguousGlyphs(t *testing.T) {
	for _, c := range "01IO" {
		assert.False(t, strings.ContainsRune(suffixAlphabet, c))
	}
}

func TestGenerateOrderNumber(t *testing.T) {
	number := GenerateOrderNumber()
	assert.True(t, strings.HasPrefix(number, "JE-"))
	parts := strings.Split(number, "-")
	assert.Len(t, parts, 3)
	assert.Len(t, parts[2], 6)
}
