package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// StrongHash is the exact-content hash of normalized text.
func StrongHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SimHash computes a 64-bit locality-sensitive fingerprint where every
// token votes on each bit with its frequency as weight.
func SimHash(normalized string) uint64 {
	weights := tokenWeights(normalized)
	if len(weights) == 0 {
		return 0
	}

	var votes [64]int
	for token, w := range weights {
		h := xxhash.Sum64String(token)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				votes[i] += w
			} else {
				votes[i] -= w
			}
		}
	}

	var fp uint64
	for i, v := range votes {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// tokenWeights splits on whitespace; runs of Han ideographs, which carry no
// word boundaries, contribute character bigrams instead of one long token.
func tokenWeights(normalized string) map[string]int {
	weights := make(map[string]int)
	for _, word := range strings.Fields(normalized) {
		for _, token := range splitWord(word) {
			weights[token]++
		}
	}
	return weights
}

func splitWord(word string) []string {
	runes := []rune(word)
	out := make([]string, 0, 1)
	start := 0
	for start < len(runes) {
		han := unicode.Is(unicode.Han, runes[start])
		end := start + 1
		for end < len(runes) && unicode.Is(unicode.Han, runes[end]) == han {
			end++
		}
		run := runes[start:end]
		switch {
		case !han:
			out = append(out, string(run))
		case len(run) == 1:
			out = append(out, string(run))
		default:
			for i := 0; i+1 < len(run); i++ {
				out = append(out, string(run[i:i+2]))
			}
		}
		start = end
	}
	return out
}
