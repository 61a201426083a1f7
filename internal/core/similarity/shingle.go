package similarity

import (
	"github.com/cespare/xxhash/v2"
	"github.com/xrash/smetrics"
)

// Shingles returns the set of k-rune sliding windows over normalized text,
// stored as 64-bit hashes. Text shorter than k yields a single shingle.
func Shingles(normalized string, k int) map[uint64]struct{} {
	if k <= 0 {
		k = 5
	}
	runes := []rune(normalized)
	if len(runes) == 0 {
		return map[uint64]struct{}{}
	}
	if len(runes) <= k {
		return map[uint64]struct{}{xxhash.Sum64String(normalized): {}}
	}

	set := make(map[uint64]struct{}, len(runes)-k+1)
	for i := 0; i+k <= len(runes); i++ {
		set[xxhash.Sum64String(string(runes[i:i+k]))] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|; two empty sets have similarity 0.
func Jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for h := range small {
		if _, ok := large[h]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// EditRatio is 1 - levenshtein(a, b) / max(len(a), len(b)), measured in runes
// over at most maxRunes leading runes of each input.
func EditRatio(a, b string, maxRunes int) float64 {
	ra := []rune(TruncateRunes(a, maxRunes))
	rb := []rune(TruncateRunes(b, maxRunes))
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(runeDistance(ra, rb))/float64(longest)
}

// runeDistance maps each distinct rune to one byte so the byte-level
// Wagner-Fischer counts one edit per rune. Alphabets wider than a byte fall
// back to a rune-level table.
func runeDistance(a, b []rune) int {
	codes := make(map[rune]byte)
	encode := func(rs []rune) ([]byte, bool) {
		out := make([]byte, len(rs))
		for i, r := range rs {
			c, ok := codes[r]
			if !ok {
				if len(codes) == 256 {
					return nil, false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out[i] = c
		}
		return out, true
	}
	ea, okA := encode(a)
	eb, okB := encode(b)
	if okA && okB {
		return smetrics.WagnerFischer(string(ea), string(eb), 1, 1, 1)
	}
	return levenshteinRunes(a, b)
}

func levenshteinRunes(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
