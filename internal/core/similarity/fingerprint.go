package similarity

import "github.com/kirillkom/archive-qa/internal/core/domain"

// Fingerprint holds everything the deduplicator compares for one document.
// It lives only for one pipeline run.
type Fingerprint struct {
	Normalized string
	StrongHash string
	SimHash    uint64
	Shingles   map[uint64]struct{}
}

func NewFingerprint(text string, shingleSize int) Fingerprint {
	normalized := Normalize(text)
	return Fingerprint{
		Normalized: normalized,
		StrongHash: StrongHash(normalized),
		SimHash:    SimHash(normalized),
		Shingles:   Shingles(normalized, shingleSize),
	}
}

// Verdict explains why two fingerprints were judged duplicates.
type Verdict string

const (
	VerdictDistinct    Verdict = ""
	VerdictExact       Verdict = "exact"
	VerdictNearExact   Verdict = "near_exact"
	VerdictHighOverlap Verdict = "high_overlap"
	VerdictPastedInto  Verdict = "pasted_into"
)

// Compare applies the exact, SimHash, Jaccard and edit-ratio checks in order.
func Compare(a, b Fingerprint, t domain.DedupThresholds) Verdict {
	if a.StrongHash == b.StrongHash {
		return VerdictExact
	}
	if HammingDistance(a.SimHash, b.SimHash) <= t.HammingMax {
		return VerdictNearExact
	}
	j := Jaccard(a.Shingles, b.Shingles)
	if j > t.JaccardHigh {
		return VerdictHighOverlap
	}
	if j > t.JaccardLow && EditRatio(a.Normalized, b.Normalized, t.EditMaxRunes) > t.EditRatioMin {
		return VerdictPastedInto
	}
	return VerdictDistinct
}
