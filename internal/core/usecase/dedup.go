package usecase

import (
	"sort"
	"unicode/utf8"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/similarity"
)

// Deduplicator removes near-duplicate documents, keeping the longer one of
// each duplicate pair.
type Deduplicator struct {
	thresholds domain.DedupThresholds
}

func NewDeduplicator(thresholds domain.DedupThresholds) *Deduplicator {
	def := domain.DefaultDedupThresholds()
	if thresholds == (domain.DedupThresholds{}) {
		return &Deduplicator{thresholds: def}
	}
	if thresholds.HammingMax < 0 {
		thresholds.HammingMax = def.HammingMax
	}
	if thresholds.JaccardHigh <= 0 || thresholds.JaccardHigh > 1 {
		thresholds.JaccardHigh = def.JaccardHigh
	}
	if thresholds.JaccardLow <= 0 || thresholds.JaccardLow >= thresholds.JaccardHigh {
		thresholds.JaccardLow = def.JaccardLow
	}
	if thresholds.EditRatioMin <= 0 || thresholds.EditRatioMin > 1 {
		thresholds.EditRatioMin = def.EditRatioMin
	}
	if thresholds.ShingleSize <= 0 {
		thresholds.ShingleSize = def.ShingleSize
	}
	if thresholds.EditMaxRunes <= 0 {
		thresholds.EditMaxRunes = def.EditMaxRunes
	}
	return &Deduplicator{thresholds: thresholds}
}

type dedupEntry struct {
	index  int
	doc    domain.DocumentCandidate
	length int
	fp     similarity.Fingerprint
}

// Deduplicate returns the surviving documents in input order plus the ids it
// removed. Pairs are examined longest-first (ties by lower id), so which ids
// survive never depends on input order, and the output holds no duplicate
// pair, which makes a second pass a no-op.
func (d *Deduplicator) Deduplicate(docs []domain.DocumentCandidate) ([]domain.DocumentCandidate, []int64) {
	entries := make([]dedupEntry, 0, len(docs))
	for i, doc := range docs {
		if doc.Content == "" {
			continue
		}
		fp := similarity.NewFingerprint(doc.Content, d.thresholds.ShingleSize)
		if fp.Normalized == "" {
			continue
		}
		entries = append(entries, dedupEntry{
			index:  i,
			doc:    doc,
			length: utf8.RuneCountInString(doc.Content),
			fp:     fp,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].length != entries[j].length {
			return entries[i].length > entries[j].length
		}
		return entries[i].doc.DocumentID < entries[j].doc.DocumentID
	})

	removed := make(map[int]struct{})
	removedIDs := make([]int64, 0)
	for i := range entries {
		if _, gone := removed[entries[i].index]; gone {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if _, gone := removed[entries[j].index]; gone {
				continue
			}
			if similarity.Compare(entries[i].fp, entries[j].fp, d.thresholds) == similarity.VerdictDistinct {
				continue
			}
			removed[entries[j].index] = struct{}{}
			removedIDs = append(removedIDs, entries[j].doc.DocumentID)
		}
	}

	out := make([]domain.DocumentCandidate, 0, len(docs)-len(removed))
	for i, doc := range docs {
		if _, gone := removed[i]; gone {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(removedIDs, func(i, j int) bool { return removedIDs[i] < removedIDs[j] })
	return out, removedIDs
}
