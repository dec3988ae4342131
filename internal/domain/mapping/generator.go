package mapping

import (
	"fmt"
	"sort"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

// DefaultThreshold is the minimum cosine score a candidate must reach
// to be emitted.
const DefaultThreshold = 0.3

// Generate vectorizes both corpora in a shared feature space and emits
// every cross-system pair whose similarity clears the threshold.
// Output order is deterministic: source code ascending, then score
// descending, then target code ascending.
func Generate(source, target []*vocabulary.CodeEntry, threshold float64) ([]*Correspondence, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	if len(source) == 0 || len(target) == 0 {
		return nil, nil
	}

	corpus := make([]string, 0, len(source)+len(target))
	for _, e := range source {
		corpus = append(corpus, e.Document())
	}
	for _, e := range target {
		corpus = append(corpus, e.Document())
	}
	v := fitVectorizer(corpus)

	targetVecs := make([][]float64, len(target))
	for i, e := range target {
		targetVecs[i] = v.transform(e.Document())
	}

	var out []*Correspondence
	for _, src := range source {
		srcVec := v.transform(src.Document())
		for i, tgt := range target {
			score := cosine(srcVec, targetVecs[i])
			if score < threshold {
				continue
			}
			out = append(out, &Correspondence{
				SourceCode:    src.Code,
				SourceDisplay: src.Display,
				SourceSystem:  src.System,
				TargetCode:    tgt.Code,
				TargetDisplay: tgt.Display,
				TargetSystem:  tgt.System,
				Confidence:    score,
				Equivalence:   EquivalenceForScore(score),
				Validation:    ValidationUnvalidated,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceCode != out[j].SourceCode {
			return out[i].SourceCode < out[j].SourceCode
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TargetCode < out[j].TargetCode
	})
	return out, nil
}
