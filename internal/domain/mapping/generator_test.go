package mapping

import (
	"math"
	"reflect"
	"testing"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

func entry(code, system, display, definition string) *vocabulary.CodeEntry {
	return &vocabulary.CodeEntry{
		Code:       code,
		System:     system,
		Display:    display,
		Definition: definition,
		IsActive:   true,
	}
}

func namasteCorpus() []*vocabulary.CodeEntry {
	return []*vocabulary.CodeEntry{
		entry("AYU-001", vocabulary.SystemNAMASTE, "Sandhigata Vata", "degenerative joint disorder with pain and stiffness"),
		entry("AYU-002", vocabulary.SystemNAMASTE, "Amavata", "rheumatic disorder of the joints with swelling"),
		entry("AYU-003", vocabulary.SystemNAMASTE, "Kasa", "cough disorder of the respiratory tract"),
	}
}

func tm2Corpus() []*vocabulary.CodeEntry {
	return []*vocabulary.CodeEntry{
		entry("TM2-A01", vocabulary.SystemICD11TM2, "Joint pain disorder", "degenerative joint disorder with pain and stiffness"),
		entry("TM2-A02", vocabulary.SystemICD11TM2, "Rheumatic joint disease", "rheumatic disorder of the joints with swelling"),
		entry("TM2-B01", vocabulary.SystemICD11TM2, "Cough disorder", "cough disorder of the respiratory tract"),
	}
}

func TestTokenizeDropsStopwordsAndPunctuation(t *testing.T) {
	got := tokenize("The pain, of the Joints!")
	want := []string{"pain", "joints"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize = %v, want %v", got, want)
	}
}

func TestTermsIncludeBigrams(t *testing.T) {
	got := terms("chronic joint pain")
	want := []string{"chronic", "joint", "pain", "chronic joint", "joint pain"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("terms = %v, want %v", got, want)
	}
}

func TestCosineZeroVector(t *testing.T) {
	if c := cosine([]float64{0, 0}, []float64{1, 1}); c != 0 {
		t.Errorf("cosine with zero vector = %v, want 0", c)
	}
}

func TestCosineIdentical(t *testing.T) {
	c := cosine([]float64{1, 2, 3}, []float64{1, 2, 3})
	if math.Abs(c-1) > 1e-9 {
		t.Errorf("cosine of identical vectors = %v, want 1", c)
	}
}

func TestEquivalenceForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.95, EquivalenceExact},
		{0.9, EquivalenceExact},
		{0.89, EquivalenceEquivalent},
		{0.7, EquivalenceEquivalent},
		{0.69, EquivalenceWider},
		{0.5, EquivalenceWider},
		{0.49, EquivalenceInexact},
		{0.0, EquivalenceInexact},
	}
	for _, tc := range cases {
		if got := EquivalenceForScore(tc.score); got != tc.want {
			t.Errorf("EquivalenceForScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestGenerateMatchesSimilarConcepts(t *testing.T) {
	out, err := Generate(namasteCorpus(), tm2Corpus(), 0.3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected candidates")
	}

	best := make(map[string]*Correspondence)
	for _, m := range out {
		if cur, ok := best[m.SourceCode]; !ok || m.Confidence > cur.Confidence {
			best[m.SourceCode] = m
		}
	}
	wantPairs := map[string]string{
		"AYU-001": "TM2-A01",
		"AYU-002": "TM2-A02",
		"AYU-003": "TM2-B01",
	}
	for src, wantTgt := range wantPairs {
		m, ok := best[src]
		if !ok {
			t.Errorf("no candidate for %s", src)
			continue
		}
		if m.TargetCode != wantTgt {
			t.Errorf("best match for %s = %s (%.3f), want %s", src, m.TargetCode, m.Confidence, wantTgt)
		}
		if m.Validation != ValidationUnvalidated {
			t.Errorf("new candidate validation = %s, want %s", m.Validation, ValidationUnvalidated)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	first, err := Generate(namasteCorpus(), tm2Corpus(), 0.3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Generate(namasteCorpus(), tm2Corpus(), 0.3)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d candidates, first run %d", i, len(again), len(first))
		}
		for j := range again {
			a, b := again[j], first[j]
			if a.SourceCode != b.SourceCode || a.TargetCode != b.TargetCode || a.Confidence != b.Confidence {
				t.Fatalf("run %d candidate %d differs: %+v vs %+v", i, j, a, b)
			}
		}
	}
}

func TestGenerateOrdering(t *testing.T) {
	out, err := Generate(namasteCorpus(), tm2Corpus(), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev.SourceCode > cur.SourceCode {
			t.Fatalf("source order violated at %d: %s after %s", i, cur.SourceCode, prev.SourceCode)
		}
		if prev.SourceCode == cur.SourceCode && prev.Confidence < cur.Confidence {
			t.Fatalf("score order violated at %d", i)
		}
		if prev.SourceCode == cur.SourceCode && prev.Confidence == cur.Confidence &&
			prev.TargetCode > cur.TargetCode {
			t.Fatalf("target tiebreak violated at %d", i)
		}
	}
}

func TestGenerateThresholdMonotonic(t *testing.T) {
	loose, err := Generate(namasteCorpus(), tm2Corpus(), 0.1)
	if err != nil {
		t.Fatal(err)
	}
	strict, err := Generate(namasteCorpus(), tm2Corpus(), 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if len(strict) > len(loose) {
		t.Errorf("raising the threshold grew the output: %d > %d", len(strict), len(loose))
	}
	for _, m := range strict {
		if m.Confidence < 0.8 {
			t.Errorf("candidate below threshold survived: %.3f", m.Confidence)
		}
	}
}

func TestGenerateRejectsBadThreshold(t *testing.T) {
	for _, th := range []float64{0, -0.5, 1.5} {
		if _, err := Generate(namasteCorpus(), tm2Corpus(), th); err == nil {
			t.Errorf("threshold %v accepted", th)
		}
	}
}

func TestGenerateEmptyCorpus(t *testing.T) {
	out, err := Generate(nil, tm2Corpus(), 0.3)
	if err != nil || out != nil {
		t.Errorf("empty source: out=%v err=%v", out, err)
	}
	out, err = Generate(namasteCorpus(), nil, 0.3)
	if err != nil || out != nil {
		t.Errorf("empty target: out=%v err=%v", out, err)
	}
}

func TestVectorizerFeatureCapDeterministic(t *testing.T) {
	// Two corpora with identical content fitted twice must agree on the
	// learned feature space even when the cap is exceeded.
	var corpus []string
	for _, e := range append(namasteCorpus(), tm2Corpus()...) {
		corpus = append(corpus, e.Document())
	}
	a := fitVectorizer(corpus)
	b := fitVectorizer(corpus)
	if !reflect.DeepEqual(a.index, b.index) {
		t.Fatal("vectorizer feature space not deterministic")
	}
}
