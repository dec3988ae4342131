package mapping

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

var ErrNotFound = errors.New("mapping not found")

// Equivalence follows the ConceptMap relationship vocabulary.
const (
	EquivalenceExact      = "EXACT"
	EquivalenceEquivalent = "EQUIVALENT"
	EquivalenceWider      = "WIDER"
	EquivalenceNarrower   = "NARROWER"
	EquivalenceInexact    = "INEXACT"
)

const (
	ValidationUnvalidated = "unvalidated"
	ValidationValidated   = "validated"
	ValidationRejected    = "rejected"
)

var KnownEquivalences = map[string]bool{
	EquivalenceExact:      true,
	EquivalenceEquivalent: true,
	EquivalenceWider:      true,
	EquivalenceNarrower:   true,
	EquivalenceInexact:    true,
}

var KnownDecisions = map[string]bool{
	ValidationValidated: true,
	ValidationRejected:  true,
}

// Correspondence is one directed mapping candidate between a source
// concept and a target concept, annotated with a similarity score.
type Correspondence struct {
	ID            uuid.UUID `json:"id"`
	SourceCode    string    `json:"source_code"`
	SourceDisplay string    `json:"source_display"`
	SourceSystem  string    `json:"source_system"`
	TargetCode    string    `json:"target_code"`
	TargetDisplay string    `json:"target_display"`
	TargetSystem  string    `json:"target_system"`
	Confidence    float64   `json:"confidence"`
	Equivalence   string    `json:"equivalence"`
	Validation    string    `json:"validation"`
	ValidatedBy   string    `json:"validated_by,omitempty"`
	ValidatedAt   time.Time `json:"validated_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EquivalenceForScore bands a cosine score into an equivalence grade.
// NARROWER is never assigned automatically; curators set it by hand.
func EquivalenceForScore(score float64) string {
	switch {
	case score >= 0.9:
		return EquivalenceExact
	case score >= 0.7:
		return EquivalenceEquivalent
	case score >= 0.5:
		return EquivalenceWider
	default:
		return EquivalenceInexact
	}
}

// GenerateReport summarizes one generation run.
type GenerateReport struct {
	SourceSystem   string  `json:"source_system"`
	TargetSystem   string  `json:"target_system"`
	SourceConcepts int     `json:"source_concepts"`
	TargetConcepts int     `json:"target_concepts"`
	Candidates     int     `json:"candidates"`
	Inserted       int     `json:"inserted"`
	Duplicates     int     `json:"duplicates"`
	Threshold      float64 `json:"threshold"`
}

// Match is one ranked translation result.
type Match struct {
	ID            uuid.UUID `json:"id"`
	TargetCode    string    `json:"target_code"`
	TargetDisplay string    `json:"target_display"`
	TargetSystem  string    `json:"target_system"`
	Confidence    float64   `json:"confidence"`
	Equivalence   string    `json:"equivalence"`
	Validation    string    `json:"validation"`
}

// TranslationResult carries the resolved source concept and every
// stored candidate for it, best first. Validation states are reported,
// not filtered; an unmapped concept has an empty match list.
type TranslationResult struct {
	Source  *vocabulary.CodeEntry `json:"source"`
	Matches []Match               `json:"matches"`
	Total   int                   `json:"total"`
}
