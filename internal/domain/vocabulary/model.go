package vocabulary

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Code system tags. A CodeEntry belongs to exactly one system and
// (code, system) is unique.
const (
	SystemNAMASTE  = "namaste"
	SystemICD11TM2 = "icd11_tm2"
	SystemICD11Bio = "icd11_biomedicine"
)

// KnownSystems enumerates the supported vocabulary tags.
var KnownSystems = map[string]bool{
	SystemNAMASTE:  true,
	SystemICD11TM2: true,
	SystemICD11Bio: true,
}

// AYUSH branches a NAMASTE entry may belong to.
const (
	AyushAyurveda = "ayurveda"
	AyushSiddha   = "siddha"
	AyushUnani    = "unani"
)

// KnownAyushSystems enumerates the valid ayush_system values.
var KnownAyushSystems = map[string]bool{
	AyushAyurveda: true,
	AyushSiddha:   true,
	AyushUnani:    true,
}

var (
	// ErrNotFound is returned when no entry exists for (code, system).
	ErrNotFound = errors.New("vocabulary: code not found")
	// ErrDuplicate is returned on insert of an existing (code, system).
	ErrDuplicate = errors.New("vocabulary: duplicate code")
)

// CodeEntry is one concept in one vocabulary. Entries are never physically
// deleted, only deactivated; display and definition are treated as immutable
// once mappings reference them.
type CodeEntry struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	Code        string            `db:"code" json:"code"`
	Display     string            `db:"display" json:"display"`
	Definition  string            `db:"definition" json:"definition,omitempty"`
	System      string            `db:"system" json:"system"`
	AyushSystem string            `db:"ayush_system" json:"ayush_system,omitempty"`
	Category    string            `db:"category" json:"category,omitempty"`
	Properties  map[string]string `db:"properties" json:"properties,omitempty"`
	IsActive    bool              `db:"is_active" json:"is_active"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// Document returns the comparison text used for similarity scoring.
func (e *CodeEntry) Document() string {
	if e.Definition == "" {
		return e.Display
	}
	return e.Display + " " + e.Definition
}

// SystemURI maps a system tag to its canonical FHIR system URL.
func SystemURI(system string) string {
	switch system {
	case SystemNAMASTE:
		return "https://namaste.ayush.gov.in/CodeSystem/disorders"
	case SystemICD11TM2:
		return "http://id.who.int/icd/release/11/mms/26"
	case SystemICD11Bio:
		return "http://id.who.int/icd/release/11/mms"
	default:
		return system
	}
}

// IngestReport summarises a bulk ingestion. Per-row problems are reported
// here, never as a failure of the whole batch.
type IngestReport struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
	Total     int      `json:"total_codes"`
}
