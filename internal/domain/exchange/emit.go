// Package exchange renders the terminology store and its mappings as
// FHIR resources for interchange with EHR systems.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayushsetu/ayushsetu/internal/domain/mapping"
	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
	"github.com/ayushsetu/ayushsetu/internal/platform/fhir"
)

const (
	abhaSystem = "https://healthid.ndhm.gov.in"
	hprSystem  = "https://hpr.abdm.gov.in"
)

// CodeSystem is the FHIR rendering of one terminology snapshot.
type CodeSystem struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	Version      string              `json:"version,omitempty"`
	Name         string              `json:"name"`
	Status       string              `json:"status"`
	Publisher    string              `json:"publisher,omitempty"`
	Content      string              `json:"content"`
	Count        int                 `json:"count"`
	Concept      []CodeSystemConcept `json:"concept"`
}

type CodeSystemConcept struct {
	Code       string            `json:"code"`
	Display    string            `json:"display"`
	Definition string            `json:"definition,omitempty"`
	Property   []ConceptProperty `json:"property,omitempty"`
}

type ConceptProperty struct {
	Code      string `json:"code"`
	ValueCode string `json:"valueCode"`
}

// ConceptMap renders stored correspondences between two systems.
type ConceptMap struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	SourceURI    string            `json:"sourceUri"`
	TargetURI    string            `json:"targetUri"`
	Group        []ConceptMapGroup `json:"group"`
}

type ConceptMapGroup struct {
	Source  string              `json:"source"`
	Target  string              `json:"target"`
	Element []ConceptMapElement `json:"element"`
}

type ConceptMapElement struct {
	Code    string             `json:"code"`
	Display string             `json:"display,omitempty"`
	Target  []ConceptMapTarget `json:"target"`
}

type ConceptMapTarget struct {
	Code        string `json:"code"`
	Display     string `json:"display,omitempty"`
	Equivalence string `json:"equivalence"`
	Comment     string `json:"comment,omitempty"`
}

// Bundle is a FHIR document bundle.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleEntry struct {
	FullURL  string         `json:"fullUrl"`
	Resource interface{}    `json:"resource"`
	Request  *BundleRequest `json:"request,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Emitter builds FHIR renderings from the vocabulary and mapping
// services.
type Emitter struct {
	vocab    *vocabulary.Service
	mappings *mapping.Service
}

func NewEmitter(vocab *vocabulary.Service, mappings *mapping.Service) *Emitter {
	return &Emitter{vocab: vocab, mappings: mappings}
}

// EmitCodeSystem renders every active concept of one system.
func (e *Emitter) EmitCodeSystem(ctx context.Context, system string) (*CodeSystem, error) {
	entries, err := e.vocab.ListActive(ctx, system)
	if err != nil {
		return nil, err
	}

	cs := &CodeSystem{
		ResourceType: "CodeSystem",
		ID:           system,
		URL:          vocabulary.SystemURI(system),
		Name:         system,
		Status:       "active",
		Content:      "complete",
		Count:        len(entries),
		Concept:      make([]CodeSystemConcept, 0, len(entries)),
	}
	if system == vocabulary.SystemNAMASTE {
		cs.Publisher = "Ministry of Ayush, Government of India"
	}
	for _, entry := range entries {
		concept := CodeSystemConcept{
			Code:       entry.Code,
			Display:    entry.Display,
			Definition: entry.Definition,
		}
		if entry.AyushSystem != "" {
			concept.Property = []ConceptProperty{{Code: "ayush-system", ValueCode: entry.AyushSystem}}
		}
		cs.Concept = append(cs.Concept, concept)
	}
	return cs, nil
}

// EmitConceptMap renders the full mapping set from NAMASTE to ICD-11
// TM2. Rejected candidates are left out; equivalence labels follow the
// curated value when one exists.
func (e *Emitter) EmitConceptMap(ctx context.Context) (*ConceptMap, error) {
	sourceURI := vocabulary.SystemURI(vocabulary.SystemNAMASTE)
	targetURI := vocabulary.SystemURI(vocabulary.SystemICD11TM2)

	cm := &ConceptMap{
		ResourceType: "ConceptMap",
		ID:           "namaste-to-icd11-tm2",
		URL:          sourceURI + "/ConceptMap/icd11-tm2",
		Name:         "NAMASTEtoICD11TM2",
		Status:       "active",
		SourceURI:    sourceURI,
		TargetURI:    targetURI,
	}

	group := ConceptMapGroup{Source: sourceURI, Target: targetURI}
	const pageSize = 100
	var byCode = make(map[string]*ConceptMapElement)
	var order []string

	for offset := 0; ; offset += pageSize {
		page, total, err := e.mappings.List(ctx, "", pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if m.Validation == mapping.ValidationRejected {
				continue
			}
			el, ok := byCode[m.SourceCode]
			if !ok {
				el = &ConceptMapElement{Code: m.SourceCode, Display: m.SourceDisplay}
				byCode[m.SourceCode] = el
				order = append(order, m.SourceCode)
			}
			el.Target = append(el.Target, ConceptMapTarget{
				Code:        m.TargetCode,
				Display:     m.TargetDisplay,
				Equivalence: m.Equivalence,
				Comment:     fmt.Sprintf("confidence %.3f, %s", m.Confidence, m.Validation),
			})
		}
		if offset+pageSize >= total || len(page) == 0 {
			break
		}
	}

	for _, code := range order {
		group.Element = append(group.Element, *byCode[code])
	}
	cm.Group = []ConceptMapGroup{group}
	return cm, nil
}

// EncounterInput describes one dual-coded clinical encounter.
type EncounterInput struct {
	PatientABHA       string `json:"patient_abha"`
	PatientName       string `json:"patient_name"`
	PractitionerHPRID string `json:"practitioner_hpr_id"`
	PractitionerName  string `json:"practitioner_name"`
	NAMASTECode       string `json:"namaste_code"`
	Notes             string `json:"notes,omitempty"`
}

func (in *EncounterInput) validate() error {
	if in.PatientABHA == "" {
		return fmt.Errorf("patient_abha is required")
	}
	if in.PractitionerHPRID == "" {
		return fmt.Errorf("practitioner_hpr_id is required")
	}
	if in.NAMASTECode == "" {
		return fmt.Errorf("namaste_code is required")
	}
	return nil
}

// EmitEncounterBundle builds a transaction bundle carrying the patient,
// practitioner, encounter and a Condition dual-coded with the NAMASTE
// concept and its best ICD-11 TM2 translation. Without a usable
// translation the Condition carries the NAMASTE coding alone.
func (e *Emitter) EmitEncounterBundle(ctx context.Context, in *EncounterInput) (*Bundle, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	source, err := e.vocab.Lookup(ctx, in.NAMASTECode, vocabulary.SystemNAMASTE)
	if err != nil {
		return nil, err
	}

	codings := []fhir.Coding{{
		System:  vocabulary.SystemURI(vocabulary.SystemNAMASTE),
		Code:    source.Code,
		Display: source.Display,
	}}
	result, err := e.mappings.Translate(ctx, in.NAMASTECode, vocabulary.SystemNAMASTE, vocabulary.SystemICD11TM2)
	if err != nil {
		return nil, err
	}
	for _, m := range result.Matches {
		if m.Validation == mapping.ValidationRejected {
			continue
		}
		codings = append(codings, fhir.Coding{
			System:  vocabulary.SystemURI(m.TargetSystem),
			Code:    m.TargetCode,
			Display: m.TargetDisplay,
		})
		break // best surviving match only
	}

	patientID := uuid.New().String()
	practitionerID := uuid.New().String()
	encounterID := uuid.New().String()
	conditionID := uuid.New().String()
	now := time.Now().UTC()

	patient := map[string]interface{}{
		"resourceType": "Patient",
		"id":           patientID,
		"identifier":   []fhir.Identifier{{System: abhaSystem, Value: in.PatientABHA}},
		"name":         []map[string]string{{"text": in.PatientName}},
	}
	practitioner := map[string]interface{}{
		"resourceType": "Practitioner",
		"id":           practitionerID,
		"identifier":   []fhir.Identifier{{System: hprSystem, Value: in.PractitionerHPRID}},
		"name":         []map[string]string{{"text": in.PractitionerName}},
	}
	encounter := map[string]interface{}{
		"resourceType": "Encounter",
		"id":           encounterID,
		"status":       "finished",
		"class": fhir.Coding{
			System: "http://terminology.hl7.org/CodeSystem/v3-ActCode",
			Code:   "AMB",
		},
		"subject": fhir.Reference{Reference: "Patient/" + patientID, Display: in.PatientName},
		"participant": []map[string]interface{}{{
			"individual": fhir.Reference{Reference: "Practitioner/" + practitionerID, Display: in.PractitionerName},
		}},
		"period": map[string]interface{}{"start": now, "end": now},
	}
	condition := map[string]interface{}{
		"resourceType": "Condition",
		"id":           conditionID,
		"clinicalStatus": fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: "http://terminology.hl7.org/CodeSystem/condition-clinical",
			Code:   "active",
		}}},
		"code":      fhir.CodeableConcept{Coding: codings, Text: source.Display},
		"subject":   fhir.Reference{Reference: "Patient/" + patientID, Display: in.PatientName},
		"encounter": fhir.Reference{Reference: "Encounter/" + encounterID},
	}
	if in.Notes != "" {
		condition["note"] = []map[string]string{{"text": in.Notes}}
	}

	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "transaction",
		Timestamp:    now,
		Entry: []BundleEntry{
			{FullURL: "urn:uuid:" + patientID, Resource: patient, Request: &BundleRequest{Method: "POST", URL: "Patient"}},
			{FullURL: "urn:uuid:" + practitionerID, Resource: practitioner, Request: &BundleRequest{Method: "POST", URL: "Practitioner"}},
			{FullURL: "urn:uuid:" + encounterID, Resource: encounter, Request: &BundleRequest{Method: "POST", URL: "Encounter"}},
			{FullURL: "urn:uuid:" + conditionID, Resource: condition, Request: &BundleRequest{Method: "POST", URL: "Condition"}},
		},
	}, nil
}
