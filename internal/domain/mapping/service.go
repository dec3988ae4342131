package mapping

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

// CorpusSource supplies concepts from the terminology store.
type CorpusSource interface {
	ListActive(ctx context.Context, system string) ([]*vocabulary.CodeEntry, error)
	Lookup(ctx context.Context, code, system string) (*vocabulary.CodeEntry, error)
}

// Service wires generation, translation and curation together.
type Service struct {
	repo   Repository
	corpus CorpusSource
	jobs   *JobManager
	logger zerolog.Logger
}

func NewService(repo Repository, corpus CorpusSource, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		corpus: corpus,
		jobs:   NewJobManager(),
		logger: logger.With().Str("component", "mapping").Logger(),
	}
}

func (s *Service) loadCorpora(ctx context.Context, sourceSystem, targetSystem string) ([]*vocabulary.CodeEntry, []*vocabulary.CodeEntry, error) {
	source, err := s.corpus.ListActive(ctx, sourceSystem)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s corpus: %w", sourceSystem, err)
	}
	target, err := s.corpus.ListActive(ctx, targetSystem)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s corpus: %w", targetSystem, err)
	}
	return source, target, nil
}

// systemPair fills in the NAMASTE to ICD-11 TM2 defaults and rejects
// unknown or degenerate combinations.
func systemPair(sourceSystem, targetSystem string) (string, string, error) {
	if sourceSystem == "" {
		sourceSystem = vocabulary.SystemNAMASTE
	}
	if targetSystem == "" {
		targetSystem = vocabulary.SystemICD11TM2
	}
	if !vocabulary.KnownSystems[sourceSystem] {
		return "", "", fmt.Errorf("unknown source system %q", sourceSystem)
	}
	if !vocabulary.KnownSystems[targetSystem] {
		return "", "", fmt.Errorf("unknown target system %q", targetSystem)
	}
	if sourceSystem == targetSystem {
		return "", "", fmt.Errorf("source and target system are both %q", sourceSystem)
	}
	return sourceSystem, targetSystem, nil
}

// GenerateMappings runs one synchronous generation pass between two
// systems and persists the surviving candidates. Empty system tags
// default to NAMASTE and ICD-11 TM2.
func (s *Service) GenerateMappings(ctx context.Context, sourceSystem, targetSystem string, threshold float64) (*GenerateReport, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	sourceSystem, targetSystem, err := systemPair(sourceSystem, targetSystem)
	if err != nil {
		return nil, err
	}

	source, target, err := s.loadCorpora(ctx, sourceSystem, targetSystem)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 || len(target) == 0 {
		s.logger.Warn().
			Int("source_concepts", len(source)).
			Int("target_concepts", len(target)).
			Msg("empty corpus, nothing to generate")
	}

	candidates, err := Generate(source, target, threshold)
	if err != nil {
		return nil, err
	}

	report := &GenerateReport{
		SourceSystem:   sourceSystem,
		TargetSystem:   targetSystem,
		SourceConcepts: len(source),
		TargetConcepts: len(target),
		Candidates:     len(candidates),
		Threshold:      threshold,
	}
	if len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inserted, err := s.repo.InsertCandidates(ctx, candidates)
		if err != nil {
			return nil, err
		}
		report.Inserted = inserted
		report.Duplicates = len(candidates) - inserted
	}

	s.logger.Info().
		Str("source_system", sourceSystem).
		Str("target_system", targetSystem).
		Int("source_concepts", report.SourceConcepts).
		Int("target_concepts", report.TargetConcepts).
		Int("candidates", report.Candidates).
		Int("inserted", report.Inserted).
		Float64("threshold", threshold).
		Msg("mapping generation complete")
	return report, nil
}

// GenerateAsync queues a generation run in the background and returns
// the job immediately. Cancelling the job before candidates are written
// leaves the store untouched.
func (s *Service) GenerateAsync(sourceSystem, targetSystem string, threshold float64, actor string) (*Job, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	sourceSystem, targetSystem, err := systemPair(sourceSystem, targetSystem)
	if err != nil {
		return nil, err
	}

	job, ctx := s.jobs.Start(sourceSystem, targetSystem, threshold, actor)
	go func() {
		s.jobs.MarkRunning(job.ID)
		report, err := s.GenerateMappings(ctx, sourceSystem, targetSystem, threshold)
		if err != nil {
			if ctx.Err() != nil {
				return // cancelled, status already set
			}
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation job failed")
			s.jobs.Fail(job.ID, err)
			return
		}
		s.jobs.Complete(job.ID, report)
	}()
	return job, nil
}

func (s *Service) Job(id string) (*Job, error) { return s.jobs.Get(id) }
func (s *Service) Jobs() []*Job                { return s.jobs.List() }
func (s *Service) CancelJob(id string) error   { return s.jobs.Cancel(id) }

// Translate resolves every stored candidate from one source concept
// into one target system, best match first. Empty system tags default
// to NAMASTE and ICD-11 TM2. An unknown code reports
// vocabulary.ErrNotFound; a known code without candidates returns an
// empty match list. States are reported as stored, never filtered here.
func (s *Service) Translate(ctx context.Context, sourceCode, sourceSystem, targetSystem string) (*TranslationResult, error) {
	if sourceCode == "" {
		return nil, fmt.Errorf("source code is required")
	}
	sourceSystem, targetSystem, err := systemPair(sourceSystem, targetSystem)
	if err != nil {
		return nil, err
	}

	source, err := s.corpus.Lookup(ctx, sourceCode, sourceSystem)
	if err != nil {
		return nil, err
	}

	found, err := s.repo.FindBySource(ctx, sourceCode, sourceSystem, targetSystem)
	if err != nil {
		return nil, err
	}

	result := &TranslationResult{Source: source, Matches: []Match{}, Total: len(found)}
	for _, m := range found {
		result.Matches = append(result.Matches, Match{
			ID:            m.ID,
			TargetCode:    m.TargetCode,
			TargetDisplay: m.TargetDisplay,
			TargetSystem:  m.TargetSystem,
			Confidence:    m.Confidence,
			Equivalence:   m.Equivalence,
			Validation:    m.Validation,
		})
	}
	return result, nil
}

// SetValidation records a curator decision on one candidate. The latest
// decision always wins, whoever made the earlier one.
func (s *Service) SetValidation(ctx context.Context, id uuid.UUID, decision, equivalence, actor string) (*Correspondence, error) {
	if !KnownDecisions[decision] {
		return nil, fmt.Errorf("decision must be %q or %q", ValidationValidated, ValidationRejected)
	}
	if equivalence != "" && !KnownEquivalences[equivalence] {
		return nil, fmt.Errorf("unknown equivalence %q", equivalence)
	}
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	m, err := s.repo.SetValidation(ctx, id, decision, equivalence, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("mapping_id", id.String()).
		Str("decision", decision).
		Str("actor", actor).
		Msg("mapping validation recorded")
	return m, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Correspondence, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, validation string, limit, offset int) ([]*Correspondence, int, error) {
	if validation != "" && validation != ValidationUnvalidated && !KnownDecisions[validation] {
		return nil, 0, fmt.Errorf("unknown validation state %q", validation)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, validation, limit, offset)
}
