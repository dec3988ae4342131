package vocabulary

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/platform/cache"
)

// Service provides vocabulary ingestion, lookup and search.
type Service struct {
	repo     Repository
	cache    *cache.Cache
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewService creates a vocabulary service. cache may be nil, in which case
// lookups go straight to the repository.
func NewService(repo Repository, c *cache.Cache, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{repo: repo, cache: c, cacheTTL: cacheTTL, logger: logger}
}

func lookupKey(system, code string) string {
	return "vocab:" + system + ":" + code
}

// ImportCSV ingests NAMASTE codes from CSV. Expected columns: code, display,
// ayush_system (required); definition, category (optional). Rows with
// problems are skipped and counted; the batch never fails on a single row.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*IngestReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"code", "display", "ayush_system"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	report := &IngestReport{}
	var imported []string
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		entry := &CodeEntry{
			Code:        field(row, "code"),
			Display:     field(row, "display"),
			Definition:  field(row, "definition"),
			System:      SystemNAMASTE,
			AyushSystem: strings.ToLower(field(row, "ayush_system")),
			Category:    field(row, "category"),
			IsActive:    true,
		}
		if entry.Code == "" || entry.Display == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: code and display are required", line))
			continue
		}
		if !KnownAyushSystems[entry.AyushSystem] {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: unknown ayush_system %q", line, entry.AyushSystem))
			continue
		}

		switch err := s.repo.Put(ctx, entry); {
		case err == nil:
			report.Processed++
			imported = append(imported, entry.Code)
		case errors.Is(err, ErrDuplicate):
			report.Skipped++
		default:
			return report, fmt.Errorf("ingest line %d: %w", line, err)
		}
	}

	total, err := s.repo.Count(ctx, SystemNAMASTE)
	if err != nil {
		return report, err
	}
	report.Total = total

	s.invalidate(ctx, SystemNAMASTE, imported)

	s.logger.Info().
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", len(report.Errors)).
		Msg("NAMASTE CSV import complete")
	return report, nil
}

// Lookup returns one entry, memoized through the cache when available.
func (s *Service) Lookup(ctx context.Context, code, system string) (*CodeEntry, error) {
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if !KnownSystems[system] {
		return nil, fmt.Errorf("unknown system %q", system)
	}

	if s.cache != nil {
		var cached CodeEntry
		if err := s.cache.Get(ctx, lookupKey(system, code), &cached); err == nil {
			return &cached, nil
		}
	}

	entry, err := s.repo.GetByCode(ctx, code, system)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, lookupKey(system, code), entry, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("lookup memoization failed")
		}
	}
	return entry, nil
}

// Search runs a case-insensitive text search over display, code and
// definition.
func (s *Service) Search(ctx context.Context, query, system, ayushSystem string, limit, offset int) ([]*CodeEntry, int, error) {
	if strings.TrimSpace(query) == "" {
		return nil, 0, fmt.Errorf("query is required")
	}
	if system != "" && !KnownSystems[system] {
		return nil, 0, fmt.Errorf("unknown system %q", system)
	}
	if ayushSystem != "" && !KnownAyushSystems[strings.ToLower(ayushSystem)] {
		return nil, 0, fmt.Errorf("unknown ayush_system %q", ayushSystem)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Search(ctx, query, system, strings.ToLower(ayushSystem), limit, offset)
}

// ListActive exposes the active entries of a system for the mapping
// generator and the resource emitter.
func (s *Service) ListActive(ctx context.Context, system string) ([]*CodeEntry, error) {
	if !KnownSystems[system] {
		return nil, fmt.Errorf("unknown system %q", system)
	}
	return s.repo.ListActive(ctx, system)
}

// ReplaceSystem swaps a system's snapshot; used by the synchronizer.
// Lookups memoized before the swap are dropped, including codes the new
// snapshot no longer carries.
func (s *Service) ReplaceSystem(ctx context.Context, system string, entries []*CodeEntry) error {
	if !KnownSystems[system] {
		return fmt.Errorf("unknown system %q", system)
	}

	touched := make(map[string]bool, len(entries))
	if s.cache != nil {
		if prior, err := s.repo.ListActive(ctx, system); err == nil {
			for _, e := range prior {
				touched[e.Code] = true
			}
		}
	}

	if err := s.repo.ReplaceSystem(ctx, system, entries); err != nil {
		return err
	}

	for _, e := range entries {
		touched[e.Code] = true
	}
	codes := make([]string, 0, len(touched))
	for code := range touched {
		codes = append(codes, code)
	}
	s.invalidate(ctx, system, codes)
	return nil
}

// invalidate drops memoized lookups for changed codes. Best effort;
// untouched stale keys age out through the TTL.
func (s *Service) invalidate(ctx context.Context, system string, codes []string) {
	if s.cache == nil || len(codes) == 0 {
		return
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, lookupKey(system, code))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Str("system", system).Msg("lookup cache invalidation failed")
	}
}

// Count reports how many entries a system holds.
func (s *Service) Count(ctx context.Context, system string) (int, error) {
	return s.repo.Count(ctx, system)
}
