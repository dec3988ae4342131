package icd11

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

// SnapshotStore replaces a system's local snapshot atomically.
type SnapshotStore interface {
	ReplaceSystem(ctx context.Context, system string, entries []*vocabulary.CodeEntry) error
}

// SyncReport summarizes one crawl.
type SyncReport struct {
	System       string        `json:"system"`
	CodesFetched int           `json:"codes_fetched"`
	Skipped      int           `json:"skipped"`
	Duration     time.Duration `json:"duration_ms"`
	StartedAt    time.Time     `json:"started_at"`
}

// Service crawls the WHO linearization and refreshes the local snapshot.
type Service struct {
	client  *Client
	store   SnapshotStore
	workers int
	logger  zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewService(client *Client, store SnapshotStore, workers int, logger zerolog.Logger) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		client:   client,
		store:    store,
		workers:  workers,
		logger:   logger.With().Str("component", "icd11-sync").Logger(),
		inFlight: make(map[string]bool),
	}
}

func (s *Service) acquire(system string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[system] {
		return ErrSyncInFlight
	}
	s.inFlight[system] = true
	return nil
}

func (s *Service) release(system string) {
	s.mu.Lock()
	delete(s.inFlight, system)
	s.mu.Unlock()
}

// Sync crawls the TM2 subtree breadth-first from the configured root
// and replaces the local snapshot in one transaction. A failed child
// fetch skips that subtree and counts it; only a failed root aborts the
// whole run. At most one sync per system runs at a time.
func (s *Service) Sync(ctx context.Context) (*SyncReport, error) {
	system := vocabulary.SystemICD11TM2
	if err := s.acquire(system); err != nil {
		return nil, err
	}
	defer s.release(system)

	started := time.Now().UTC()
	root, err := s.client.FetchEntity(ctx, s.client.cfg.RootEntity)
	if err != nil {
		return nil, fmt.Errorf("fetch root entity: %w", err)
	}

	entities, skipped := s.crawl(ctx, root)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]*vocabulary.CodeEntry, 0, len(entities))
	for _, e := range entities {
		if e.Code == "" {
			continue // grouping nodes carry no code
		}
		entries = append(entries, &vocabulary.CodeEntry{
			Code:       e.Code,
			Display:    e.Title,
			Definition: e.Definition,
			System:     system,
			Properties: map[string]string{"who_entity_id": e.ID},
			IsActive:   true,
		})
	}

	if err := s.store.ReplaceSystem(ctx, system, entries); err != nil {
		return nil, fmt.Errorf("replace %s snapshot: %w", system, err)
	}

	report := &SyncReport{
		System:       system,
		CodesFetched: len(entries),
		Skipped:      skipped,
		Duration:     time.Since(started),
		StartedAt:    started,
	}
	s.logger.Info().
		Int("codes_fetched", report.CodesFetched).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("ICD-11 TM2 sync complete")
	return report, nil
}

// crawl walks the subtree under root with a fixed pool of workers
// draining an explicit frontier queue. Each entity is visited once; a
// fetch failure drops that node and its unseen descendants. pending
// counts ids that are queued or in flight, so workers exit only when
// the whole frontier is exhausted.
func (s *Service) crawl(ctx context.Context, root *Entity) ([]*Entity, int) {
	var (
		mu       sync.Mutex
		cond     = sync.NewCond(&mu)
		queue    []string
		pending  int
		visited  = map[string]bool{root.ID: true}
		entities = []*Entity{root}
		skipped  int
	)

	for _, child := range root.Children {
		if !visited[child] {
			visited[child] = true
			queue = append(queue, child)
			pending++
		}
	}

	worker := func() {
		for {
			mu.Lock()
			for len(queue) == 0 && pending > 0 {
				cond.Wait()
			}
			if len(queue) == 0 {
				mu.Unlock()
				return
			}
			id := queue[0]
			queue = queue[1:]
			mu.Unlock()

			e, err := s.client.FetchEntity(ctx, id)

			mu.Lock()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Str("entity_id", id).Msg("skipping entity")
				}
				skipped++
			} else {
				entities = append(entities, e)
				for _, child := range e.Children {
					if !visited[child] {
						visited[child] = true
						queue = append(queue, child)
						pending++
					}
				}
			}
			pending--
			cond.Broadcast()
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker()
		}()
	}
	wg.Wait()

	return entities, skipped
}
