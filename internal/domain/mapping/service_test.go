package mapping

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
)

// =========== Mocks ===========

type mockCorpus struct {
	systems map[string][]*vocabulary.CodeEntry
}

func (m *mockCorpus) ListActive(_ context.Context, system string) ([]*vocabulary.CodeEntry, error) {
	return m.systems[system], nil
}

func (m *mockCorpus) Lookup(_ context.Context, code, system string) (*vocabulary.CodeEntry, error) {
	for _, e := range m.systems[system] {
		if e.Code == code {
			return e, nil
		}
	}
	return nil, vocabulary.ErrNotFound
}

type mockRepo struct {
	byPair map[string]*Correspondence // source_code|target_system|target_code
	byID   map[uuid.UUID]*Correspondence
}

func newMockMappingRepo() *mockRepo {
	return &mockRepo{
		byPair: make(map[string]*Correspondence),
		byID:   make(map[uuid.UUID]*Correspondence),
	}
}

func (m *mockRepo) InsertCandidates(_ context.Context, candidates []*Correspondence) (int, error) {
	inserted := 0
	for _, c := range candidates {
		key := c.SourceCode + "|" + c.TargetSystem + "|" + c.TargetCode
		if _, ok := m.byPair[key]; ok {
			continue
		}
		cp := *c
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.CreatedAt = time.Now().UTC()
		m.byPair[key] = &cp
		m.byID[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Correspondence, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockRepo) FindBySource(_ context.Context, sourceCode, sourceSystem, targetSystem string) ([]*Correspondence, error) {
	var out []*Correspondence
	for _, c := range m.byPair {
		if c.SourceCode == sourceCode && c.SourceSystem == sourceSystem && c.TargetSystem == targetSystem {
			out = append(out, c)
		}
	}
	// score descending, matching the store's ordering contract
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Confidence > out[i].Confidence {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *mockRepo) SetValidation(_ context.Context, id uuid.UUID, decision, equivalence, actor string) (*Correspondence, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Validation = decision
	if equivalence != "" {
		c.Equivalence = equivalence
	}
	c.ValidatedBy = actor
	c.ValidatedAt = time.Now().UTC()
	return c, nil
}

func (m *mockRepo) List(_ context.Context, validation string, limit, offset int) ([]*Correspondence, int, error) {
	var out []*Correspondence
	for _, c := range m.byPair {
		if validation != "" && c.Validation != validation {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func newTestMappingService(repo Repository) *Service {
	corpus := &mockCorpus{systems: map[string][]*vocabulary.CodeEntry{
		vocabulary.SystemNAMASTE:  namasteCorpus(),
		vocabulary.SystemICD11TM2: tm2Corpus(),
	}}
	return NewService(repo, corpus, zerolog.Nop())
}

// =========== Generation ===========

func TestGenerateMappingsPersistsAndCounts(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)

	report, err := svc.GenerateMappings(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("GenerateMappings: %v", err)
	}
	if report.Threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want default %v", report.Threshold, DefaultThreshold)
	}
	if report.SourceConcepts != 3 || report.TargetConcepts != 3 {
		t.Errorf("corpus sizes wrong: %+v", report)
	}
	if report.Candidates == 0 || report.Inserted != report.Candidates {
		t.Errorf("first run must insert every candidate: %+v", report)
	}

	// A second run only finds duplicates.
	again, err := svc.GenerateMappings(context.Background(), "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Inserted != 0 || again.Duplicates != again.Candidates {
		t.Errorf("re-run must insert nothing: %+v", again)
	}
}

func TestGenerateMappingsKeepsDecisionsAcrossRuns(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)

	if _, err := svc.GenerateMappings(context.Background(), "", "", 0); err != nil {
		t.Fatal(err)
	}
	found, _ := repo.FindBySource(context.Background(), "AYU-001", vocabulary.SystemNAMASTE, vocabulary.SystemICD11TM2)
	if len(found) == 0 {
		t.Fatal("no candidates for AYU-001")
	}
	if _, err := svc.SetValidation(context.Background(), found[0].ID, ValidationValidated, "", "curator-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GenerateMappings(context.Background(), "", "", 0); err != nil {
		t.Fatal(err)
	}
	kept, _ := repo.GetByID(context.Background(), found[0].ID)
	if kept.Validation != ValidationValidated || kept.ValidatedBy != "curator-1" {
		t.Errorf("re-run clobbered curation: %+v", kept)
	}
}

// =========== Jobs ===========

func TestGenerateAsyncCompletes(t *testing.T) {
	svc := newTestMappingService(newMockMappingRepo())

	job, err := svc.GenerateAsync("", "", 0.3, "admin")
	if err != nil {
		t.Fatalf("GenerateAsync: %v", err)
	}
	if job.Status != JobQueued {
		t.Errorf("initial status = %s, want %s", job.Status, JobQueued)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		cur, err := svc.Job(job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cur.Status == JobCompleted {
			if cur.Report == nil || cur.Report.Candidates == 0 {
				t.Fatalf("completed job has no report: %+v", cur)
			}
			return
		}
		if cur.Status == JobFailed {
			t.Fatalf("job failed: %s", cur.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", cur.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc := newTestMappingService(newMockMappingRepo())
	if err := svc.CancelJob("nope"); err == nil {
		t.Fatal("expected error cancelling unknown job")
	}
}

// blockingCorpus parks ListActive until the run's context is cancelled,
// so a test can cancel a job while it is still loading.
type blockingCorpus struct {
	inner   *mockCorpus
	started chan struct{}
	once    sync.Once
}

func (b *blockingCorpus) ListActive(ctx context.Context, system string) ([]*vocabulary.CodeEntry, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return b.inner.ListActive(ctx, system)
}

func (b *blockingCorpus) Lookup(ctx context.Context, code, system string) (*vocabulary.CodeEntry, error) {
	return b.inner.Lookup(ctx, code, system)
}

type countingRepo struct {
	*mockRepo
	inserts int32
}

func (r *countingRepo) InsertCandidates(ctx context.Context, cs []*Correspondence) (int, error) {
	atomic.AddInt32(&r.inserts, 1)
	return r.mockRepo.InsertCandidates(ctx, cs)
}

func TestCancelBeforePersistDiscardsResults(t *testing.T) {
	repo := &countingRepo{mockRepo: newMockMappingRepo()}
	corpus := &blockingCorpus{
		inner: &mockCorpus{systems: map[string][]*vocabulary.CodeEntry{
			vocabulary.SystemNAMASTE:  namasteCorpus(),
			vocabulary.SystemICD11TM2: tm2Corpus(),
		}},
		started: make(chan struct{}),
	}
	svc := NewService(repo, corpus, zerolog.Nop())

	job, err := svc.GenerateAsync("", "", 0.3, "admin")
	if err != nil {
		t.Fatalf("GenerateAsync: %v", err)
	}

	<-corpus.started
	if err := svc.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	// The run resumes once cancelled; give it time to reach the persistence
	// gate before checking nothing was written.
	time.Sleep(100 * time.Millisecond)

	cur, err := svc.Job(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != JobCancelled {
		t.Errorf("status = %s, want %s", cur.Status, JobCancelled)
	}
	if n := atomic.LoadInt32(&repo.inserts); n != 0 {
		t.Errorf("insert called %d times after cancel, want 0", n)
	}
	if len(repo.byPair) != 0 {
		t.Errorf("store not empty after cancelled run: %d rows", len(repo.byPair))
	}
}

func TestFinishedJobsEvicted(t *testing.T) {
	m := NewJobManager()
	m.maxFinished = 2

	var ids []string
	for i := 0; i < 3; i++ {
		job, _ := m.Start("", "", 0.3, "tester")
		m.Complete(job.ID, &GenerateReport{})
		ids = append(ids, job.ID)
	}

	if _, err := m.Get(ids[0]); err == nil {
		t.Error("oldest finished job must be evicted")
	}
	if _, err := m.Get(ids[2]); err != nil {
		t.Errorf("newest job evicted: %v", err)
	}
	if got := len(m.List()); got != 2 {
		t.Errorf("jobs retained = %d, want 2", got)
	}
}

// =========== Translation ===========

func TestTranslateRanksMatches(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)
	if _, err := svc.GenerateMappings(context.Background(), "", "", 0.1); err != nil {
		t.Fatal(err)
	}

	result, err := svc.Translate(context.Background(), "AYU-001", "", "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if result.Source == nil || result.Source.Code != "AYU-001" {
		t.Fatalf("unexpected source: %+v", result.Source)
	}
	if result.Total != len(result.Matches) || len(result.Matches) == 0 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	for i := 1; i < len(result.Matches); i++ {
		if result.Matches[i].Confidence > result.Matches[i-1].Confidence {
			t.Fatalf("matches not ranked: %v", result.Matches)
		}
	}
	if result.Matches[0].TargetCode != "TM2-A01" {
		t.Errorf("best match = %s, want TM2-A01", result.Matches[0].TargetCode)
	}
}

func TestTranslateFiltersByTargetSystem(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)

	seed := []*Correspondence{
		{
			SourceCode: "AYU-001", SourceSystem: vocabulary.SystemNAMASTE,
			TargetCode: "TM2-A01", TargetSystem: vocabulary.SystemICD11TM2,
			Confidence: 0.8, Equivalence: EquivalenceEquivalent, Validation: ValidationUnvalidated,
		},
		{
			SourceCode: "AYU-001", SourceSystem: vocabulary.SystemNAMASTE,
			TargetCode: "FA20.0", TargetSystem: vocabulary.SystemICD11Bio,
			Confidence: 0.6, Equivalence: EquivalenceWider, Validation: ValidationUnvalidated,
		},
	}
	if _, err := repo.InsertCandidates(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	tm2, err := svc.Translate(context.Background(), "AYU-001", "", vocabulary.SystemICD11TM2)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(tm2.Matches) != 1 || tm2.Matches[0].TargetSystem != vocabulary.SystemICD11TM2 {
		t.Fatalf("tm2 matches = %+v, want the single TM2 row", tm2.Matches)
	}

	bio, err := svc.Translate(context.Background(), "AYU-001", "", vocabulary.SystemICD11Bio)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(bio.Matches) != 1 || bio.Matches[0].TargetCode != "FA20.0" {
		t.Fatalf("biomedicine matches = %+v, want the single FA20.0 row", bio.Matches)
	}

	if _, err := svc.Translate(context.Background(), "AYU-001", "", "icd9"); err == nil {
		t.Error("unknown target system accepted")
	}
	if _, err := svc.Translate(context.Background(), "AYU-001", vocabulary.SystemNAMASTE, vocabulary.SystemNAMASTE); err == nil {
		t.Error("identical source and target systems accepted")
	}
}

func TestTranslateReportsRejectedUnfiltered(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)
	if _, err := svc.GenerateMappings(context.Background(), "", "", 0.1); err != nil {
		t.Fatal(err)
	}

	found, _ := repo.FindBySource(context.Background(), "AYU-003", vocabulary.SystemNAMASTE, vocabulary.SystemICD11TM2)
	for _, m := range found {
		if _, err := svc.SetValidation(context.Background(), m.ID, ValidationRejected, "", "curator-1"); err != nil {
			t.Fatal(err)
		}
	}

	result, err := svc.Translate(context.Background(), "AYU-003", "", "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(result.Matches) != len(found) {
		t.Fatalf("matches = %d, want all %d regardless of state", len(result.Matches), len(found))
	}
	for _, m := range result.Matches {
		if m.Validation != ValidationRejected {
			t.Errorf("unexpected validation %s", m.Validation)
		}
	}
}

func TestTranslateUnknownCode(t *testing.T) {
	svc := newTestMappingService(newMockMappingRepo())
	if _, err := svc.Translate(context.Background(), "NOPE", "", ""); err != vocabulary.ErrNotFound {
		t.Fatalf("err = %v, want vocabulary.ErrNotFound", err)
	}
}

func TestTranslateUnmappedCodeEmptyMatches(t *testing.T) {
	svc := newTestMappingService(newMockMappingRepo())
	result, err := svc.Translate(context.Background(), "AYU-001", "", "")
	if err != nil {
		t.Fatalf("known code without candidates must not error: %v", err)
	}
	if result.Total != 0 || len(result.Matches) != 0 {
		t.Fatalf("expected empty matches: %+v", result)
	}
}

// =========== Curation ===========

func TestSetValidationLatestWins(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)
	if _, err := svc.GenerateMappings(context.Background(), "", "", 0.1); err != nil {
		t.Fatal(err)
	}
	found, _ := repo.FindBySource(context.Background(), "AYU-002", vocabulary.SystemNAMASTE, vocabulary.SystemICD11TM2)
	id := found[0].ID

	if _, err := svc.SetValidation(context.Background(), id, ValidationValidated, "", "alice"); err != nil {
		t.Fatal(err)
	}
	m, err := svc.SetValidation(context.Background(), id, ValidationRejected, "", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if m.Validation != ValidationRejected || m.ValidatedBy != "bob" {
		t.Errorf("latest decision must win: %+v", m)
	}
}

func TestSetValidationCuratorEquivalenceOverride(t *testing.T) {
	repo := newMockMappingRepo()
	svc := newTestMappingService(repo)
	if _, err := svc.GenerateMappings(context.Background(), "", "", 0.1); err != nil {
		t.Fatal(err)
	}
	found, _ := repo.FindBySource(context.Background(), "AYU-002", vocabulary.SystemNAMASTE, vocabulary.SystemICD11TM2)

	m, err := svc.SetValidation(context.Background(), found[0].ID, ValidationValidated, EquivalenceNarrower, "curator-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Equivalence != EquivalenceNarrower {
		t.Errorf("equivalence = %s, want curator override %s", m.Equivalence, EquivalenceNarrower)
	}
}

func TestSetValidationRejectsBadInput(t *testing.T) {
	svc := newTestMappingService(newMockMappingRepo())
	id := uuid.New()

	if _, err := svc.SetValidation(context.Background(), id, "approved", "", "alice"); err == nil {
		t.Error("bad decision accepted")
	}
	if _, err := svc.SetValidation(context.Background(), id, ValidationValidated, "SIMILAR", "alice"); err == nil {
		t.Error("bad equivalence accepted")
	}
	if _, err := svc.SetValidation(context.Background(), id, ValidationValidated, "", ""); err == nil {
		t.Error("missing actor accepted")
	}
	if _, err := svc.SetValidation(context.Background(), id, ValidationValidated, "", "alice"); err != ErrNotFound {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
}
