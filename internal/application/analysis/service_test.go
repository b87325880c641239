package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/bimwatch/internal/application/comparison"
	"github.com/bryanwahyu/bimwatch/internal/application/matching"
	"github.com/bryanwahyu/bimwatch/internal/application/progress"
	"github.com/bryanwahyu/bimwatch/internal/application/retrieval"
	"github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	domain "github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

// --- fakes ---

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeAI struct {
	embedding   []float32
	embedErr    error
	description string
	descErr     error
}

func (f *fakeAI) EmbedImage(context.Context, []byte) ([]float32, error) {
	return f.embedding, f.embedErr
}

func (f *fakeAI) EmbedText(context.Context, string) ([]float32, error) {
	return f.embedding, f.embedErr
}

func (f *fakeAI) Describe(context.Context, []byte, []string, string) (string, error) {
	return f.description, f.descErr
}

func (f *fakeAI) Summarize(context.Context, string) (string, error) {
	return "", nil
}

type fakeCatalogStore struct {
	descriptors []catalog.Descriptor
	matches     []catalog.Match
	getAllErr   error
	queryErr    error
}

func (f *fakeCatalogStore) QueryNearest(context.Context, string, []float32, int) ([]catalog.Match, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches, nil
}

func (f *fakeCatalogStore) GetAll(context.Context, string) ([]catalog.Descriptor, error) {
	if f.getAllErr != nil {
		return nil, f.getAllErr
	}
	return f.descriptors, nil
}

type fakeRecordStore struct {
	byID   map[string]*domain.Analysis
	stored []*domain.Analysis
	alerts []alerts.Alert
	putErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{byID: make(map[string]*domain.Analysis)}
}

func (f *fakeRecordStore) Put(_ context.Context, rec *domain.Analysis, alertList []alerts.Alert) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.stored = append(f.stored, rec)
	f.alerts = append(f.alerts, alertList...)
	f.byID[rec.ID] = rec
	return nil
}

func (f *fakeRecordStore) Get(_ context.Context, _ string, id string) (*domain.Analysis, error) {
	return f.byID[id], nil
}

func (f *fakeRecordStore) GetLatest(_ context.Context, projectID string, before time.Time) (*domain.Analysis, error) {
	var best *domain.Analysis
	for _, r := range f.stored {
		if r.ProjectID != projectID || !r.AnalyzedAt.Before(before) {
			continue
		}
		if best == nil || r.AnalyzedAt.After(best.AnalyzedAt) {
			best = r
		}
	}
	return best, nil
}

func (f *fakeRecordStore) List(_ context.Context, projectID string, limit int) ([]*domain.Analysis, error) {
	var out []*domain.Analysis
	for i := len(f.stored) - 1; i >= 0 && len(out) < limit; i-- {
		if f.stored[i].ProjectID == projectID {
			out = append(out, f.stored[i])
		}
	}
	return out, nil
}

type fakeImageIndex struct {
	indexed  []catalog.ImageDocument
	deleted  []string
	indexErr error
}

func (f *fakeImageIndex) IndexImage(_ context.Context, doc catalog.ImageDocument) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, doc)
	return nil
}

func (f *fakeImageIndex) DeleteImage(_ context.Context, analysisID string) error {
	f.deleted = append(f.deleted, analysisID)
	return nil
}

// --- fixture ---

var siteCatalog = []catalog.Descriptor{
	{ElementID: "c1", ProjectID: "p1", Type: catalog.TypeColumn, Name: "column c1"},
	{ElementID: "s1", ProjectID: "p1", Type: catalog.TypeSlab, Name: "slab s1"},
	{ElementID: "w1", ProjectID: "p1", Type: catalog.TypeWall, Name: "wall w1"},
	{ElementID: "w2", ProjectID: "p1", Type: catalog.TypeWall, Name: "wall w2"},
}

func matcherConfig() matching.Config {
	return matching.Config{
		SimilarityThreshold: 0.5,
		FuzzyThreshold:      0.8,
		Synonyms: map[catalog.ElementType][]string{
			catalog.TypeWall:   {"wall"},
			catalog.TypeColumn: {"column"},
			catalog.TypeSlab:   {"slab"},
		},
	}
}

func newService(ai *fakeAI, cat *fakeCatalogStore, records *fakeRecordStore, images *fakeImageIndex, at time.Time) *Service {
	svc := &Service{
		Embedder:   ai,
		Describer:  ai,
		Retrieval:  &retrieval.Service{Catalog: cat},
		Matcher:    matching.New(matcherConfig(), nil),
		Progress:   &progress.Calculator{Scope: progress.ScopeCatalog},
		Comparison: &comparison.Engine{Records: records},
		Catalog:    cat,
		Records:    records,
		Clock:      fixedClock{t: at},
	}
	if images != nil {
		svc.Images = images
	}
	return svc
}

func vectorMatch(i int, sim float64) catalog.Match {
	return catalog.Match{Descriptor: siteCatalog[i], Similarity: sim}
}

var day1 = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

func TestAnalyzeFullPipeline(t *testing.T) {
	t.Parallel()
	records := newFakeRecordStore()
	images := &fakeImageIndex{}

	// Day 1: w1 retrieved at 0.9, c1 at 0.6. Description mentions neither
	// keyword, so the vector path alone decides.
	cat := &fakeCatalogStore{
		descriptors: siteCatalog,
		matches:     []catalog.Match{vectorMatch(2, 0.9), vectorMatch(0, 0.6)},
	}
	svc := newService(&fakeAI{
		embedding:   []float32{0.1, 0.2},
		description: "concrete frame rising",
	}, cat, records, images, day1)

	res, err := svc.Analyze(context.Background(), Request{
		ProjectID: "p1",
		ImageKey:  "projects/p1/images/a.jpg",
		Image:     []byte("jpegdata"),
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, pipeline.StateCompleted, res.State)
	rec := res.Analysis
	require.Len(t, rec.DetectedElements, 2)
	assert.Equal(t, catalog.ElementID("w1"), rec.DetectedElements[0].ElementID)
	assert.Equal(t, domain.StatusCompleted, rec.DetectedElements[0].Status)
	assert.Equal(t, domain.StatusInProgress, rec.DetectedElements[1].Status)
	assert.InDelta(t, 37.5, rec.OverallProgress, 1e-9)
	assert.Nil(t, rec.Comparison, "first analysis has no comparison")
	assert.Equal(t, day1, rec.AnalyzedAt)

	// Missing-element alerts for s1 and w2.
	require.Len(t, res.Alerts, 2)
	assert.Len(t, rec.Alerts, 2)
	for _, a := range res.Alerts {
		assert.Equal(t, alerts.TypeMissingElement, a.Type)
		assert.Equal(t, rec.ID, a.AnalysisID)
	}

	// Record, alerts and image document all landed.
	require.Len(t, records.stored, 1)
	assert.Len(t, records.alerts, 2)
	require.Len(t, images.indexed, 1)
	assert.Equal(t, rec.ID, images.indexed[0].AnalysisID)
	assert.Empty(t, images.deleted)
}

func TestAnalyzeSecondShotComparison(t *testing.T) {
	t.Parallel()
	records := newFakeRecordStore()

	cat := &fakeCatalogStore{
		descriptors: siteCatalog,
		matches:     []catalog.Match{vectorMatch(2, 0.9), vectorMatch(0, 0.6)},
	}
	svc := newService(&fakeAI{embedding: []float32{0.1}, description: "frame"}, cat, records, nil, day1)

	_, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k1", Image: []byte("x")})
	require.NoError(t, err)

	// Day 2: w1, w2 and c1 all read as completed.
	cat.matches = []catalog.Match{vectorMatch(2, 0.9), vectorMatch(3, 0.88), vectorMatch(0, 0.91)}
	svc.Clock = fixedClock{t: day1.Add(24 * time.Hour)}

	res, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k2", Image: []byte("y")})
	require.NoError(t, err)

	rec := res.Analysis
	assert.InDelta(t, 75.0, rec.OverallProgress, 1e-9)
	comp := rec.Comparison
	require.NotNil(t, comp)
	assert.Equal(t, records.stored[0].ID, comp.PreviousAnalysisID)
	assert.InDelta(t, 37.5, comp.ProgressChange, 1e-9)
	require.Len(t, comp.ElementsAdded, 1)
	assert.Equal(t, catalog.ElementID("w2"), comp.ElementsAdded[0].ElementID)
	require.Len(t, comp.ElementsChanged, 1)
	assert.Equal(t, catalog.ElementID("c1"), comp.ElementsChanged[0].ElementID)
	assert.Empty(t, comp.ElementsRemoved)
}

func TestAnalyzeValidatesInput(t *testing.T) {
	t.Parallel()
	svc := newService(&fakeAI{}, &fakeCatalogStore{descriptors: siteCatalog}, newFakeRecordStore(), nil, day1)

	_, err := svc.Analyze(context.Background(), Request{ImageKey: "k", Image: []byte("x")})
	assertFailedAt(t, err, pipeline.StateReceived, pipeline.ErrInvalidInput)

	_, err = svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k"})
	assertFailedAt(t, err, pipeline.StateReceived, pipeline.ErrInvalidInput)
}

func TestAnalyzeFailureStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(ai *fakeAI, cat *fakeCatalogStore, records *fakeRecordStore)
		wantState pipeline.State
		wantErr   error
	}{
		{
			name:      "embedding failure",
			mutate:    func(ai *fakeAI, _ *fakeCatalogStore, _ *fakeRecordStore) { ai.embedErr = errors.New("429") },
			wantState: pipeline.StateReceived,
			wantErr:   pipeline.ErrDescriptionFailed,
		},
		{
			name:      "retrieval failure",
			mutate:    func(_ *fakeAI, cat *fakeCatalogStore, _ *fakeRecordStore) { cat.queryErr = errors.New("red") },
			wantState: pipeline.StateEmbeddingGenerated,
			wantErr:   pipeline.ErrRetrievalUnavailable,
		},
		{
			name:      "description failure",
			mutate:    func(ai *fakeAI, _ *fakeCatalogStore, _ *fakeRecordStore) { ai.descErr = errors.New("down") },
			wantState: pipeline.StateContextRetrieved,
			wantErr:   pipeline.ErrDescriptionFailed,
		},
		{
			name:      "catalog fetch failure",
			mutate:    func(_ *fakeAI, cat *fakeCatalogStore, _ *fakeRecordStore) { cat.getAllErr = errors.New("red") },
			wantState: pipeline.StateDescribed,
			wantErr:   pipeline.ErrRetrievalUnavailable,
		},
		{
			name:      "empty catalog",
			mutate:    func(_ *fakeAI, cat *fakeCatalogStore, _ *fakeRecordStore) { cat.descriptors = nil },
			wantState: pipeline.StateDescribed,
			wantErr:   pipeline.ErrInvalidInput,
		},
		{
			name:      "persistence failure",
			mutate:    func(_ *fakeAI, _ *fakeCatalogStore, r *fakeRecordStore) { r.putErr = errors.New("tx abort") },
			wantState: pipeline.StateCompared,
			wantErr:   pipeline.ErrPersistenceFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			records := newFakeRecordStore()
			ai := &fakeAI{embedding: []float32{0.1}, description: "frame"}
			cat := &fakeCatalogStore{
				descriptors: siteCatalog,
				matches:     []catalog.Match{vectorMatch(2, 0.9)},
			}
			tt.mutate(ai, cat, records)
			svc := newService(ai, cat, records, nil, day1)

			_, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k", Image: []byte("x")})
			assertFailedAt(t, err, tt.wantState, tt.wantErr)
			assert.Empty(t, records.stored, "nothing persists after a failure")
		})
	}
}

func TestAnalyzeCompensatesImageIndexOnCommitFailure(t *testing.T) {
	t.Parallel()
	records := newFakeRecordStore()
	records.putErr = errors.New("tx abort")
	images := &fakeImageIndex{}
	cat := &fakeCatalogStore{
		descriptors: siteCatalog,
		matches:     []catalog.Match{vectorMatch(2, 0.9)},
	}
	svc := newService(&fakeAI{embedding: []float32{0.1}, description: "frame"}, cat, records, images, day1)

	_, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k", Image: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrPersistenceFailed)

	// The image document written before the failed commit is rolled back.
	require.Len(t, images.indexed, 1)
	require.Len(t, images.deleted, 1)
	assert.Equal(t, images.indexed[0].AnalysisID, images.deleted[0])
}

func TestCompareSideBySide(t *testing.T) {
	t.Parallel()
	records := newFakeRecordStore()
	cat := &fakeCatalogStore{
		descriptors: siteCatalog,
		matches:     []catalog.Match{vectorMatch(2, 0.9)},
	}
	svc := newService(&fakeAI{embedding: []float32{0.1}, description: "frame"}, cat, records, nil, day1)

	_, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k1", Image: []byte("x")})
	require.NoError(t, err)
	svc.Clock = fixedClock{t: day1.Add(24 * time.Hour)}
	cat.matches = []catalog.Match{vectorMatch(2, 0.9), vectorMatch(0, 0.91)}
	_, err = svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k2", Image: []byte("y")})
	require.NoError(t, err)

	out, err := svc.CompareSideBySide(context.Background(), "p1",
		[]string{records.stored[1].ID, records.stored[0].ID})
	require.NoError(t, err)
	require.Len(t, out.Analyses, 2)
	assert.Equal(t, records.stored[0].ID, out.Analyses[0].AnalysisID)
	require.Len(t, out.Differences, 1)
	assert.InDelta(t, out.Analyses[1].OverallProgress-out.Analyses[0].OverallProgress,
		out.Differences[0].ProgressChange, 1e-9)
}

func TestCompareSideBySideValidatesInput(t *testing.T) {
	t.Parallel()
	svc := newService(&fakeAI{}, &fakeCatalogStore{}, newFakeRecordStore(), nil, day1)

	_, err := svc.CompareSideBySide(context.Background(), "", []string{"a"})
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)

	_, err = svc.CompareSideBySide(context.Background(), "p1", nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
}

func TestGetAnalysisNotFound(t *testing.T) {
	t.Parallel()
	svc := newService(&fakeAI{}, &fakeCatalogStore{}, newFakeRecordStore(), nil, day1)

	_, err := svc.GetAnalysis(context.Background(), "p1", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	t.Parallel()
	records := newFakeRecordStore()
	cat := &fakeCatalogStore{
		descriptors: siteCatalog,
		matches:     []catalog.Match{vectorMatch(2, 0.9)},
	}
	svc := newService(&fakeAI{embedding: []float32{0.1}, description: "frame"}, cat, records, nil, day1)

	for i := 0; i < 3; i++ {
		svc.Clock = fixedClock{t: day1.Add(time.Duration(i) * time.Hour)}
		_, err := svc.Analyze(context.Background(), Request{ProjectID: "p1", ImageKey: "k", Image: []byte("x")})
		require.NoError(t, err)
	}

	list, err := svc.History(context.Background(), "p1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].AnalyzedAt.After(list[1].AnalyzedAt))
}

func assertFailedAt(t *testing.T, err error, state pipeline.State, cause error) {
	t.Helper()
	require.Error(t, err)
	var step *pipeline.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, state, step.State)
	assert.ErrorIs(t, err, cause)
}
