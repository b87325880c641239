package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/bimwatch/internal/application/comparison"
	"github.com/bryanwahyu/bimwatch/internal/application/matching"
	"github.com/bryanwahyu/bimwatch/internal/application/progress"
	"github.com/bryanwahyu/bimwatch/internal/application/retrieval"
	"github.com/bryanwahyu/bimwatch/internal/domain/ai"
	"github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	domain "github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

// Clock abstraction supaya gampang ditest
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Service sequences one atomic analysis attempt:
// embed -> retrieve -> describe -> match -> score -> compare -> persist.
// Attempts for different images or projects run concurrently; each attempt
// owns its working data and concurrent writes to one project are resolved
// by analyzed_at ordering, not by locking.
type Service struct {
	Embedder   ai.EmbeddingProvider
	Describer  ai.Describer
	Retrieval  *retrieval.Service
	Matcher    *matching.Matcher
	Progress   *progress.Calculator
	Comparison *comparison.Engine
	Catalog    catalog.Store
	Records    domain.RecordStore
	Images     catalog.ImageIndex // optional
	Clock      Clock
}

// Request is one analysis attempt.
type Request struct {
	ProjectID string
	ImageKey  string
	Image     []byte
	Context   string // optional caller-provided context, e.g. "facade, east side"
}

// Result carries the finalized record plus its structured alerts.
type Result struct {
	Analysis *domain.Analysis
	Alerts   []alerts.Alert
	State    pipeline.State
}

type catalogResult struct {
	descriptors []catalog.Descriptor
	err         error
}

// Analyze runs the full pipeline. Either all of record, alerts and image
// index update are written, or none are; a failure surfaces immediately
// with a typed cause and no retries.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	state := pipeline.StateReceived
	if req.ProjectID == "" {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: empty project id", pipeline.ErrInvalidInput))
	}
	if len(req.Image) == 0 {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: empty image", pipeline.ErrInvalidInput))
	}

	now := s.Clock.Now()
	id := uuid.New().String()

	// The full catalog has no dependency on the embedding or description
	// steps, so it is fetched concurrently.
	catCh := make(chan catalogResult, 1)
	go func() {
		descriptors, err := s.Catalog.GetAll(ctx, req.ProjectID)
		catCh <- catalogResult{descriptors: descriptors, err: err}
	}()

	embedding, err := s.Embedder.EmbedImage(ctx, req.Image)
	if err != nil {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: image embedding: %v", pipeline.ErrDescriptionFailed, err))
	}
	state = pipeline.StateEmbeddingGenerated

	retrieved, err := s.Retrieval.Retrieve(ctx, req.ProjectID, embedding, 0)
	if err != nil {
		return nil, pipeline.Fail(state, err)
	}
	state = pipeline.StateContextRetrieved

	description, err := s.Describer.Describe(ctx, req.Image, contextLines(retrieved), req.Context)
	if err != nil {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: %v", pipeline.ErrDescriptionFailed, err))
	}
	state = pipeline.StateDescribed

	cat := <-catCh
	if cat.err != nil {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: catalog fetch: %v", pipeline.ErrRetrievalUnavailable, cat.err))
	}
	if len(cat.descriptors) == 0 {
		return nil, pipeline.Fail(state, fmt.Errorf("%w: project %s has an empty catalog", pipeline.ErrInvalidInput, req.ProjectID))
	}

	detected, err := s.Matcher.Match(ctx, description, retrieved, cat.descriptors)
	if err != nil {
		return nil, pipeline.Fail(state, err)
	}
	state = pipeline.StateMatched

	rec := &domain.Analysis{
		ID:               id,
		ProjectID:        req.ProjectID,
		ImageKey:         req.ImageKey,
		DetectedElements: detected,
		OverallProgress:  s.Progress.Overall(detected, cat.descriptors),
		Summary:          description,
		AnalyzedAt:       now,
	}
	alertList := s.Progress.Alerts(req.ProjectID, id, detected, cat.descriptors, now)
	rec.Alerts = alertTitles(alertList)
	state = pipeline.StateScoredAndAlerted

	comp, err := s.Comparison.Compare(ctx, rec)
	if err != nil {
		return nil, pipeline.Fail(state, err)
	}
	rec.Comparison = comp
	state = pipeline.StateCompared

	if err := s.persist(ctx, rec, alertList, embedding); err != nil {
		return nil, pipeline.Fail(state, err)
	}
	state = pipeline.StatePersisted

	s.Comparison.Invalidate(req.ProjectID)
	state = pipeline.StateCompleted

	return &Result{Analysis: rec, Alerts: alertList, State: state}, nil
}

// persist writes the image index document and the record+alerts commit.
// The index write is compensated when the commit fails so no partial state
// survives a failed attempt.
func (s *Service) persist(ctx context.Context, rec *domain.Analysis, alertList []alerts.Alert, embedding []float32) error {
	if s.Images != nil {
		doc := catalog.ImageDocument{
			AnalysisID: rec.ID,
			ProjectID:  rec.ProjectID,
			ImageKey:   rec.ImageKey,
			Summary:    rec.Summary,
			Embedding:  embedding,
			AnalyzedAt: rec.AnalyzedAt,
		}
		if err := s.Images.IndexImage(ctx, doc); err != nil {
			return fmt.Errorf("%w: image index: %v", pipeline.ErrPersistenceFailed, err)
		}
	}
	if err := s.Records.Put(ctx, rec, alertList); err != nil {
		if s.Images != nil {
			_ = s.Images.DeleteImage(context.WithoutCancel(ctx), rec.ID)
		}
		return fmt.Errorf("%w: %v", pipeline.ErrPersistenceFailed, err)
	}
	return nil
}

// GetAnalysis returns one record or ErrNotFound.
func (s *Service) GetAnalysis(ctx context.Context, projectID, analysisID string) (*domain.Analysis, error) {
	rec, err := s.Records.Get(ctx, projectID, analysisID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrPersistenceFailed, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: analysis %s", pipeline.ErrNotFound, analysisID)
	}
	return rec, nil
}

// CompareSideBySide diffs a caller-chosen set of records of one project.
func (s *Service) CompareSideBySide(ctx context.Context, projectID string, ids []string) (*comparison.SideBySide, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: empty project id", pipeline.ErrInvalidInput)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no analysis ids given", pipeline.ErrInvalidInput)
	}
	return s.Comparison.SideBySide(ctx, projectID, ids)
}

// History returns up to limit records, newest first.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]*domain.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	recs, err := s.Records.List(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrPersistenceFailed, err)
	}
	return recs, nil
}

// contextLines renders retrieved catalog elements for the describer prompt.
func contextLines(retrieved []catalog.Match) []string {
	lines := make([]string, 0, len(retrieved))
	for _, m := range retrieved {
		d := m.Descriptor
		line := fmt.Sprintf("%s %q", d.Type, d.Name)
		if d.Description != "" {
			line += ": " + d.Description
		}
		lines = append(lines, line)
	}
	return lines
}

func alertTitles(list []alerts.Alert) []string {
	titles := make([]string, 0, len(list))
	for _, a := range list {
		titles = append(titles, a.Title)
	}
	return titles
}
