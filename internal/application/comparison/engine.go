package comparison

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/cache"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

// Summarizer turns the structured change list into prose. The description
// capability implements it.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Engine diffs the current analysis against the most recent prior record of
// the same project.
// Engine is designed to be used concurrently and is thread-safe.
type Engine struct {
	Records    analysis.RecordStore
	Summarizer Summarizer // optional
	Cache      cache.Cache
	TTL        time.Duration
}

// Compare returns nil for the first analysis of a project. The previous
// record is always the one with the latest analyzed_at strictly before the
// current attempt's time.
func (e *Engine) Compare(ctx context.Context, current *analysis.Analysis) (*analysis.Comparison, error) {
	prev, err := e.latest(ctx, current.ProjectID, current.AnalyzedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: previous analysis lookup: %v", pipeline.ErrPersistenceFailed, err)
	}
	if prev == nil {
		return nil, nil
	}

	comp := &analysis.Comparison{
		PreviousAnalysisID: prev.ID,
		PreviousTimestamp:  prev.AnalyzedAt,
		ProgressChange:     round2(current.OverallProgress - prev.OverallProgress),
		ElementsAdded:      []analysis.ElementChange{},
		ElementsRemoved:    []analysis.ElementChange{},
		ElementsChanged:    []analysis.ElementChange{},
	}

	prevByID := make(map[catalog.ElementID]analysis.DetectedElement, len(prev.DetectedElements))
	for _, d := range prev.DetectedElements {
		prevByID[d.ElementID] = d
	}
	currByID := make(map[catalog.ElementID]bool, len(current.DetectedElements))

	for _, d := range current.DetectedElements {
		currByID[d.ElementID] = true
		before, ok := prevByID[d.ElementID]
		if !ok {
			comp.ElementsAdded = append(comp.ElementsAdded, analysis.ElementChange{
				ElementID:     d.ElementID,
				Type:          d.Type,
				ChangeType:    analysis.ChangeNew,
				CurrentStatus: d.Status,
				Description:   fmt.Sprintf("%s %s newly detected", d.Type, d.ElementID),
			})
			continue
		}
		if before.Status != d.Status {
			comp.ElementsChanged = append(comp.ElementsChanged, analysis.ElementChange{
				ElementID:      d.ElementID,
				Type:           d.Type,
				ChangeType:     analysis.ChangeStatus,
				PreviousStatus: before.Status,
				CurrentStatus:  d.Status,
				Description:    fmt.Sprintf("%s %s moved from %s to %s", d.Type, d.ElementID, before.Status, d.Status),
			})
		}
	}
	for _, d := range prev.DetectedElements {
		if currByID[d.ElementID] {
			continue
		}
		comp.ElementsRemoved = append(comp.ElementsRemoved, analysis.ElementChange{
			ElementID:      d.ElementID,
			Type:           d.Type,
			ChangeType:     analysis.ChangeRemoved,
			PreviousStatus: d.Status,
			Description:    fmt.Sprintf("%s %s no longer detected", d.Type, d.ElementID),
		})
	}

	summary := plainSummary(comp)
	if e.Summarizer != nil {
		prose, err := e.Summarizer.Summarize(ctx, summaryPrompt(comp))
		if err != nil {
			return nil, fmt.Errorf("%w: change summary: %v", pipeline.ErrDescriptionFailed, err)
		}
		if strings.TrimSpace(prose) != "" {
			summary = prose
		}
	}
	comp.Summary = summary
	return comp, nil
}

// SideBySideEntry is one analysis in a caller-chosen comparison set.
type SideBySideEntry struct {
	AnalysisID       string                     `json:"analysis_id"`
	AnalyzedAt       time.Time                  `json:"analyzed_at"`
	OverallProgress  float64                    `json:"overall_progress"`
	Summary          string                     `json:"summary"`
	DetectedElements []analysis.DetectedElement `json:"detected_elements"`
	Alerts           []string                   `json:"alerts"`
}

// SideBySideDiff is the delta between two consecutive entries.
type SideBySideDiff struct {
	FromAnalysisID string  `json:"from"`
	ToAnalysisID   string  `json:"to"`
	ProgressChange float64 `json:"progress_change"`
	NewAlerts      int     `json:"new_alerts"`
}

// SideBySide holds the requested analyses in analyzed_at order plus the
// pairwise deltas between consecutive ones.
type SideBySide struct {
	ProjectID   string            `json:"project_id"`
	Analyses    []SideBySideEntry `json:"analyses"`
	Differences []SideBySideDiff  `json:"differences"`
}

// SideBySide loads the requested records and diffs consecutive pairs.
// Unknown ids are skipped; when none resolve the result is ErrNotFound.
func (e *Engine) SideBySide(ctx context.Context, projectID string, ids []string) (*SideBySide, error) {
	entries := make([]SideBySideEntry, 0, len(ids))
	for _, id := range ids {
		rec, err := e.Records.Get(ctx, projectID, id)
		if err != nil {
			return nil, fmt.Errorf("%w: analysis lookup: %v", pipeline.ErrPersistenceFailed, err)
		}
		if rec == nil {
			continue
		}
		entries = append(entries, SideBySideEntry{
			AnalysisID:       rec.ID,
			AnalyzedAt:       rec.AnalyzedAt,
			OverallProgress:  rec.OverallProgress,
			Summary:          rec.Summary,
			DetectedElements: rec.DetectedElements,
			Alerts:           rec.Alerts,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: none of the requested analyses exist", pipeline.ErrNotFound)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].AnalyzedAt.Equal(entries[j].AnalyzedAt) {
			return entries[i].AnalyzedAt.Before(entries[j].AnalyzedAt)
		}
		return entries[i].AnalysisID < entries[j].AnalysisID
	})

	diffs := make([]SideBySideDiff, 0, len(entries))
	for i := 1; i < len(entries); i++ {
		prev, curr := entries[i-1], entries[i]
		diffs = append(diffs, SideBySideDiff{
			FromAnalysisID: prev.AnalysisID,
			ToAnalysisID:   curr.AnalysisID,
			ProgressChange: round2(curr.OverallProgress - prev.OverallProgress),
			NewAlerts:      len(curr.Alerts) - len(prev.Alerts),
		})
	}
	return &SideBySide{ProjectID: projectID, Analyses: entries, Differences: diffs}, nil
}

// Invalidate drops the cached previous-analysis lookup. Must run right
// after a new record for the project is persisted so a just-written record
// is never treated as its own predecessor.
func (e *Engine) Invalidate(projectID string) {
	if e.Cache != nil {
		e.Cache.Invalidate(latestKey(projectID))
	}
}

func (e *Engine) latest(ctx context.Context, projectID string, before time.Time) (*analysis.Analysis, error) {
	key := latestKey(projectID)
	if e.Cache != nil {
		if v, ok := e.Cache.Get(key); ok {
			if rec, ok := v.(*analysis.Analysis); ok && rec != nil && rec.AnalyzedAt.Before(before) {
				return rec, nil
			}
		}
	}
	rec, err := e.Records.GetLatest(ctx, projectID, before)
	if err != nil {
		return nil, err
	}
	if rec != nil && e.Cache != nil {
		e.Cache.Set(key, rec, e.TTL)
	}
	return rec, nil
}

func latestKey(projectID string) string { return "comparison:latest:" + projectID }

func summaryPrompt(comp *analysis.Comparison) string {
	var b strings.Builder
	b.WriteString("Summarize the following construction progress changes in two or three sentences for a site report.\n")
	fmt.Fprintf(&b, "Progress change: %+.2f%% since %s.\n", comp.ProgressChange, comp.PreviousTimestamp.Format("2006-01-02"))
	for _, c := range comp.ElementsAdded {
		fmt.Fprintf(&b, "- new: %s\n", c.Description)
	}
	for _, c := range comp.ElementsChanged {
		fmt.Fprintf(&b, "- changed: %s\n", c.Description)
	}
	for _, c := range comp.ElementsRemoved {
		fmt.Fprintf(&b, "- removed: %s\n", c.Description)
	}
	return b.String()
}

func plainSummary(comp *analysis.Comparison) string {
	return fmt.Sprintf("progress %+.2f%% since previous analysis: %d new, %d changed, %d removed elements",
		comp.ProgressChange, len(comp.ElementsAdded), len(comp.ElementsChanged), len(comp.ElementsRemoved))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
