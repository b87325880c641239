package analysis

import (
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

// Status enum
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDelayed    Status = "delayed"
	StatusDeviated   Status = "deviated"
)

// DetectedElement is the pipeline's claim that a catalog element is visible
// in the analyzed photo. Confidence stays within [0,1]; elements the matcher
// is not confident about are absent rather than emitted as not_started.
type DetectedElement struct {
	ElementID   catalog.ElementID   `json:"element_id"`
	Type        catalog.ElementType `json:"element_type"`
	Confidence  float64             `json:"confidence"`
	Status      Status              `json:"status"`
	Description string              `json:"description"`
	Deviation   string              `json:"deviation,omitempty"`
}

// ChangeType enum
type ChangeType string

const (
	ChangeNew     ChangeType = "new"
	ChangeRemoved ChangeType = "removed"
	ChangeStatus  ChangeType = "status_change"
)

// ElementChange is one entry of the diff against the previous analysis.
type ElementChange struct {
	ElementID      catalog.ElementID   `json:"element_id"`
	Type           catalog.ElementType `json:"element_type"`
	ChangeType     ChangeType          `json:"change_type"`
	PreviousStatus Status              `json:"previous_status,omitempty"`
	CurrentStatus  Status              `json:"current_status,omitempty"`
	Description    string              `json:"description"`
}

// Comparison is the structured diff against the most recent prior analysis.
// Absent on the first analysis of a project.
type Comparison struct {
	PreviousAnalysisID string          `json:"previous_analysis_id"`
	PreviousTimestamp  time.Time       `json:"previous_timestamp"`
	ProgressChange     float64         `json:"progress_change"`
	ElementsAdded      []ElementChange `json:"elements_added"`
	ElementsRemoved    []ElementChange `json:"elements_removed"`
	ElementsChanged    []ElementChange `json:"elements_changed"`
	Summary            string          `json:"summary"`
}

// Aggregate Root: Analysis
// Records are append-only; one project accumulates a time-ordered sequence.
type Analysis struct {
	ID               string            `json:"analysis_id"`
	ProjectID        string            `json:"project_id"`
	ImageKey         string            `json:"image_key"`
	DetectedElements []DetectedElement `json:"detected_elements"`
	OverallProgress  float64           `json:"overall_progress"`
	Summary          string            `json:"summary"`
	Alerts           []string          `json:"alerts"`
	Comparison       *Comparison       `json:"comparison,omitempty"`
	AnalyzedAt       time.Time         `json:"analyzed_at"`
}
