package alerts

import "time"

// Type enum
type Type string

const (
	TypeDelay          Type = "delay"
	TypeDeviation      Type = "deviation"
	TypeQualityIssue   Type = "quality_issue"
	TypeSafetyConcern  Type = "safety_concern"
	TypeMissingElement Type = "missing_element"
)

// Severity enum
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert represents a persisted finding raised by an analysis
type Alert struct {
	ID          string    `json:"alert_id"`
	ProjectID   string    `json:"project_id"`
	AnalysisID  string    `json:"analysis_id"`
	Type        Type      `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}
