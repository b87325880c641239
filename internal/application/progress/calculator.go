package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	"github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

// Scope controls the denominator N of the progress formula.
type Scope string

const (
	// ScopeCatalog weighs progress against the full project catalog.
	ScopeCatalog Scope = "catalog"
	// ScopeDetected weighs progress against the detected set only.
	ScopeDetected Scope = "detected"
)

var statusWeights = map[analysis.Status]float64{
	analysis.StatusCompleted:  1.0,
	analysis.StatusInProgress: 0.5,
}

// Calculator aggregates detected-element statuses into an overall
// completion percentage and raises missing/deviation alerts.
type Calculator struct {
	Scope Scope
}

// Overall returns the completion percentage in [0,100], rounded to two
// decimals.
func (c *Calculator) Overall(detected []analysis.DetectedElement, cat []catalog.Descriptor) float64 {
	n := len(cat)
	if c.Scope == ScopeDetected {
		n = len(detected)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, d := range detected {
		sum += statusWeights[d.Status]
	}
	p := 100 * sum / float64(n)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return math.Round(p*100) / 100
}

// Alerts raises a missing_element alert for every in-scope catalog element
// absent from the detected set, and a deviation alert for every element the
// validator flagged. Schedule-based delay alerts need external schedule
// data and are not raised here.
func (c *Calculator) Alerts(projectID, analysisID string, detected []analysis.DetectedElement, cat []catalog.Descriptor, now time.Time) []alerts.Alert {
	var out []alerts.Alert

	if c.Scope == ScopeCatalog {
		seen := make(map[catalog.ElementID]bool, len(detected))
		for _, d := range detected {
			seen[d.ElementID] = true
		}
		for _, desc := range cat {
			if seen[desc.ElementID] {
				continue
			}
			out = append(out, alerts.Alert{
				ID:          uuid.New().String(),
				ProjectID:   projectID,
				AnalysisID:  analysisID,
				Type:        alerts.TypeMissingElement,
				Severity:    alerts.SeverityMedium,
				Title:       fmt.Sprintf("%s %s not identified", desc.Type, desc.Name),
				Description: fmt.Sprintf("%s %q (%s) was not identified in the analyzed image", desc.Type, desc.Name, desc.ElementID),
				CreatedAt:   now,
			})
		}
	}

	for _, d := range detected {
		if d.Deviation == "" {
			continue
		}
		out = append(out, alerts.Alert{
			ID:          uuid.New().String(),
			ProjectID:   projectID,
			AnalysisID:  analysisID,
			Type:        alerts.TypeDeviation,
			Severity:    alerts.SeverityHigh,
			Title:       fmt.Sprintf("deviation on %s %s", d.Type, d.ElementID),
			Description: d.Deviation,
			CreatedAt:   now,
		})
	}
	return out
}
