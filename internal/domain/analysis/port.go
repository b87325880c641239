package analysis

import (
	"context"
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/alerts"
)

// RecordStore port (interface untuk persistence)
type RecordStore interface {
	// Put persists the record together with its alerts in one atomic write.
	Put(ctx context.Context, rec *Analysis, alertList []alerts.Alert) error
	// Get returns the record or nil when it does not exist.
	Get(ctx context.Context, projectID, analysisID string) (*Analysis, error)
	// GetLatest returns the record of the project with the greatest
	// analyzed_at strictly before the given time, or nil when the project
	// has no earlier analysis.
	GetLatest(ctx context.Context, projectID string, before time.Time) (*Analysis, error)
	// List returns up to limit records of the project, newest first.
	List(ctx context.Context, projectID string, limit int) ([]*Analysis, error)
}
