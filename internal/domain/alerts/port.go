package alerts

import (
	"context"
)

// Sink defines persistence for alerts. During an analysis the alerts are
// written through the record store commit so they land atomically with the
// analysis record; Put exists for out-of-pipeline writers.
type Sink interface {
	Put(ctx context.Context, a *Alert) error
	List(ctx context.Context, projectID string, unresolvedOnly bool, limit int) ([]*Alert, error)
	Resolve(ctx context.Context, projectID, alertID string) error
}
