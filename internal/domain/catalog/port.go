package catalog

import "context"

// Store port (interface untuk catalog elemen referensi)
// The backing index is written only during model ingestion; the analysis
// pipeline treats it as read-only apart from per-analysis image documents.
type Store interface {
	// QueryNearest returns up to k descriptors of the given project ranked
	// by similarity to the query vector. Results never cross projects.
	QueryNearest(ctx context.Context, projectID string, vector []float32, k int) ([]Match, error)
	// GetAll returns every descriptor of the project.
	GetAll(ctx context.Context, projectID string) ([]Descriptor, error)
}

// ImageIndex port (interface untuk index foto per analisis)
type ImageIndex interface {
	IndexImage(ctx context.Context, doc ImageDocument) error
	DeleteImage(ctx context.Context, analysisID string) error
}
