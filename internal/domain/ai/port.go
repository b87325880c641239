package ai

import (
	"context"

	"github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

// EmbeddingProvider turns images and text into fixed-dimension vectors.
// The dimension is fixed per deployment and checked by the retrieval layer.
type EmbeddingProvider interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Describer produces free-text descriptions of site photos. The same
// capability summarizes structured change lists into prose.
type Describer interface {
	Describe(ctx context.Context, image []byte, contextLines []string, extraContext string) (string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// RelationRule expresses a structural dependency between element types,
// e.g. a beam requires a column.
type RelationRule struct {
	Subject  catalog.ElementType `json:"subject" yaml:"subject"`
	Requires catalog.ElementType `json:"requires" yaml:"requires"`
}

// GeometricValidator is an optional collaborator that re-checks detected
// elements against relation rules. It may annotate entries with a deviation
// note or drop structurally impossible detections.
type GeometricValidator interface {
	Validate(ctx context.Context, detected []analysis.DetectedElement, rules []RelationRule) ([]analysis.DetectedElement, error)
}
