package catalog

import "time"

// ID tipe untuk elemen referensi
type ElementID string

// ElementType enum
type ElementType string

const (
	TypeWall       ElementType = "wall"
	TypeSlab       ElementType = "slab"
	TypeColumn     ElementType = "column"
	TypeBeam       ElementType = "beam"
	TypeFoundation ElementType = "foundation"
	TypeStair      ElementType = "stair"
	TypeRoof       ElementType = "roof"
	TypeDoor       ElementType = "door"
	TypeWindow     ElementType = "window"
)

// KnownTypes lists every structural category the reference model can carry.
func KnownTypes() []ElementType {
	return []ElementType{
		TypeWall, TypeSlab, TypeColumn, TypeBeam, TypeFoundation,
		TypeStair, TypeRoof, TypeDoor, TypeWindow,
	}
}

// Descriptor is one reference element produced during model ingestion.
// Descriptors are immutable; the pipeline only reads them.
type Descriptor struct {
	ElementID   ElementID   `json:"element_id"`
	ProjectID   string      `json:"project_id"`
	Type        ElementType `json:"element_type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Embedding   []float32   `json:"embedding,omitempty"`
}

// Match pairs a descriptor with its similarity to a query vector.
// Similarity is always normalized to [0,1].
type Match struct {
	Descriptor Descriptor `json:"descriptor"`
	Similarity float64    `json:"similarity"`
}

// ImageDocument is the per-analysis entry written back into the search
// index so later queries can retrieve past site photos by content.
type ImageDocument struct {
	AnalysisID string    `json:"analysis_id"`
	ProjectID  string    `json:"project_id"`
	ImageKey   string    `json:"image_key"`
	Summary    string    `json:"summary"`
	Embedding  []float32 `json:"embedding"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}
