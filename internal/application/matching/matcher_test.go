package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/bimwatch/internal/domain/ai"
	"github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

func testConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		FuzzyThreshold:      0.8,
		Synonyms: map[catalog.ElementType][]string{
			catalog.TypeWall:   {"wall", "parede", "alvenaria"},
			catalog.TypeColumn: {"column", "pilar"},
			catalog.TypeSlab:   {"slab", "laje"},
		},
	}
}

func descriptor(id string, typ catalog.ElementType) catalog.Descriptor {
	return catalog.Descriptor{
		ElementID: catalog.ElementID(id),
		ProjectID: "p1",
		Type:      typ,
		Name:      string(typ) + " " + id,
	}
}

func TestMatchVectorPathConfidenceCap(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	retrieved := []catalog.Match{
		{Descriptor: descriptor("w1", catalog.TypeWall), Similarity: 0.99},
		{Descriptor: descriptor("c1", catalog.TypeColumn), Similarity: 0.6},
		{Descriptor: descriptor("s1", catalog.TypeSlab), Similarity: 0.3}, // below threshold
	}

	detected, err := m.Match(context.Background(), "", retrieved, nil)
	require.NoError(t, err)
	require.Len(t, detected, 2)

	assert.Equal(t, catalog.ElementID("w1"), detected[0].ElementID)
	assert.InDelta(t, 0.95, detected[0].Confidence, 1e-9) // capped
	assert.Equal(t, analysis.StatusCompleted, detected[0].Status)

	assert.Equal(t, catalog.ElementID("c1"), detected[1].ElementID)
	assert.InDelta(t, 0.6, detected[1].Confidence, 1e-9)
	assert.Equal(t, analysis.StatusInProgress, detected[1].Status)
}

func TestMatchKeywordExactSubstring(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	cat := []catalog.Descriptor{descriptor("w1", catalog.TypeWall)}
	detected, err := m.Match(context.Background(), "an exterior brick wall is visible", nil, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.85, detected[0].Confidence, 1e-9)
	assert.Equal(t, analysis.StatusCompleted, detected[0].Status)
	assert.Contains(t, detected[0].Description, `keyword "wall"`)
}

func TestMatchKeywordMultilingual(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	cat := []catalog.Descriptor{descriptor("w1", catalog.TypeWall)}
	detected, err := m.Match(context.Background(), "parede de alvenaria no lado leste", nil, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.85, detected[0].Confidence, 1e-9)
}

func TestMatchKeywordInsideLongerToken(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	// "pilars" carries the synonym "pilar" as a substring, so the exact
	// rule wins over the fuzzy one.
	cat := []catalog.Descriptor{descriptor("c1", catalog.TypeColumn)}
	detected, err := m.Match(context.Background(), "two pilars poured", nil, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.85, detected[0].Confidence, 1e-9)
	assert.Equal(t, analysis.StatusCompleted, detected[0].Status)
	assert.Contains(t, detected[0].Description, `keyword "pilar"`)
}

func TestMatchFuzzyScaling(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	// "columm" vs keyword "column": distance 1 over 6 runes -> ratio ~0.833,
	// above the 0.8 threshold, scores 0.90*0.833. No synonym appears as a
	// substring, so only the fuzzy branch can fire.
	cat := []catalog.Descriptor{descriptor("c1", catalog.TypeColumn)}
	detected, err := m.Match(context.Background(), "two columm poured", nil, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.90*(1-1.0/6.0), detected[0].Confidence, 1e-9)
	assert.Equal(t, analysis.StatusInProgress, detected[0].Status)
}

func TestMatchFuzzyBelowThresholdDropped(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	cat := []catalog.Descriptor{descriptor("c1", catalog.TypeColumn)}
	detected, err := m.Match(context.Background(), "a colnm maybe", nil, cat)
	require.NoError(t, err)
	assert.Empty(t, detected)
}

func TestMatchMergeTakesMaxConfidence(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	w1 := descriptor("w1", catalog.TypeWall)
	retrieved := []catalog.Match{{Descriptor: w1, Similarity: 0.6}}
	cat := []catalog.Descriptor{w1}

	// Keyword path scores 0.85 for the same element; merged confidence is
	// the max, never the sum, and only one entry survives.
	detected, err := m.Match(context.Background(), "the wall is plastered", retrieved, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.85, detected[0].Confidence, 1e-9)
	assert.Contains(t, detected[0].Description, "wall w1")
	assert.Contains(t, detected[0].Description, "keyword")
}

func TestMatchMergeVectorWins(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	w1 := descriptor("w1", catalog.TypeWall)
	retrieved := []catalog.Match{{Descriptor: w1, Similarity: 0.92}}
	cat := []catalog.Descriptor{w1}

	detected, err := m.Match(context.Background(), "the wall is plastered", retrieved, cat)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.InDelta(t, 0.92, detected[0].Confidence, 1e-9)
}

func TestMatchBelowInProgressThresholdAbsent(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.SimilarityThreshold = 0.2
	m := New(cfg, nil)

	retrieved := []catalog.Match{
		{Descriptor: descriptor("w1", catalog.TypeWall), Similarity: 0.49},
	}
	detected, err := m.Match(context.Background(), "", retrieved, nil)
	require.NoError(t, err)
	assert.Empty(t, detected)
}

func TestMatchDeterministicOrdering(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), nil)

	retrieved := []catalog.Match{
		{Descriptor: descriptor("b2", catalog.TypeWall), Similarity: 0.7},
		{Descriptor: descriptor("a1", catalog.TypeWall), Similarity: 0.7},
		{Descriptor: descriptor("c3", catalog.TypeColumn), Similarity: 0.9},
	}

	for i := 0; i < 5; i++ {
		detected, err := m.Match(context.Background(), "", retrieved, nil)
		require.NoError(t, err)
		require.Len(t, detected, 3)
		assert.Equal(t, catalog.ElementID("c3"), detected[0].ElementID)
		assert.Equal(t, catalog.ElementID("a1"), detected[1].ElementID) // ties break by id
		assert.Equal(t, catalog.ElementID("b2"), detected[2].ElementID)
	}
}

type failingValidator struct{}

func (failingValidator) Validate(_ context.Context, _ []analysis.DetectedElement, _ []ai.RelationRule) ([]analysis.DetectedElement, error) {
	return nil, errors.New("slab without supporting column")
}

func TestMatchValidatorRejection(t *testing.T) {
	t.Parallel()
	m := New(testConfig(), failingValidator{})

	retrieved := []catalog.Match{
		{Descriptor: descriptor("s1", catalog.TypeSlab), Similarity: 0.9},
	}
	_, err := m.Match(context.Background(), "", retrieved, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrValidationRejected)
}
