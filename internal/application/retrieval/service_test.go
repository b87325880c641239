package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
	"github.com/bryanwahyu/bimwatch/internal/infra/memcache"
)

type fakeCatalog struct {
	matches []catalog.Match
	err     error
	queries int
	lastK   int
}

func (f *fakeCatalog) QueryNearest(_ context.Context, _ string, _ []float32, k int) ([]catalog.Match, error) {
	f.queries++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func (f *fakeCatalog) GetAll(context.Context, string) ([]catalog.Descriptor, error) {
	return nil, nil
}

func match(id, project string, sim float64) catalog.Match {
	return catalog.Match{
		Descriptor: catalog.Descriptor{
			ElementID: catalog.ElementID(id),
			ProjectID: project,
			Type:      catalog.TypeWall,
		},
		Similarity: sim,
	}
}

func TestRetrieveValidation(t *testing.T) {
	t.Parallel()
	s := &Service{Catalog: &fakeCatalog{}, Dim: 3}

	_, err := s.Retrieve(context.Background(), "", []float32{1, 2, 3}, 5)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)

	_, err = s.Retrieve(context.Background(), "p1", nil, 5)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)

	_, err = s.Retrieve(context.Background(), "p1", []float32{1, 2}, 5)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInput)
}

func TestRetrieveTenantIsolation(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{matches: []catalog.Match{
		match("w1", "p1", 0.9),
		match("x9", "p2", 0.99), // leaked from another project
		match("c1", "p1", 0.7),
	}}
	s := &Service{Catalog: cat}

	out, err := s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, m := range out {
		assert.Equal(t, "p1", m.Descriptor.ProjectID)
	}
}

func TestRetrieveRankingAndClamping(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{matches: []catalog.Match{
		match("b", "p1", 0.5),
		match("a", "p1", 0.5),
		match("c", "p1", 1.7),  // clamped to 1
		match("d", "p1", -0.2), // clamped to 0
	}}
	s := &Service{Catalog: cat}

	out, err := s.Retrieve(context.Background(), "p1", []float32{0.1}, 5)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, catalog.ElementID("c"), out[0].Descriptor.ElementID)
	assert.InDelta(t, 1.0, out[0].Similarity, 1e-9)
	assert.Equal(t, catalog.ElementID("a"), out[1].Descriptor.ElementID) // ties break by id
	assert.Equal(t, catalog.ElementID("b"), out[2].Descriptor.ElementID)
	assert.InDelta(t, 0.0, out[3].Similarity, 1e-9)
}

func TestRetrieveStoreFailure(t *testing.T) {
	t.Parallel()
	s := &Service{Catalog: &fakeCatalog{err: errors.New("cluster red")}}

	_, err := s.Retrieve(context.Background(), "p1", []float32{0.1}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrRetrievalUnavailable)
}

func TestRetrieveDefaultTopK(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{}
	s := &Service{Catalog: cat}

	_, err := s.Retrieve(context.Background(), "p1", []float32{0.1}, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, cat.lastK)

	s.TopK = 7
	_, err = s.Retrieve(context.Background(), "p1", []float32{0.1}, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, cat.lastK)
}

func TestRetrieveCacheHit(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{matches: []catalog.Match{match("w1", "p1", 0.9)}}
	s := &Service{
		Catalog: cat,
		Cache:   memcache.New(time.Minute, time.Minute),
		TTL:     time.Minute,
	}

	first, err := s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	second, err := s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, cat.queries, "second call should be served from cache")
	assert.Equal(t, first, second)

	// Mutating a returned slice must not poison the cache.
	second[0].Similarity = 0
	third, err := s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, third[0].Similarity, 1e-9)
}

func TestRetrieveCacheKeyedByQuery(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{matches: []catalog.Match{match("w1", "p1", 0.9)}}
	s := &Service{
		Catalog: cat,
		Cache:   memcache.New(time.Minute, time.Minute),
		TTL:     time.Minute,
	}

	_, err := s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), "p1", []float32{0.9, 0.2}, 5)
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), "p1", []float32{0.1, 0.2}, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, cat.queries)
}
