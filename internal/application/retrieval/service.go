package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/cache"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

const defaultTopK = 10

// Service implements RAG-style retrieval: the top-K catalog elements most
// similar to an image embedding, scoped to one project.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Catalog catalog.Store
	Cache   cache.Cache // optional, best-effort
	Dim     int         // expected embedding dimension, 0 disables the check
	TopK    int
	TTL     time.Duration
}

// Retrieve returns ranked (descriptor, similarity) pairs for the project.
// Results from other projects are never returned, regardless of distance.
func (s *Service) Retrieve(ctx context.Context, projectID string, embedding []float32, k int) ([]catalog.Match, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: empty project id", pipeline.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", pipeline.ErrInvalidInput)
	}
	if s.Dim > 0 && len(embedding) != s.Dim {
		return nil, fmt.Errorf("%w: embedding dimension %d, want %d", pipeline.ErrInvalidInput, len(embedding), s.Dim)
	}
	if k <= 0 {
		k = s.TopK
	}
	if k <= 0 {
		k = defaultTopK
	}

	key := fingerprint(projectID, embedding, k)
	if s.Cache != nil {
		if v, ok := s.Cache.Get(key); ok {
			if matches, ok := v.([]catalog.Match); ok {
				out := make([]catalog.Match, len(matches))
				copy(out, matches)
				return out, nil
			}
		}
	}

	raw, err := s.Catalog.QueryNearest(ctx, projectID, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrRetrievalUnavailable, err)
	}

	matches := make([]catalog.Match, 0, len(raw))
	for _, m := range raw {
		// Tenant isolation: the store already filters, this guards against a
		// misconfigured index.
		if m.Descriptor.ProjectID != projectID {
			continue
		}
		if m.Similarity < 0 {
			m.Similarity = 0
		}
		if m.Similarity > 1 {
			m.Similarity = 1
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Descriptor.ElementID < matches[j].Descriptor.ElementID
	})

	if s.Cache != nil {
		cached := make([]catalog.Match, len(matches))
		copy(cached, matches)
		s.Cache.Set(key, cached, s.TTL)
	}
	return matches, nil
}

// fingerprint keys cached results by (project, embedding, k).
func fingerprint(projectID string, embedding []float32, k int) string {
	h := sha256.New()
	h.Write([]byte(projectID))
	_ = binary.Write(h, binary.LittleEndian, int64(k))
	_ = binary.Write(h, binary.LittleEndian, embedding)
	return "retrieval:" + projectID + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
