package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

// Store talks to an OpenSearch cluster holding the element catalog (kNN
// index over descriptor embeddings) and the per-analysis image index.
type Store struct {
	httpClient   *http.Client
	baseURL      string
	username     string
	password     string
	elementIndex string
	imageIndex   string
}

type Config struct {
	Endpoint     string
	Username     string
	Password     string
	ElementIndex string
	ImageIndex   string
	Timeout      time.Duration
}

func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.Endpoint, "/"),
		username:     cfg.Username,
		password:     cfg.Password,
		elementIndex: cfg.ElementIndex,
		imageIndex:   cfg.ImageIndex,
	}
}

type searchHit struct {
	ID     string             `json:"_id"`
	Score  float64            `json:"_score"`
	Source catalog.Descriptor `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// QueryNearest runs a kNN query filtered to the project. kNN scores are
// already 1/(1+distance); anything outside [0,1] is clamped.
func (s *Store) QueryNearest(ctx context.Context, projectID string, vector []float32, k int) ([]catalog.Match, error) {
	if k <= 0 {
		k = 10
	}
	body := map[string]any{
		"size": k,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"knn": map[string]any{
							"embedding": map[string]any{
								"vector": vector,
								"k":      k,
							},
						},
					},
				},
				"filter": []any{
					map[string]any{"term": map[string]any{"project_id": projectID}},
				},
			},
		},
	}
	var resp searchResponse
	endpoint := fmt.Sprintf("%s/%s/_search", s.baseURL, url.PathEscape(s.elementIndex))
	if err := s.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	matches := make([]catalog.Match, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		matches = append(matches, catalog.Match{
			Descriptor: hit.Source,
			Similarity: normalizeScore(hit.Score),
		})
	}
	return matches, nil
}

// GetAll returns every descriptor of the project.
func (s *Store) GetAll(ctx context.Context, projectID string) ([]catalog.Descriptor, error) {
	body := map[string]any{
		"size":  10000,
		"query": map[string]any{"term": map[string]any{"project_id": projectID}},
		"sort":  []any{map[string]any{"element_id": "asc"}},
	}
	var resp searchResponse
	endpoint := fmt.Sprintf("%s/%s/_search", s.baseURL, url.PathEscape(s.elementIndex))
	if err := s.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	out := make([]catalog.Descriptor, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}

// IndexImage upserts the per-analysis image document.
func (s *Store) IndexImage(ctx context.Context, doc catalog.ImageDocument) error {
	endpoint := fmt.Sprintf("%s/%s/_doc/%s?refresh=true",
		s.baseURL, url.PathEscape(s.imageIndex), url.PathEscape(doc.AnalysisID))
	return s.doRequest(ctx, http.MethodPut, endpoint, doc, nil)
}

// DeleteImage removes the image document; used to compensate a failed
// record commit.
func (s *Store) DeleteImage(ctx context.Context, analysisID string) error {
	endpoint := fmt.Sprintf("%s/%s/_doc/%s?refresh=true",
		s.baseURL, url.PathEscape(s.imageIndex), url.PathEscape(analysisID))
	return s.doRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Ping reports cluster reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.doRequest(ctx, http.MethodGet, s.baseURL+"/_cluster/health", nil, nil)
}

func (s *Store) doRequest(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opensearch %s %s failed: %d %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func normalizeScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var (
	_ catalog.Store      = (*Store)(nil)
	_ catalog.ImageIndex = (*Store)(nil)
)
