package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/bryanwahyu/bimwatch/internal/domain/ai"
	"github.com/bryanwahyu/bimwatch/internal/domain/analysis"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
)

const (
	vectorConfidenceCap = 0.95
	exactMatchScore     = 0.85
	fuzzyMatchCap       = 0.90
	completedThreshold  = 0.85
	inProgressThreshold = 0.5
)

// Config holds the externally supplied matching policy.
type Config struct {
	SimilarityThreshold float64
	FuzzyThreshold      float64
	Synonyms            map[catalog.ElementType][]string
	RelationRules       []ai.RelationRule
}

// Matcher fuses vector-similarity candidates with keyword/fuzzy candidates
// scanned out of the free-text description. Matching is deterministic:
// identical description and catalog always yield identical output.
type Matcher struct {
	cfg       Config
	validator ai.GeometricValidator // optional
}

func New(cfg Config, validator ai.GeometricValidator) *Matcher {
	return &Matcher{cfg: cfg, validator: validator}
}

type candidate struct {
	descriptor catalog.Descriptor
	confidence float64
	metadata   string // vector-path descriptive text
	evidence   string // keyword-path textual evidence
}

// Match builds the deduplicated detected-element set for one analysis.
// retrieved is the vector-path candidate list, cat the full project catalog
// scanned by the keyword path.
func (m *Matcher) Match(ctx context.Context, description string, retrieved []catalog.Match, cat []catalog.Descriptor) ([]analysis.DetectedElement, error) {
	merged := make(map[catalog.ElementID]*candidate)

	for _, match := range retrieved {
		if match.Similarity < m.cfg.SimilarityThreshold {
			continue
		}
		conf := match.Similarity
		if conf > vectorConfidenceCap {
			conf = vectorConfidenceCap
		}
		merged[match.Descriptor.ElementID] = &candidate{
			descriptor: match.Descriptor,
			confidence: conf,
			metadata:   fmt.Sprintf("%s (%s)", match.Descriptor.Name, match.Descriptor.Type),
		}
	}

	lowered := strings.ToLower(description)
	tokens := tokenize(lowered)
	for _, desc := range cat {
		conf, evidence := m.keywordConfidence(lowered, tokens, desc.Type)
		if conf <= 0 {
			continue
		}
		if existing, ok := merged[desc.ElementID]; ok {
			// Merge rule: take the max confidence, keep vector metadata,
			// append the textual evidence.
			if conf > existing.confidence {
				existing.confidence = conf
			}
			existing.evidence = evidence
			continue
		}
		merged[desc.ElementID] = &candidate{
			descriptor: desc,
			confidence: conf,
			evidence:   evidence,
		}
	}

	detected := make([]analysis.DetectedElement, 0, len(merged))
	for _, c := range merged {
		status, ok := statusFor(c.confidence)
		if !ok {
			continue
		}
		detected = append(detected, analysis.DetectedElement{
			ElementID:   c.descriptor.ElementID,
			Type:        c.descriptor.Type,
			Confidence:  c.confidence,
			Status:      status,
			Description: describe(c),
		})
	}
	sort.SliceStable(detected, func(i, j int) bool {
		if detected[i].Confidence != detected[j].Confidence {
			return detected[i].Confidence > detected[j].Confidence
		}
		return detected[i].ElementID < detected[j].ElementID
	})

	if m.validator != nil {
		validated, err := m.validator.Validate(ctx, detected, m.cfg.RelationRules)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrValidationRejected, err)
		}
		detected = validated
	}
	return detected, nil
}

// keywordConfidence scans the description for synonyms of the element type.
// Exact substring hits score a fixed confidence; otherwise the best fuzzy
// token ratio above the threshold scores proportionally.
func (m *Matcher) keywordConfidence(lowered string, tokens []string, typ catalog.ElementType) (float64, string) {
	keywords := m.cfg.Synonyms[typ]
	bestRatio := 0.0
	bestKeyword := ""
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, kw) {
			return exactMatchScore, fmt.Sprintf("keyword %q", kw)
		}
		for _, tok := range tokens {
			r := ratio(tok, kw)
			if r > bestRatio {
				bestRatio = r
				bestKeyword = kw
			}
		}
	}
	if bestRatio >= m.cfg.FuzzyThreshold {
		return fuzzyMatchCap * bestRatio, fmt.Sprintf("fuzzy match %q (%.0f%%)", bestKeyword, bestRatio*100)
	}
	return 0, ""
}

// statusFor applies the confidence policy. Elements below the in-progress
// threshold are absent from the detected set entirely.
func statusFor(confidence float64) (analysis.Status, bool) {
	switch {
	case confidence >= completedThreshold:
		return analysis.StatusCompleted, true
	case confidence >= inProgressThreshold:
		return analysis.StatusInProgress, true
	default:
		return "", false
	}
}

func describe(c *candidate) string {
	switch {
	case c.metadata != "" && c.evidence != "":
		return c.metadata + "; " + c.evidence
	case c.metadata != "":
		return c.metadata
	default:
		return fmt.Sprintf("%s (%s); %s", c.descriptor.Name, c.descriptor.Type, c.evidence)
	}
}

// ratio is the normalized token similarity in [0,1].
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	r := 1 - float64(dist)/float64(longest)
	if r < 0 {
		return 0
	}
	return r
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0x80)
	})
}
