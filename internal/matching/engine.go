// Package matching scores shopping candidates against a fused reference
// product profile using confidence-weighted, family-grouped fuzzy attribute
// comparison. Scoring is pure computation: no model calls, no randomness.
package matching

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Fuzzy similarity tiers for family-grouped attributes.
const (
	simExact       = 1.0
	simShade       = 0.9
	simFamily      = 0.7
	simNone        = 0.0
	simTextureMiss = 0.5

	// Confidence weights are damped toward a floor of 50% so a
	// low-confidence extraction never zeroes out a comparison.
	weightFloor   = 0.5
	weightCeiling = 1.0
)

// AttributeValue is one extracted attribute with its self-reported
// confidence. A zero confidence means the extractor did not report one and is
// treated as full confidence.
type AttributeValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ReferenceProfile is the fused, authoritative attribute description of the
// source product.
type ReferenceProfile struct {
	Attributes map[string]AttributeValue `json:"attributes"`
}

// Candidate is one externally sourced product listing to score.
type Candidate struct {
	ID         string                    `json:"id"`
	Attributes map[string]AttributeValue `json:"attributes"`
}

// AttributeScore is the per-attribute comparison breakdown.
type AttributeScore struct {
	Attribute      string  `json:"attribute"`
	ReferenceValue string  `json:"reference_value"`
	CandidateValue string  `json:"candidate_value"`
	MaxPoints      float64 `json:"max_points"`
	Similarity     float64 `json:"similarity"`
	Weight         float64 `json:"weight"`
	Score          float64 `json:"score"`
	Reasoning      string  `json:"reasoning"`
}

// CandidateRanking aggregates one candidate's attribute scores.
type CandidateRanking struct {
	CandidateID string           `json:"candidate_id"`
	TotalScore  float64          `json:"total_score"`
	Attributes  []AttributeScore `json:"attributes"`
}

type matchKind int

const (
	matchColorFamily matchKind = iota
	matchFabricFamily
	matchExact
	matchTexture
)

type attributeRule struct {
	name      string
	group     string
	maxPoints float64
	kind      matchKind
}

// defaultRules is the versioned point budget: color 40, style 30,
// material 20, details 10 — total 100.
var defaultRules = []attributeRule{
	{name: "color", group: "color", maxPoints: 40, kind: matchColorFamily},
	{name: "neckline", group: "style", maxPoints: 10, kind: matchExact},
	{name: "sleeve_length", group: "style", maxPoints: 10, kind: matchExact},
	{name: "body_length", group: "style", maxPoints: 5, kind: matchExact},
	{name: "fit", group: "style", maxPoints: 5, kind: matchExact},
	{name: "fabric", group: "material", maxPoints: 12, kind: matchFabricFamily},
	{name: "texture", group: "material", maxPoints: 8, kind: matchTexture},
	{name: "closures", group: "details", maxPoints: 5, kind: matchExact},
	{name: "pattern", group: "details", maxPoints: 5, kind: matchExact},
}

// Engine scores candidates against a reference profile with a fixed,
// versioned point budget.
type Engine struct {
	rules []attributeRule
}

func NewEngine() *Engine {
	return &Engine{rules: defaultRules}
}

// MaxTotal is the highest total a candidate can reach against a reference
// that reports every budgeted attribute.
func (e *Engine) MaxTotal() float64 {
	var total float64
	for _, rule := range e.rules {
		total += rule.maxPoints
	}
	return total
}

// Score compares one candidate against the reference. Attributes absent from
// the reference are skipped; attributes the candidate does not report score
// zero.
func (e *Engine) Score(ref ReferenceProfile, candidate Candidate) CandidateRanking {
	ranking := CandidateRanking{
		CandidateID: candidate.ID,
		Attributes:  make([]AttributeScore, 0, len(e.rules)),
	}

	for _, rule := range e.rules {
		refValue, ok := ref.Attributes[rule.name]
		if !ok || strings.TrimSpace(refValue.Value) == "" {
			continue
		}

		score := AttributeScore{
			Attribute:      rule.name,
			ReferenceValue: refValue.Value,
			MaxPoints:      rule.maxPoints,
		}

		candValue, ok := candidate.Attributes[rule.name]
		if !ok || strings.TrimSpace(candValue.Value) == "" {
			score.Reasoning = fmt.Sprintf("candidate does not report %s", rule.name)
			ranking.Attributes = append(ranking.Attributes, score)
			continue
		}
		score.CandidateValue = candValue.Value

		similarity, reasoning := similarityFor(rule, refValue.Value, candValue.Value)
		weight := confidenceWeight(refValue.Confidence, candValue.Confidence)

		score.Similarity = similarity
		score.Weight = weight
		score.Score = rule.maxPoints * similarity * weight
		score.Reasoning = reasoning
		ranking.Attributes = append(ranking.Attributes, score)
		ranking.TotalScore += score.Score
	}

	return ranking
}

// Rank scores every candidate and orders them by descending total. Ties keep
// input order, so ranking is deterministic for identical inputs.
func (e *Engine) Rank(ref ReferenceProfile, candidates []Candidate) []CandidateRanking {
	rankings := make([]CandidateRanking, 0, len(candidates))
	for _, candidate := range candidates {
		rankings = append(rankings, e.Score(ref, candidate))
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].TotalScore > rankings[j].TotalScore
	})
	return rankings
}

func similarityFor(rule attributeRule, refValue, candValue string) (float64, string) {
	ref := normalize(refValue)
	cand := normalize(candValue)

	switch rule.kind {
	case matchColorFamily:
		return familySimilarity(rule.name, ref, cand, colorFamilies)
	case matchFabricFamily:
		return familySimilarity(rule.name, ref, cand, fabricFamilies)
	case matchTexture:
		if ref == cand {
			return simExact, fmt.Sprintf("texture %q matches exactly", refValue)
		}
		// Texture descriptions are inherently imprecise, so a mismatch
		// still earns partial credit.
		return simTextureMiss, fmt.Sprintf("texture %q vs %q differ, granting partial credit", refValue, candValue)
	default:
		if ref == cand {
			return simExact, fmt.Sprintf("%s %q matches exactly", rule.name, refValue)
		}
		return simNone, fmt.Sprintf("%s %q does not match %q", rule.name, refValue, candValue)
	}
}

// familySimilarity applies the tiered fuzzy policy: exact 1.0, shade-variant
// containment 0.9, same curated family 0.7, otherwise 0.
func familySimilarity(name, ref, cand string, families map[string]string) (float64, string) {
	if ref == cand {
		return simExact, fmt.Sprintf("%s %q matches exactly", name, ref)
	}
	if strings.Contains(ref, cand) || strings.Contains(cand, ref) {
		return simShade, fmt.Sprintf("%s %q is a shade variant of %q", name, cand, ref)
	}
	refFamily, refOK := families[ref]
	candFamily, candOK := families[cand]
	if refOK && candOK && refFamily == candFamily {
		return simFamily, fmt.Sprintf("%s %q and %q share the %q family", name, ref, cand, refFamily)
	}
	return simNone, fmt.Sprintf("%s %q and %q are unrelated", name, ref, cand)
}

// confidenceWeight averages the two self-reported confidences and clamps the
// result to [0.5, 1.0]. Unreported confidence counts as full.
func confidenceWeight(refConfidence, candConfidence float64) float64 {
	if refConfidence <= 0 {
		refConfidence = 1.0
	}
	if candConfidence <= 0 {
		candConfidence = 1.0
	}
	weight := (refConfidence + candConfidence) / 2
	if weight < weightFloor {
		return weightFloor
	}
	if weight > weightCeiling {
		return weightCeiling
	}
	return weight
}

// normalize trims and case-folds one attribute value. Caser instances are
// not safe for concurrent use, so each call constructs its own.
func normalize(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}
