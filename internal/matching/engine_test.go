package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullProfile() ReferenceProfile {
	return ReferenceProfile{Attributes: map[string]AttributeValue{
		"color":         {Value: "olive"},
		"neckline":      {Value: "crew neck"},
		"sleeve_length": {Value: "long"},
		"body_length":   {Value: "cropped"},
		"fit":           {Value: "relaxed"},
		"fabric":        {Value: "cable knit"},
		"texture":       {Value: "chunky"},
		"closures":      {Value: "none"},
		"pattern":       {Value: "solid"},
	}}
}

func TestScoreIdenticalAttributesReachesMaxTotal(t *testing.T) {
	engine := NewEngine()
	ref := fullProfile()
	candidate := Candidate{ID: "c1", Attributes: ref.Attributes}

	ranking := engine.Score(ref, candidate)

	assert.Equal(t, "c1", ranking.CandidateID)
	assert.InDelta(t, engine.MaxTotal(), ranking.TotalScore, 1e-9)
	assert.InDelta(t, 100.0, engine.MaxTotal(), 1e-9)
	assert.Len(t, ranking.Attributes, 9)
	for _, attr := range ranking.Attributes {
		assert.InDelta(t, attr.MaxPoints, attr.Score, 1e-9, "attribute %s", attr.Attribute)
	}
}

func TestColorSimilarityTiers(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name      string
		refColor  string
		candColor string
		expected  float64
	}{
		{name: "exact match", refColor: "olive", candColor: "olive", expected: 40.0},
		{name: "exact match folds case", refColor: "Olive", candColor: "OLIVE", expected: 40.0},
		{name: "shade variant by containment", refColor: "green", candColor: "forest green", expected: 36.0},
		{name: "same curated family", refColor: "olive", candColor: "sage green", expected: 28.0},
		{name: "unrelated colors", refColor: "red", candColor: "blue", expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := ReferenceProfile{Attributes: map[string]AttributeValue{
				"color": {Value: tt.refColor},
			}}
			candidate := Candidate{ID: "c", Attributes: map[string]AttributeValue{
				"color": {Value: tt.candColor},
			}}

			ranking := engine.Score(ref, candidate)
			require.Len(t, ranking.Attributes, 1)
			assert.InDelta(t, tt.expected, ranking.TotalScore, 1e-9)
			assert.NotEmpty(t, ranking.Attributes[0].Reasoning)
		})
	}
}

func TestFabricFamilySimilarity(t *testing.T) {
	engine := NewEngine()
	ref := ReferenceProfile{Attributes: map[string]AttributeValue{
		"fabric": {Value: "merino"},
	}}

	// merino and cashmere share the wool family.
	ranking := engine.Score(ref, Candidate{ID: "c", Attributes: map[string]AttributeValue{
		"fabric": {Value: "cashmere"},
	}})
	assert.InDelta(t, 12.0*0.7, ranking.TotalScore, 1e-9)

	ranking = engine.Score(ref, Candidate{ID: "c", Attributes: map[string]AttributeValue{
		"fabric": {Value: "polyester"},
	}})
	assert.InDelta(t, 0.0, ranking.TotalScore, 1e-9)
}

func TestTextureMismatchEarnsPartialCredit(t *testing.T) {
	engine := NewEngine()
	ref := ReferenceProfile{Attributes: map[string]AttributeValue{
		"texture": {Value: "chunky"},
	}}
	candidate := Candidate{ID: "c", Attributes: map[string]AttributeValue{
		"texture": {Value: "smooth"},
	}}

	ranking := engine.Score(ref, candidate)
	require.Len(t, ranking.Attributes, 1)
	assert.InDelta(t, 8.0*0.5, ranking.TotalScore, 1e-9)
}

func TestConfidenceWeighting(t *testing.T) {
	engine := NewEngine()

	score := func(refConf, candConf float64) float64 {
		ref := ReferenceProfile{Attributes: map[string]AttributeValue{
			"color": {Value: "olive", Confidence: refConf},
		}}
		candidate := Candidate{ID: "c", Attributes: map[string]AttributeValue{
			"color": {Value: "olive", Confidence: candConf},
		}}
		return engine.Score(ref, candidate).TotalScore
	}

	// Unreported confidence counts as full.
	assert.InDelta(t, 40.0, score(0, 0), 1e-9)

	// Low confidences are clamped to the 0.5 floor rather than zeroing out.
	assert.InDelta(t, 20.0, score(0.1, 0.1), 1e-9)

	// Higher confidence never lowers a score.
	assert.LessOrEqual(t, score(0.6, 0.6), score(0.8, 0.8))
	assert.LessOrEqual(t, score(0.8, 0.8), score(1.0, 1.0))
}

func TestScoreSkipsAttributesAbsentFromReference(t *testing.T) {
	engine := NewEngine()
	ref := ReferenceProfile{Attributes: map[string]AttributeValue{
		"color": {Value: "black"},
	}}
	candidate := Candidate{ID: "c", Attributes: fullProfile().Attributes}

	ranking := engine.Score(ref, candidate)
	require.Len(t, ranking.Attributes, 1)
	assert.Equal(t, "color", ranking.Attributes[0].Attribute)
}

func TestCandidateMissingAttributeScoresZero(t *testing.T) {
	engine := NewEngine()
	ref := ReferenceProfile{Attributes: map[string]AttributeValue{
		"color":    {Value: "black"},
		"neckline": {Value: "v-neck"},
	}}
	candidate := Candidate{ID: "c", Attributes: map[string]AttributeValue{
		"color": {Value: "black"},
	}}

	ranking := engine.Score(ref, candidate)
	require.Len(t, ranking.Attributes, 2)
	assert.InDelta(t, 40.0, ranking.TotalScore, 1e-9)

	var neckline AttributeScore
	for _, attr := range ranking.Attributes {
		if attr.Attribute == "neckline" {
			neckline = attr
		}
	}
	assert.Zero(t, neckline.Score)
	assert.Contains(t, neckline.Reasoning, "does not report")
}

func TestRankOrdersByDescendingTotalAndKeepsTies(t *testing.T) {
	engine := NewEngine()
	ref := fullProfile()

	exact := Candidate{ID: "exact", Attributes: ref.Attributes}
	partial := Candidate{ID: "partial", Attributes: map[string]AttributeValue{
		"color": {Value: "olive"},
	}}
	empty := Candidate{ID: "empty-a"}
	emptyToo := Candidate{ID: "empty-b"}

	rankings := engine.Rank(ref, []Candidate{empty, partial, emptyToo, exact})
	require.Len(t, rankings, 4)
	assert.Equal(t, "exact", rankings[0].CandidateID)
	assert.Equal(t, "partial", rankings[1].CandidateID)
	// Zero-score candidates keep their input order.
	assert.Equal(t, "empty-a", rankings[2].CandidateID)
	assert.Equal(t, "empty-b", rankings[3].CandidateID)
}
