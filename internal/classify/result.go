package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/model"
)

const (
	// The classifier considers the top three classes; alternatives are the
	// ones after the winner.
	alternativeWindow = 3
	// Alternatives at or below this percentage are dropped.
	minAlternativePercent = 1.0
	// The predictor reports the five most probable classes.
	rankedPredictions = 5
)

// FallbackRecorder is notified when a class index has no category.
type FallbackRecorder interface {
	CategoryFallback(service string)
}

// Alternative is a runner-up category.
type Alternative struct {
	Category    string  `json:"category"`
	Probability float64 `json:"probability"`
}

// Classification is the classifier service payload.
type Classification struct {
	Category              string            `json:"category"`
	Confidence            float64           `json:"confidence"`
	Priority              category.Priority `json:"priority"`
	Description           string            `json:"description"`
	Department            string            `json:"department"`
	AlternativeCategories []Alternative     `json:"alternativeCategories"`
}

// RankedPrediction is one entry of all_predictions.
type RankedPrediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// PredictionResult is the predictor service payload.
type PredictionResult struct {
	Success        bool               `json:"success"`
	ClassIndex     int                `json:"class_index"`
	Category       string             `json:"category"`
	CategoryName   string             `json:"category_name"`
	Description    string             `json:"description"`
	Confidence     float64            `json:"confidence"`
	Department     string             `json:"department"`
	Priority       category.Priority  `json:"priority"`
	LegacyCategory string             `json:"legacy_category"`
	AllPredictions []RankedPrediction `json:"all_predictions"`
}

// Builder assembles responses and reports unmapped indices.
type Builder struct {
	Logger   *logrus.Logger
	Recorder FallbackRecorder
}

func (b *Builder) fallback(service string, index int) {
	b.Logger.WithFields(logrus.Fields{
		"service":     service,
		"class_index": index,
	}).Warn("class index has no category, using fallback")
	if b.Recorder != nil {
		b.Recorder.CategoryFallback(service)
	}
}

// Classification maps a prediction through the static category table.
func (b *Builder) Classification(pred *model.Prediction, table *category.Table) Classification {
	info, ok := table.Lookup(pred.Index)
	if !ok {
		b.fallback("classifier", pred.Index)
	}

	confidence := pred.Confidence()
	out := Classification{
		Category:              info.Code,
		Confidence:            round2(confidence),
		Priority:              info.Priority,
		Description:           fmt.Sprintf("%s. Detected with %.0f%% confidence.", info.Description, confidence),
		Department:            info.Department,
		AlternativeCategories: []Alternative{},
	}

	ranked := Rank(pred.Probabilities)
	if len(ranked) > alternativeWindow {
		ranked = ranked[:alternativeWindow]
	}
	for _, idx := range ranked {
		if idx == pred.Index {
			continue
		}
		p := round2(pred.Probability(idx))
		if p <= minAlternativePercent {
			continue
		}
		alt, ok := table.Lookup(idx)
		if !ok {
			b.fallback("classifier", idx)
		}
		out.AlternativeCategories = append(out.AlternativeCategories, Alternative{
			Category:    alt.Code,
			Probability: p,
		})
	}
	return out
}

// Prediction maps a prediction through the class mapping, which may be nil.
func (b *Builder) Prediction(pred *model.Prediction, mapping *category.ClassMapping) PredictionResult {
	entry, ok := mapping.Lookup(pred.Index)
	if !ok {
		b.fallback("predictor", pred.Index)
	}

	out := PredictionResult{
		Success:        true,
		ClassIndex:     pred.Index,
		Category:       entry.Category,
		CategoryName:   entry.OriginalName,
		Description:    category.Describe(entry.Category),
		Confidence:     round2(pred.Confidence()),
		Department:     entry.Department,
		Priority:       entry.Priority,
		LegacyCategory: category.Legacy(entry.Category),
		AllPredictions: []RankedPrediction{},
	}
	if mapping == nil || len(mapping.IndexToCategory) == 0 {
		return out
	}

	ranked := Rank(pred.Probabilities)
	if len(ranked) > rankedPredictions {
		ranked = ranked[:rankedPredictions]
	}
	for _, idx := range ranked {
		out.AllPredictions = append(out.AllPredictions, RankedPrediction{
			Category:   mapping.CodeFor(idx),
			Confidence: pred.Probability(idx),
		})
	}
	return out
}

// Rank returns class indices ordered by descending probability. Ties keep
// index order.
func Rank(probs []float32) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := probs[idx[a]], probs[idx[b]]
		if math.IsNaN(float64(pb)) {
			return !math.IsNaN(float64(pa))
		}
		return pa > pb
	})
	return idx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
