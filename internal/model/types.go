package model

import (
	"errors"
	"math"
)

var ErrNotLoaded = errors.New("model not loaded")

// State is the lifecycle state of a loaded snapshot.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateLoaded     State = "loaded"
	StateLoadFailed State = "load_failed"
)

// Runner executes one forward pass over a flattened input tensor.
type Runner interface {
	Run(input []float32) ([]float32, error)
	Close()
}

// Prediction is the outcome of one forward pass.
type Prediction struct {
	Index         int
	Probabilities []float32
}

// Probability returns the probability of class i as a percentage in [0,100].
func (p Prediction) Probability(i int) float64 {
	if i < 0 || i >= len(p.Probabilities) {
		return 0
	}
	v := float64(p.Probabilities[i]) * 100
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Confidence is the top class probability as a percentage.
func (p Prediction) Confidence() float64 {
	return p.Probability(p.Index)
}
