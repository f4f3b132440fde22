package model

import (
	"errors"
	"fmt"
	"math"
)

// Infer runs a forward pass and picks the most probable class. With softmax
// set the raw outputs are treated as logits.
func Infer(r Runner, input []float32, softmax bool) (*Prediction, error) {
	if r == nil {
		return nil, ErrNotLoaded
	}

	out, err := r.Run(input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("inference returned no outputs")
	}

	probs := out
	if softmax {
		probs = Softmax(out)
	}

	return &Prediction{
		Index:         Argmax(probs),
		Probabilities: probs,
	}, nil
}

// Softmax returns a probability distribution over logits.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxVal := math.Inf(-1)
	for _, v := range logits {
		if f := float64(v); f > maxVal {
			maxVal = f
		}
	}

	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v) - maxVal)
		sum += exps[i]
	}
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

// Argmax returns the index of the largest value. NaN never wins.
func Argmax(values []float32) int {
	maxIdx := 0
	maxVal := float32(math.Inf(-1))
	for i, v := range values {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}
