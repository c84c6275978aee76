package scoring

import "fmt"

// LinearScorer is score = bias + sum(w_i * x_i). Weights are laid out like
// the feature vector: bandwidth per link, then delay, then loss.
type LinearScorer struct {
	Weights []float64 `json:"weights" toml:"weights"`
	Bias    float64   `json:"bias" toml:"bias"`
}

func NewLinearScorer(weights []float64, bias float64) *LinearScorer {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LinearScorer{Weights: w, Bias: bias}
}

func (l *LinearScorer) Score(features []float64) (float64, error) {
	if len(features) != len(l.Weights) {
		return 0, fmt.Errorf("feature length %d does not match %d weights", len(features), len(l.Weights))
	}
	score := l.Bias
	for i, x := range features {
		score += l.Weights[i] * x
	}
	return score, nil
}

// Validate checks the weight vector against the link count it is meant for.
func (l *LinearScorer) Validate(linkCount int) error {
	if linkCount <= 0 {
		return fmt.Errorf("invalid link count %d", linkCount)
	}
	if len(l.Weights) != 3*linkCount {
		return fmt.Errorf("scorer for %d links needs %d weights, got %d", linkCount, 3*linkCount, len(l.Weights))
	}
	return nil
}
