package scoring

import (
	"fmt"
	"sort"
	"sync"
)

// Scorer maps an ordered per-link feature vector [bw..., delay..., loss...]
// to a QoE score. Implementations must not block.
type Scorer interface {
	Score(features []float64) (float64, error)
}

type ScorerFunc func(features []float64) (float64, error)

func (f ScorerFunc) Score(features []float64) (float64, error) {
	return f(features)
}

// Registry holds one scorer per path link count.
type Registry struct {
	scorers map[int]Scorer
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		scorers: make(map[int]Scorer),
	}
}

// Register adds a scorer for the link count; a second registration for the
// same count is an error.
func (r *Registry) Register(linkCount int, scorer Scorer) error {
	if linkCount <= 0 {
		return fmt.Errorf("invalid link count %d", linkCount)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scorers[linkCount]; exists {
		return fmt.Errorf("scorer for %d links is already registered", linkCount)
	}
	r.scorers[linkCount] = scorer
	return nil
}

// Replace installs or swaps the scorer for the link count.
func (r *Registry) Replace(linkCount int, scorer Scorer) error {
	if linkCount <= 0 {
		return fmt.Errorf("invalid link count %d", linkCount)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[linkCount] = scorer
	return nil
}

func (r *Registry) Get(linkCount int) (Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scorer, exists := r.scorers[linkCount]
	if !exists {
		return nil, fmt.Errorf("scorer for %d links not found in registry", linkCount)
	}
	return scorer, nil
}

func (r *Registry) Remove(linkCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scorers, linkCount)
}

// LinkCounts returns the registered link counts in ascending order.
func (r *Registry) LinkCounts() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make([]int, 0, len(r.scorers))
	for n := range r.scorers {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	return counts
}
