package routing

import (
	"qoerouting/common"
	"qoerouting/scoring"

	log "github.com/sirupsen/logrus"
)

type ScoredPath struct {
	Path     common.Path
	Features []float64
	Score    float64
}

// ScoreCandidates scores every candidate with the scorer registered for its
// link count. Candidates without a scorer, or whose scorer fails, are left
// out; enumeration order is kept.
func ScoreCandidates(store *common.TopologyStore, scorers *scoring.Registry, candidates []common.Path) []ScoredPath {
	scored := make([]ScoredPath, 0, len(candidates))
	for i, p := range candidates {
		n := p.LinkCount()
		scorer, err := scorers.Get(n)
		if err != nil {
			log.Debugf("ScoreCandidates: skip candidate[%d] links=%d: %v", i, n, err)
			continue
		}
		features := store.PathFeatures(p)
		score, err := scorer.Score(features)
		if err != nil {
			log.Warnf("ScoreCandidates: scorer failed for candidate[%d] links=%d: %v", i, n, err)
			continue
		}
		scored = append(scored, ScoredPath{Path: p, Features: features, Score: score})
	}
	return scored
}

// FirstArgmax returns the highest score; ties go to the earliest entry.
func FirstArgmax(scored []ScoredPath) (ScoredPath, bool) {
	if len(scored) == 0 {
		return ScoredPath{}, false
	}
	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].Score > scored[best].Score {
			best = i
		}
	}
	return scored[best], true
}
