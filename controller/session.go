package controller

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"qoerouting/common"
	"qoerouting/routing"
)

const (
	phaseBootstrap = "bootstrap"
	phaseActive    = "active"
	phaseFallback  = "fallback"
)

// session accumulates the decisions of one controller run.
type session struct {
	id         string
	experiment int
	startedAt  time.Time
	metrics    []common.MetricRecord
	paths      []common.PathRecord
}

func newSession(experiment int) *session {
	return &session{
		id:         uuid.NewString(),
		experiment: experiment,
		startedAt:  time.Now(),
	}
}

func metricLabel(links int) string {
	return fmt.Sprintf("%d Link Path", links)
}

func (s *session) recordScores(src, dst common.Node, scored []routing.ScoredPath, at time.Time) {
	for _, sp := range scored {
		s.metrics = append(s.metrics, common.MetricRecord{
			Label:    metricLabel(sp.Path.LinkCount()),
			Src:      src.String(),
			Dst:      dst.String(),
			Path:     sp.Path.Strings(),
			Features: sp.Features,
			Score:    sp.Score,
			At:       at,
		})
	}
}

func (s *session) recordPath(src, dst common.Node, path common.Path, phase string, score float64, at time.Time) {
	s.paths = append(s.paths, common.PathRecord{
		Src:   src.String(),
		Dst:   dst.String(),
		Path:  path.Strings(),
		Phase: phase,
		Score: score,
		At:    at,
	})
}

func (s *session) report(endedAt time.Time, host *common.HostSnapshot) *common.SessionReport {
	return &common.SessionReport{
		SessionID:  s.id,
		Experiment: s.experiment,
		StartedAt:  s.startedAt,
		EndedAt:    endedAt,
		Metrics:    s.metrics,
		Paths:      s.paths,
		Host:       host,
	}
}
