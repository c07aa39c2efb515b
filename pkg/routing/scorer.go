package routing

import (
	"sort"
	"time"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ScoreBreakdown is the normalized components of a candidate's score.
type ScoreBreakdown struct {
	SuccessRate float64 `json:"successRate"`
	Speed       float64 `json:"speed"`
	Load        float64 `json:"load"`
	Relevance   float64 `json:"relevance"`
}

// Candidate is a scored tool considered for one routing call.
type Candidate struct {
	Tool      *tools.Tool    `json:"tool"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	State     BreakerState   `json:"state"`
}

// Scorer combines performance history, load and relevance into a single
// score in [0, 1].
type Scorer struct {
	weights          map[Optimization]ScoringWeights
	latencyReference time.Duration
	maxPerTool       int
}

// NewScorer creates a scorer from the router config.
func NewScorer(cfg Config) *Scorer {
	weights := DefaultWeights()
	for mode, w := range cfg.Weights {
		weights[mode] = w
	}
	return &Scorer{
		weights:          weights,
		latencyReference: cfg.LatencyReference,
		maxPerTool:       cfg.Balancer.MaxConcurrentPerTool,
	}
}

// Weights returns the weight set used for mode.
func (s *Scorer) Weights(mode Optimization) ScoringWeights {
	if w, ok := s.weights[mode]; ok {
		return w
	}
	return s.weights[OptimizeBalanced]
}

// Score computes one candidate's score.
//
// Success rate uses the recent window with a Laplace prior, so a tool
// without samples starts at 0.5. Speed is 1/(1+avg/reference), falling
// back to the declared expected latency and then to 0.5. Load is the
// free share of the per-tool concurrency limit. A HALF_OPEN tool is
// halved so healthy peers win ties.
func (s *Scorer) Score(tool *tools.Tool, metric tools.PerformanceMetric, hasMetric bool, active int, relevance float64, state BreakerState, mode Optimization) Candidate {
	b := ScoreBreakdown{
		SuccessRate: s.successRate(metric, hasMetric),
		Speed:       s.speed(tool, metric, hasMetric),
		Load:        s.load(active),
		Relevance:   clamp01(relevance),
	}

	w := s.Weights(mode)
	score := 0.0
	if total := w.sum(); total > 0 {
		score = (w.SuccessRate*b.SuccessRate + w.Speed*b.Speed + w.Load*b.Load + w.Relevance*b.Relevance) / total
	}
	if state == StateHalfOpen {
		score *= 0.5
	}
	return Candidate{Tool: tool, Score: score, Breakdown: b, State: state}
}

func (s *Scorer) successRate(m tools.PerformanceMetric, ok bool) float64 {
	if !ok {
		return 0.5
	}
	successes, samples := 0, len(m.Recent)
	for _, r := range m.Recent {
		if r {
			successes++
		}
	}
	return float64(successes+1) / float64(samples+2)
}

func (s *Scorer) speed(tool *tools.Tool, m tools.PerformanceMetric, ok bool) float64 {
	avg := time.Duration(0)
	switch {
	case ok && m.TotalExecutions > 0:
		avg = m.AverageExecutionTime
	case tool.Metadata != nil && tool.Metadata.ExpectedLatency > 0:
		avg = tool.Metadata.ExpectedLatency
	default:
		return 0.5
	}
	ref := s.latencyReference
	if ref <= 0 {
		ref = time.Second
	}
	return 1 / (1 + float64(avg)/float64(ref))
}

func (s *Scorer) load(active int) float64 {
	if s.maxPerTool <= 0 {
		return 1
	}
	return clamp01(1 - float64(active)/float64(s.maxPerTool))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sortCandidates orders by descending score, ties broken by id.
func sortCandidates(list []Candidate) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Tool.ID < list[j].Tool.ID
	})
}
