package engine

import "github.com/rs/zerolog"

// Stats collects search counters. Nodes and Depth are always maintained;
// the remaining counters are only filled when metrics are enabled.
type Stats struct {
	Nodes         uint64 // Positions visited
	TTProbes      uint64
	TTHits        uint64
	Interior      uint64 // Nodes that expanded at least one move
	Branches      uint64 // Legal moves seen at interior nodes
	Explored      uint64 // Moves actually searched
	Cutoffs       uint64 // Beta cutoffs
	Depth         int    // Deepest completed iteration
	AbortedDepths int    // Iterations abandoned at the deadline
}

func (s *Stats) merge(o Stats) {
	s.Nodes += o.Nodes
	s.TTProbes += o.TTProbes
	s.TTHits += o.TTHits
	s.Interior += o.Interior
	s.Branches += o.Branches
	s.Explored += o.Explored
	s.Cutoffs += o.Cutoffs
	s.AbortedDepths += o.AbortedDepths
	s.Depth = max(s.Depth, o.Depth)
}

// HitRate returns the transposition table hit rate as a percentage.
func (s Stats) HitRate() float64 {
	if s.TTProbes == 0 {
		return 0
	}
	return float64(s.TTHits) / float64(s.TTProbes) * 100
}

// PrunedPercent returns the share of legal moves skipped by cutoffs.
func (s Stats) PrunedPercent() float64 {
	if s.Branches == 0 {
		return 0
	}
	return float64(s.Branches-s.Explored) / float64(s.Branches) * 100
}

// BranchFactor returns the average number of moves searched per interior node.
func (s Stats) BranchFactor() float64 {
	if s.Interior == 0 {
		return 0
	}
	return float64(s.Explored) / float64(s.Interior)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("nodes", s.Nodes).
		Int("depth", s.Depth).
		Int("aborted", s.AbortedDepths).
		Float64("tt-hit-rate", s.HitRate()).
		Float64("pruned", s.PrunedPercent()).
		Float64("branch-factor", s.BranchFactor()).
		Uint64("cutoffs", s.Cutoffs)
}
