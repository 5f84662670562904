package analysis

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

// SkipReason labels why the gate dropped (or force-kept) a frame.
type SkipReason string

const (
	SkipNone            SkipReason = "none"
	SkipLowQuality      SkipReason = "low_quality"
	SkipBelowAvg        SkipReason = "below_avg"
	SkipMaxSkipOverride SkipReason = "max_skip_override"
	SkipAggressive      SkipReason = "aggressive_skip"
)

// QualityDecision is the gate's verdict on one sampled frame.
type QualityDecision struct {
	Process bool
	Quality float64
	Reason  SkipReason
}

// SkipStats summarises the gate's activity across a run.
type SkipStats struct {
	Sampled    int
	Processed  int
	Skipped    int
	ByReason   map[SkipReason]int
	AvgQuality float64
}

// FrameSkipper decides, statefully, which sampled frames are worth sending to
// the detector. It tracks a ring of recent qualities so locally worse frames
// get dropped, bounds skip streaks so the gate can never starve the detector,
// and skips harder once a high-confidence match has been seen.
//
// Not safe for concurrent use; the pipeline runs one gate per analysis on the
// decode goroutine.
type FrameSkipper struct {
	cfg  *config.TuningConfig
	term *Terminator

	ring     []float64
	ringNext int

	skipCount  int
	sampled    int
	processed  int
	skipped    int
	byReason   map[SkipReason]int
	qualitySum float64
}

func NewFrameSkipper(cfg *config.TuningConfig, term *Terminator) *FrameSkipper {
	return &FrameSkipper{
		cfg:      cfg,
		term:     term,
		ring:     make([]float64, 0, cfg.GetQualityRingSize()),
		byReason: make(map[SkipReason]int),
	}
}

// Observe scores the decision for a frame of the given quality. The quality
// joins the ring before the decision so the running average always reflects
// the newest frame.
func (s *FrameSkipper) Observe(quality float64) QualityDecision {
	s.sampled++
	s.qualitySum += quality
	s.push(quality)

	d := s.decide(quality)
	if d.Process {
		s.processed++
		s.skipCount = 0
	} else {
		s.skipped++
		s.skipCount++
	}
	if d.Reason != SkipNone {
		s.byReason[d.Reason]++
	}
	if !d.Process {
		monitoring.Tracef("[Gate] skip (%s) quality=%.3f streak=%d", d.Reason, quality, s.skipCount)
	}
	return d
}

// decide applies the gate rules in priority order. First match wins.
func (s *FrameSkipper) decide(quality float64) QualityDecision {
	if s.term != nil && s.term.Fired() && quality < s.cfg.GetAggressiveMinQuality() {
		return QualityDecision{Process: false, Quality: quality, Reason: SkipAggressive}
	}
	if s.skipCount >= s.cfg.GetMaxConsecutiveSkips() {
		return QualityDecision{Process: true, Quality: quality, Reason: SkipMaxSkipOverride}
	}
	if quality < s.cfg.GetMinFrameQuality() {
		return QualityDecision{Process: false, Quality: quality, Reason: SkipLowQuality}
	}
	if len(s.ring) >= s.cfg.GetQualityRingMinFill() &&
		quality < s.cfg.GetBelowAvgFactor()*stat.Mean(s.ring, nil) {
		return QualityDecision{Process: false, Quality: quality, Reason: SkipBelowAvg}
	}
	return QualityDecision{Process: true, Quality: quality, Reason: SkipNone}
}

func (s *FrameSkipper) push(quality float64) {
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, quality)
		return
	}
	s.ring[s.ringNext] = quality
	s.ringNext = (s.ringNext + 1) % len(s.ring)
}

// Stats reports the gate's counters so far.
func (s *FrameSkipper) Stats() SkipStats {
	st := SkipStats{
		Sampled:   s.sampled,
		Processed: s.processed,
		Skipped:   s.skipped,
		ByReason:  make(map[SkipReason]int, len(s.byReason)),
	}
	for r, n := range s.byReason {
		st.ByReason[r] = n
	}
	if s.sampled > 0 {
		st.AvgQuality = s.qualitySum / float64(s.sampled)
	}
	return st
}
