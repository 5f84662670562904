package analysis

// PipelineStats summarises one run for status and result payloads.
type PipelineStats struct {
	FramesSampled      int     `json:"frames_sampled"`
	FramesProcessed    int     `json:"frames_processed"`
	FramesSkipped      int     `json:"frames_skipped"`
	SkipRate           float64 `json:"skip_rate"`
	AvgQuality         float64 `json:"avg_quality"`
	TracksFound        int     `json:"tracks_found"`
	MatchesFound       int     `json:"matches_found"`
	HighConfidenceSeen bool    `json:"high_confidence_seen"`
}

func statsFromSkipper(sk SkipStats) PipelineStats {
	st := PipelineStats{
		FramesSampled:   sk.Sampled,
		FramesProcessed: sk.Processed,
		FramesSkipped:   sk.Skipped,
		AvgQuality:      sk.AvgQuality,
	}
	if sk.Sampled > 0 {
		st.SkipRate = float64(sk.Skipped) / float64(sk.Sampled)
	}
	return st
}
