package analysis

import (
	"encoding/base64"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footage.report/internal/detect"
)

// TimelineEntry records one sighting of a matched target. A track that
// appears in k sampled frames contributes k entries.
type TimelineEntry struct {
	SuspectID    string  `json:"suspect_id"`
	PersonID     string  `json:"person_id"`
	Similarity   float64 `json:"similarity"`
	Confidence   float64 `json:"confidence"`
	FrameIndex   int     `json:"frame_index"`
	Timestamp    float64 `json:"timestamp"`
	TimestampStr string  `json:"timestamp_str"`
}

// CropImage is the best crop of a matched track, base64-encoded for the API.
type CropImage struct {
	SuspectID        string      `json:"suspect_id"`
	PersonID         string      `json:"person_id"`
	Timestamp        float64     `json:"timestamp"`
	TimestampStr     string      `json:"timestamp_str"`
	Similarity       float64     `json:"similarity"`
	CroppedImage     string      `json:"cropped_image"`
	BBox             detect.BBox `json:"bbox"`
	TotalAppearances int         `json:"total_appearances"`
	CropQuality      float64     `json:"crop_quality"`
}

// MovementSummary describes one target's path through the footage.
type MovementSummary struct {
	TotalAppearances int     `json:"total_appearances"`
	EntryTime        string  `json:"entry_time"`
	ExitTime         string  `json:"exit_time"`
	DurationSeconds  float64 `json:"duration_seconds"`
	AvgSimilarity    float64 `json:"avg_similarity"`
	MaxSimilarity    float64 `json:"max_similarity"`
}

// MovementAnalysis groups the per-target summaries.
type MovementAnalysis struct {
	TotalSuspects    int                        `json:"total_suspects"`
	SuspectsDetected []string                   `json:"suspects_detected"`
	PerSuspect       map[string]MovementSummary `json:"movement_analysis"`
	TotalDetections  int                        `json:"total_detections"`
}

// Result is the complete output of a finished analysis.
type Result struct {
	Timeline   []TimelineEntry  `json:"timeline"`
	CropImages []CropImage      `json:"crop_images"`
	Movement   MovementAnalysis `json:"movement_summary"`
	Stats      PipelineStats    `json:"stats"`
}

// FormatTimestamp renders seconds-from-start as "MM:SS".
func FormatTimestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// CompileResult turns retained matches into the final timeline, crop set, and
// movement summary. Timeline entries preserve per-track chronological order;
// tracks appear in match order.
func CompileResult(matches []TrackMatch, stats PipelineStats) *Result {
	res := &Result{
		Timeline:   []TimelineEntry{},
		CropImages: []CropImage{},
		Stats:      stats,
	}

	for _, m := range matches {
		tr := m.Track
		for i, frameIdx := range tr.AppearanceFrames {
			ts := tr.AppearanceTimestamps[i]
			res.Timeline = append(res.Timeline, TimelineEntry{
				SuspectID:    m.TargetID,
				PersonID:     tr.TrackID,
				Similarity:   m.Similarity,
				Confidence:   m.Confidence,
				FrameIndex:   frameIdx,
				Timestamp:    ts,
				TimestampStr: FormatTimestamp(ts),
			})
		}
		res.CropImages = append(res.CropImages, CropImage{
			SuspectID:        m.TargetID,
			PersonID:         tr.TrackID,
			Timestamp:        tr.FirstTimestamp,
			TimestampStr:     FormatTimestamp(tr.FirstTimestamp),
			Similarity:       m.Similarity,
			CroppedImage:     base64.StdEncoding.EncodeToString(tr.BestCrop.PNG),
			BBox:             tr.BestCrop.BBox,
			TotalAppearances: len(tr.AppearanceFrames),
			CropQuality:      tr.BestCrop.Quality,
		})
	}

	res.Movement = analyzeMovement(res.Timeline)
	return res
}

// analyzeMovement derives entry/exit times and similarity aggregates per
// target from the timeline.
func analyzeMovement(timeline []TimelineEntry) MovementAnalysis {
	ma := MovementAnalysis{
		SuspectsDetected: []string{},
		PerSuspect:       map[string]MovementSummary{},
		TotalDetections:  len(timeline),
	}

	bySuspect := map[string][]TimelineEntry{}
	for _, e := range timeline {
		if _, seen := bySuspect[e.SuspectID]; !seen {
			ma.SuspectsDetected = append(ma.SuspectsDetected, e.SuspectID)
		}
		bySuspect[e.SuspectID] = append(bySuspect[e.SuspectID], e)
	}
	ma.TotalSuspects = len(bySuspect)

	for id, entries := range bySuspect {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

		sims := make([]float64, len(entries))
		for i, e := range entries {
			sims[i] = e.Similarity
		}

		first, last := entries[0], entries[len(entries)-1]
		ma.PerSuspect[id] = MovementSummary{
			TotalAppearances: len(entries),
			EntryTime:        first.TimestampStr,
			ExitTime:         last.TimestampStr,
			DurationSeconds:  last.Timestamp - first.Timestamp,
			AvgSimilarity:    stat.Mean(sims, nil),
			MaxSimilarity:    floats.Max(sims),
		}
	}
	return ma
}
