package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/monitoring"
	"github.com/banshee-data/footage.report/internal/video"
)

// Track is one candidate person identity discovered in the video, aggregated
// across frames by spatial proximity. The best-quality crop seen so far is the
// one eventually sent to the matcher.
type Track struct {
	TrackID              string
	FirstFrameIndex      int
	FirstTimestamp       float64
	BestCrop             *Crop
	DetectorConfidence   float64
	AppearanceFrames     []int
	AppearanceTimestamps []float64
}

// TrackRegistry assigns detections to tracks with a cheap spatial heuristic:
// a detection joins the first existing track (insertion order) whose best
// crop sits within SameTrackMaxDist pixels and has a compatible box size.
// The expensive identity work happens later in the matcher.
//
// Owned by a single goroutine; no locking.
type TrackRegistry struct {
	cfg    *config.TuningConfig
	tracks []*Track
	nextID int
}

func NewTrackRegistry(cfg *config.TuningConfig) *TrackRegistry {
	return &TrackRegistry{cfg: cfg}
}

// Observe folds one frame's detections into the registry. Detections whose
// crops are rejected (degenerate or undersized boxes) are dropped here.
func (r *TrackRegistry) Observe(frame *video.Frame, detections []detect.Detection) {
	for _, d := range detections {
		crop := ExtractCrop(frame, d, r.cfg)
		if crop == nil {
			continue
		}
		if t := r.assign(crop); t != nil {
			r.update(t, frame, crop, d.Confidence)
		} else {
			r.create(frame, crop, d.Confidence)
		}
	}
}

// assign returns the first track in insertion order close enough to the crop,
// or nil when the crop belongs to nobody seen so far.
func (r *TrackRegistry) assign(crop *Crop) *Track {
	maxDist := float64(r.cfg.GetSameTrackMaxDist())
	minSize := r.cfg.GetSameTrackMinSize()

	cx, cy := crop.BBox.Center()
	area := crop.BBox.Area()

	for _, t := range r.tracks {
		tx, ty := t.BestCrop.BBox.Center()
		dist := math.Hypot(cx-tx, cy-ty)
		if dist >= maxDist {
			continue
		}
		tArea := t.BestCrop.BBox.Area()
		ratio := math.Min(area, tArea) / math.Max(area, tArea)
		if ratio > minSize {
			return t
		}
	}
	return nil
}

func (r *TrackRegistry) update(t *Track, frame *video.Frame, crop *Crop, confidence float64) {
	n := len(t.AppearanceFrames)
	if n == 0 || t.AppearanceFrames[n-1] != frame.Index {
		t.AppearanceFrames = append(t.AppearanceFrames, frame.Index)
		t.AppearanceTimestamps = append(t.AppearanceTimestamps, frame.Timestamp)
	}
	if crop.Quality > t.BestCrop.Quality {
		t.BestCrop = crop
		t.DetectorConfidence = confidence
	}
}

func (r *TrackRegistry) create(frame *video.Frame, crop *Crop, confidence float64) {
	r.nextID++
	t := &Track{
		TrackID:              fmt.Sprintf("person_%02d", r.nextID),
		FirstFrameIndex:      frame.Index,
		FirstTimestamp:       frame.Timestamp,
		BestCrop:             crop,
		DetectorConfidence:   confidence,
		AppearanceFrames:     []int{frame.Index},
		AppearanceTimestamps: []float64{frame.Timestamp},
	}
	r.tracks = append(r.tracks, t)
	monitoring.Diagf("[Tracks] new track %s at frame %d (t=%.2fs)", t.TrackID, frame.Index, frame.Timestamp)
}

// Tracks returns the registry contents in insertion order.
func (r *TrackRegistry) Tracks() []*Track {
	return r.tracks
}

// TracksByQuality returns a copy sorted by descending best-crop quality, the
// order tracks are flushed to the matcher. Ties keep insertion order.
func (r *TrackRegistry) TracksByQuality() []*Track {
	out := make([]*Track, len(r.tracks))
	copy(out, r.tracks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BestCrop.Quality > out[j].BestCrop.Quality
	})
	return out
}

// Count returns the number of tracks discovered so far.
func (r *TrackRegistry) Count() int {
	return len(r.tracks)
}
