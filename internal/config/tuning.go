// Package config holds the runtime-tunable parameters of the analysis
// pipeline. The thresholds here were tuned empirically against real CCTV
// footage; the defaults preserve that behaviour, and every value can be
// overridden from a partial JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so that a partial JSON file overrides only the
// values it names; Get* methods supply defaults for the rest.
type TuningConfig struct {
	// Frame sampling and quality gate params
	SampleIntervalSeconds *float64 `json:"sample_interval_seconds,omitempty"`
	MinFrameQuality       *float64 `json:"min_frame_quality,omitempty"`
	BelowAvgFactor        *float64 `json:"below_avg_factor,omitempty"`
	AggressiveMinQuality  *float64 `json:"aggressive_min_quality,omitempty"`
	MaxConsecutiveSkips   *int     `json:"max_consecutive_skips,omitempty"`
	QualityRingSize       *int     `json:"quality_ring_size,omitempty"`
	QualityRingMinFill    *int     `json:"quality_ring_min_fill,omitempty"`

	// Detection batcher params
	DetectionBatchSize   *int     `json:"detection_batch_size,omitempty"`
	MatchingBatchSize    *int     `json:"matching_batch_size,omitempty"`
	BatchTimeout         *string  `json:"batch_timeout,omitempty"` // duration string like "800ms"
	DetectionConfidence  *float64 `json:"detection_confidence,omitempty"`
	DetectionTimeout     *string  `json:"detection_timeout,omitempty"` // duration string like "25s"
	MatchingTimeout      *string  `json:"matching_timeout,omitempty"`  // duration string like "15s"
	MatchThreshold       *float64 `json:"match_threshold,omitempty"`
	HighConfidence       *float64 `json:"high_confidence,omitempty"`
	NormalModeMinMatches *int     `json:"normal_mode_min_matches,omitempty"`

	// Track registry params
	MinCropWidth     *int     `json:"min_crop_width,omitempty"`
	MinCropHeight    *int     `json:"min_crop_height,omitempty"`
	SameTrackMaxDist *float64 `json:"same_track_max_dist,omitempty"`
	SameTrackMinSize *float64 `json:"same_track_min_size_ratio,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the file retain their default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	checkUnit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
		return nil
	}
	if err := checkUnit("min_frame_quality", c.MinFrameQuality); err != nil {
		return err
	}
	if err := checkUnit("below_avg_factor", c.BelowAvgFactor); err != nil {
		return err
	}
	if err := checkUnit("aggressive_min_quality", c.AggressiveMinQuality); err != nil {
		return err
	}
	if err := checkUnit("detection_confidence", c.DetectionConfidence); err != nil {
		return err
	}
	if err := checkUnit("match_threshold", c.MatchThreshold); err != nil {
		return err
	}
	if err := checkUnit("high_confidence", c.HighConfidence); err != nil {
		return err
	}
	if err := checkUnit("same_track_min_size_ratio", c.SameTrackMinSize); err != nil {
		return err
	}

	if c.SampleIntervalSeconds != nil && *c.SampleIntervalSeconds < 0 {
		return fmt.Errorf("sample_interval_seconds must be non-negative, got %f", *c.SampleIntervalSeconds)
	}
	if c.DetectionBatchSize != nil && *c.DetectionBatchSize < 1 {
		return fmt.Errorf("detection_batch_size must be >= 1, got %d", *c.DetectionBatchSize)
	}
	if c.MatchingBatchSize != nil && *c.MatchingBatchSize < 1 {
		return fmt.Errorf("matching_batch_size must be >= 1, got %d", *c.MatchingBatchSize)
	}

	for name, v := range map[string]*string{
		"batch_timeout":     c.BatchTimeout,
		"detection_timeout": c.DetectionTimeout,
		"matching_timeout":  c.MatchingTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSampleIntervalSeconds returns the frame sampling interval or the default.
func (c *TuningConfig) GetSampleIntervalSeconds() float64 {
	if c.SampleIntervalSeconds == nil {
		return 3.0
	}
	return *c.SampleIntervalSeconds
}

// GetMinFrameQuality returns the hard quality floor below which frames are skipped.
func (c *TuningConfig) GetMinFrameQuality() float64 {
	if c.MinFrameQuality == nil {
		return 0.4
	}
	return *c.MinFrameQuality
}

// GetBelowAvgFactor returns the fraction of the rolling average below which
// frames are skipped.
func (c *TuningConfig) GetBelowAvgFactor() float64 {
	if c.BelowAvgFactor == nil {
		return 0.7
	}
	return *c.BelowAvgFactor
}

// GetAggressiveMinQuality returns the quality needed to survive the gate once
// a high-confidence match has been seen.
func (c *TuningConfig) GetAggressiveMinQuality() float64 {
	if c.AggressiveMinQuality == nil {
		return 0.7
	}
	return *c.AggressiveMinQuality
}

// GetMaxConsecutiveSkips returns the longest permitted skip streak.
func (c *TuningConfig) GetMaxConsecutiveSkips() int {
	if c.MaxConsecutiveSkips == nil {
		return 3
	}
	return *c.MaxConsecutiveSkips
}

// GetQualityRingSize returns the size of the rolling quality window.
func (c *TuningConfig) GetQualityRingSize() int {
	if c.QualityRingSize == nil {
		return 10
	}
	return *c.QualityRingSize
}

// GetQualityRingMinFill returns the window fill required before the
// below-average rule applies.
func (c *TuningConfig) GetQualityRingMinFill() int {
	if c.QualityRingMinFill == nil {
		return 5
	}
	return *c.QualityRingMinFill
}

// GetDetectionBatchSize returns the detection batch size.
func (c *TuningConfig) GetDetectionBatchSize() int {
	if c.DetectionBatchSize == nil {
		return 6
	}
	return *c.DetectionBatchSize
}

// GetMatchingBatchSize returns the matching batch size.
func (c *TuningConfig) GetMatchingBatchSize() int {
	if c.MatchingBatchSize == nil {
		return 3
	}
	return *c.MatchingBatchSize
}

// GetBatchTimeout returns the batch formation deadline.
func (c *TuningConfig) GetBatchTimeout() time.Duration {
	return c.duration(c.BatchTimeout, 800*time.Millisecond)
}

// GetDetectionConfidence returns the confidence threshold sent to the detector.
func (c *TuningConfig) GetDetectionConfidence() float64 {
	if c.DetectionConfidence == nil {
		return 0.25
	}
	return *c.DetectionConfidence
}

// GetDetectionTimeout returns the per-request detection timeout.
func (c *TuningConfig) GetDetectionTimeout() time.Duration {
	return c.duration(c.DetectionTimeout, 25*time.Second)
}

// GetMatchingTimeout returns the per-request matching timeout.
func (c *TuningConfig) GetMatchingTimeout() time.Duration {
	return c.duration(c.MatchingTimeout, 15*time.Second)
}

// GetMatchThreshold returns the similarity needed to retain a match.
func (c *TuningConfig) GetMatchThreshold() float64 {
	if c.MatchThreshold == nil {
		return 0.6
	}
	return *c.MatchThreshold
}

// GetHighConfidence returns the similarity that counts as a high-confidence match.
func (c *TuningConfig) GetHighConfidence() float64 {
	if c.HighConfidence == nil {
		return 0.95
	}
	return *c.HighConfidence
}

// GetNormalModeMinMatches returns the match count that, combined with a
// high-confidence sighting, ends matching in normal mode.
func (c *TuningConfig) GetNormalModeMinMatches() int {
	if c.NormalModeMinMatches == nil {
		return 3
	}
	return *c.NormalModeMinMatches
}

// GetMinCropWidth returns the minimum person crop width in pixels.
func (c *TuningConfig) GetMinCropWidth() int {
	if c.MinCropWidth == nil {
		return 50
	}
	return *c.MinCropWidth
}

// GetMinCropHeight returns the minimum person crop height in pixels.
func (c *TuningConfig) GetMinCropHeight() int {
	if c.MinCropHeight == nil {
		return 100
	}
	return *c.MinCropHeight
}

// GetSameTrackMaxDist returns the bbox-centre distance (pixels) under which
// two detections may belong to the same track.
func (c *TuningConfig) GetSameTrackMaxDist() float64 {
	if c.SameTrackMaxDist == nil {
		return 150
	}
	return *c.SameTrackMaxDist
}

// GetSameTrackMinSize returns the bbox area ratio above which two detections
// may belong to the same track.
func (c *TuningConfig) GetSameTrackMinSize() float64 {
	if c.SameTrackMinSize == nil {
		return 0.6
	}
	return *c.SameTrackMinSize
}
