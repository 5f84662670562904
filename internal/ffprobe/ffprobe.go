// Package ffprobe extracts video stream properties using the ffprobe binary.
package ffprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo contains the properties of a video's primary stream.
type VideoInfo struct {
	Width        int
	Height       int
	FPS          float64
	TotalFrames  int64 // 0 when the container does not carry a frame count
	DurationSecs float64
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// runFFprobe executes ffprobe and returns the parsed output.
func runFFprobe(ctx context.Context, inputPath string) (*ffprobeOutput, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ffprobeOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &result, nil
}

// GetVideoInfo returns the properties of the first video stream in a file.
func GetVideoInfo(ctx context.Context, inputPath string) (*VideoInfo, error) {
	probe, err := runFFprobe(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return videoInfoFromProbe(probe)
}

func videoInfoFromProbe(probe *ffprobeOutput) (*VideoInfo, error) {
	var stream *ffprobeStream
	for i := range probe.Streams {
		if probe.Streams[i].CodecType == "video" {
			stream = &probe.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, fmt.Errorf("no video stream found")
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d", stream.Width, stream.Height)
	}

	fps, err := ParseRate(stream.RFrameRate)
	if err != nil || fps <= 0 {
		// Some containers only carry avg_frame_rate.
		fps, err = ParseRate(stream.AvgFrameRate)
		if err != nil || fps <= 0 {
			return nil, fmt.Errorf("cannot determine frame rate: %v", err)
		}
	}

	info := &VideoInfo{
		Width:  stream.Width,
		Height: stream.Height,
		FPS:    fps,
	}

	if stream.NbFrames != "" {
		if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
			info.TotalFrames = n
		}
	}

	dur := stream.Duration
	if dur == "" {
		dur = probe.Format.Duration
	}
	if dur != "" {
		if d, err := strconv.ParseFloat(dur, 64); err == nil {
			info.DurationSecs = d
		}
	}
	if info.TotalFrames == 0 && info.DurationSecs > 0 {
		info.TotalFrames = int64(info.DurationSecs * fps)
	}

	return info, nil
}

// ParseRate parses an ffprobe rational rate string such as "30000/1001" or "25".
func ParseRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	if rate == "" || rate == "0/0" {
		return 0, fmt.Errorf("empty rate")
	}
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("invalid rate %q: zero denominator", rate)
		}
		return n / d, nil
	}
	v, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	return v, nil
}
