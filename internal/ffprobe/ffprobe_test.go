package ffprobe

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		name    string
		rate    string
		want    float64
		wantErr bool
	}{
		{name: "integer", rate: "25", want: 25},
		{name: "rational", rate: "30000/1001", want: 29.97002997},
		{name: "simple fraction", rate: "30/1", want: 30},
		{name: "whitespace", rate: " 24/1 ", want: 24},
		{name: "empty", rate: "", wantErr: true},
		{name: "zero over zero", rate: "0/0", wantErr: true},
		{name: "zero denominator", rate: "30/0", wantErr: true},
		{name: "garbage", rate: "fast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRate(tt.rate)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRate(%q) expected error, got %v", tt.rate, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRate(%q): %v", tt.rate, err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ParseRate(%q) = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestVideoInfoFromProbe(t *testing.T) {
	raw := `{
		"format": {"duration": "30.0"},
		"streams": [
			{"codec_type": "audio", "channels": 2},
			{"codec_type": "video", "width": 1920, "height": 1080,
			 "r_frame_rate": "30/1", "nb_frames": "900"}
		]
	}`
	var probe ffprobeOutput
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		t.Fatal(err)
	}

	info, err := videoInfoFromProbe(&probe)
	if err != nil {
		t.Fatalf("videoInfoFromProbe: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", info.Width, info.Height)
	}
	if info.FPS != 30 {
		t.Errorf("FPS = %v, want 30", info.FPS)
	}
	if info.TotalFrames != 900 {
		t.Errorf("TotalFrames = %d, want 900", info.TotalFrames)
	}
	if info.DurationSecs != 30 {
		t.Errorf("DurationSecs = %v, want 30", info.DurationSecs)
	}
}

func TestVideoInfoFromProbe_FrameCountFromDuration(t *testing.T) {
	raw := `{
		"format": {"duration": "10.0"},
		"streams": [
			{"codec_type": "video", "width": 640, "height": 480,
			 "r_frame_rate": "0/0", "avg_frame_rate": "25/1"}
		]
	}`
	var probe ffprobeOutput
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		t.Fatal(err)
	}

	info, err := videoInfoFromProbe(&probe)
	if err != nil {
		t.Fatalf("videoInfoFromProbe: %v", err)
	}
	if info.FPS != 25 {
		t.Errorf("FPS = %v, want 25 (fallback to avg_frame_rate)", info.FPS)
	}
	if info.TotalFrames != 250 {
		t.Errorf("TotalFrames = %d, want 250 (derived from duration)", info.TotalFrames)
	}
}

func TestVideoInfoFromProbe_NoVideoStream(t *testing.T) {
	probe := &ffprobeOutput{Streams: []ffprobeStream{{CodecType: "audio"}}}
	if _, err := videoInfoFromProbe(probe); err == nil {
		t.Error("expected error for file with no video stream")
	}
}
