package analysis

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/match"
	"github.com/banshee-data/footage.report/internal/video"
)

// fakeSource replays a fixed frame sequence, then io.EOF or a scripted error.
type fakeSource struct {
	frames []*video.Frame
	pos    int
	err    error
	closed bool
}

func (s *fakeSource) ReadFrame(ctx context.Context) (*video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func sharpFrames(n int) []*video.Frame {
	frames := make([]*video.Frame, n)
	for i := range frames {
		frames[i] = &video.Frame{
			Index:     i * 30,
			Timestamp: float64(i),
			Image:     noisyFrame(64, 128, int64(i)),
		}
	}
	return frames
}

type progressLog struct {
	mu      sync.Mutex
	entries []string
	percent int
}

func (p *progressLog) record(phase string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, phase)
	p.percent = percent
}

func TestPipeline_SingleTargetRealtime(t *testing.T) {
	detector := &fakeDetector{dets: []detect.Detection{det(0, 0, 60, 120)}}
	matcher := &fakeMatcher{answers: map[string][]match.Match{
		"person_01": {{SuspectID: "suspect_a", Similarity: 0.97, Confidence: 0.97}},
	}}
	p := &Pipeline{Detector: detector, Matcher: matcher, Tuning: &config.TuningConfig{}}

	var prog progressLog
	res, err := p.Run(context.Background(), &fakeSource{frames: sharpFrames(8)}, true, prog.record)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Stats.TracksFound < 1 {
		t.Errorf("expected at least one track: %+v", res.Stats)
	}
	if res.Stats.MatchesFound != 1 {
		t.Errorf("expected one match: %+v", res.Stats)
	}
	if !res.Stats.HighConfidenceSeen {
		t.Error("0.97 similarity should set high_confidence_seen")
	}
	if len(res.Timeline) == 0 || res.Timeline[0].SuspectID != "suspect_a" {
		t.Errorf("timeline: %+v", res.Timeline)
	}
	if prog.percent != 100 {
		t.Errorf("final progress %d, phases %v", prog.percent, prog.entries)
	}
	if prog.entries[len(prog.entries)-1] != PhaseCompleted {
		t.Errorf("phases: %v", prog.entries)
	}
}

func TestPipeline_NoTargets(t *testing.T) {
	detector := &fakeDetector{dets: []detect.Detection{det(0, 0, 60, 120)}}
	matcher := &fakeMatcher{} // no registered targets, every query comes back empty
	p := &Pipeline{Detector: detector, Matcher: matcher, Tuning: &config.TuningConfig{}}

	res, err := p.Run(context.Background(), &fakeSource{frames: sharpFrames(6)}, false, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stats.MatchesFound != 0 {
		t.Errorf("expected no matches: %+v", res.Stats)
	}
	if res.Stats.HighConfidenceSeen {
		t.Error("flag must stay down without matches")
	}
	if res.Stats.TracksFound < 1 {
		t.Errorf("tracks may still exist without targets: %+v", res.Stats)
	}
}

func TestPipeline_AllFramesBlack(t *testing.T) {
	// Pure black frames score the quality floor. Every frame is skipped as
	// low quality except the streak-cap overrides, which reach the detector
	// and come back empty.
	frames := make([]*video.Frame, 12)
	for i := range frames {
		frames[i] = &video.Frame{Index: i * 30, Timestamp: float64(i), Image: uniformFrame(64, 128, 0)}
	}
	detector := &fakeDetector{} // nothing detected
	p := &Pipeline{Detector: detector, Matcher: &fakeMatcher{}, Tuning: &config.TuningConfig{}}

	res, err := p.Run(context.Background(), &fakeSource{frames: frames}, false, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stats.TracksFound != 0 || res.Stats.MatchesFound != 0 {
		t.Errorf("stats: %+v", res.Stats)
	}
	// Every 4th frame is forced through the gate, the rest skip.
	if res.Stats.FramesProcessed != 3 || res.Stats.FramesSkipped != 9 {
		t.Errorf("expected 3 processed / 9 skipped: %+v", res.Stats)
	}
	if res.Stats.FramesProcessed+res.Stats.FramesSkipped != res.Stats.FramesSampled {
		t.Errorf("sampled mismatch: %+v", res.Stats)
	}
}

func TestPipeline_DetectorDown(t *testing.T) {
	detector := &fakeDetector{fail: func(int) bool { return true }}
	p := &Pipeline{Detector: detector, Matcher: &fakeMatcher{}, Tuning: &config.TuningConfig{}}

	res, err := p.Run(context.Background(), &fakeSource{frames: sharpFrames(6)}, false, nil)
	if err != nil {
		t.Fatalf("detector outage must not fail the run: %v", err)
	}
	if res.Stats.TracksFound != 0 {
		t.Errorf("expected no tracks: %+v", res.Stats)
	}
	if res.Stats.FramesProcessed == 0 {
		t.Errorf("frames were still processed: %+v", res.Stats)
	}
}

func TestPipeline_SourceErrorFailsRun(t *testing.T) {
	src := &fakeSource{frames: sharpFrames(3), err: video.ErrCorrupt}
	p := &Pipeline{Detector: &fakeDetector{}, Matcher: &fakeMatcher{}, Tuning: &config.TuningConfig{}}

	_, err := p.Run(context.Background(), src, false, nil)
	if !errors.Is(err, video.ErrCorrupt) {
		t.Errorf("expected decode error to propagate, got %v", err)
	}
}

func TestPipeline_NormalModeStopRule(t *testing.T) {
	// Many distinct people; the first queried track is high confidence.
	// Normal mode keeps matching until three matches accumulate.
	frames := make([]*video.Frame, 10)
	for i := range frames {
		frames[i] = &video.Frame{Index: i * 30, Timestamp: float64(i), Image: noisyFrame(1280, 720, int64(i))}
	}
	// Spread detections far apart per frame so each becomes its own track.
	detector := &scriptedDetector{}
	matcher := &scriptedMatcher{highFirst: true}
	p := &Pipeline{Detector: detector, Matcher: matcher, Tuning: &config.TuningConfig{}}

	res, err := p.Run(context.Background(), &fakeSource{frames: frames}, false, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stats.MatchesFound < 3 {
		t.Errorf("expected at least 3 matches before stopping: %+v", res.Stats)
	}
	if !res.Stats.HighConfidenceSeen {
		t.Error("flag should be up")
	}
}

// scriptedDetector returns one detection in a different spot per request, so
// every processed frame yields a fresh track.
type scriptedDetector struct {
	mu sync.Mutex
	n  int
}

func (d *scriptedDetector) DetectPersons(ctx context.Context, png []byte, confidence float64) ([]detect.Detection, error) {
	d.mu.Lock()
	d.n++
	off := float64(d.n * 160)
	d.mu.Unlock()
	return []detect.Detection{det(off, 100, off+100, 300)}, nil
}

// scriptedMatcher gives the first query a high-confidence hit and every later
// query a moderate one.
type scriptedMatcher struct {
	mu        sync.Mutex
	n         int
	highFirst bool
}

func (m *scriptedMatcher) IdentifyPerson(ctx context.Context, png []byte, name string, threshold float64) ([]match.Match, error) {
	m.mu.Lock()
	m.n++
	first := m.n == 1
	m.mu.Unlock()
	if first && m.highFirst {
		return []match.Match{{SuspectID: "suspect_a", Similarity: 0.97, Confidence: 0.97}}, nil
	}
	return []match.Match{{SuspectID: "suspect_a", Similarity: 0.7, Confidence: 0.7}}, nil
}
