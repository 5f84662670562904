package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/match"
	"github.com/banshee-data/footage.report/internal/video"
)

type recordingSink struct {
	mu     sync.Mutex
	states []State
}

func (r *recordingSink) RecordAnalysis(state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return nil
}

func (r *recordingSink) recorded() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestManager(t *testing.T, frames []*video.Frame, srcErr error, sink HistorySink) *Manager {
	t.Helper()
	detector := &fakeDetector{dets: []detect.Detection{det(0, 0, 60, 120)}}
	matcher := &fakeMatcher{answers: map[string][]match.Match{
		"person_01": {{SuspectID: "suspect_a", Similarity: 0.8, Confidence: 0.8}},
	}}
	m := NewManager(&config.TuningConfig{}, detector, matcher, sink)
	m.openSource = func(ctx context.Context, path string, interval float64) (FrameSource, error) {
		if srcErr != nil {
			return nil, srcErr
		}
		return &fakeSource{frames: frames}, nil
	}
	return m
}

func waitTerminal(t *testing.T, m *Manager, id string) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		st, err := m.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status != StatusProcessing {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("analysis %s never finished", id)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_Lifecycle(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(t, sharpFrames(6), nil, sink)

	id, err := m.Start(RunParams{VideoPath: "test.mp4", SampleInterval: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, m, id)
	if st.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", st)
	}
	if st.Progress != 100 || st.Phase != PhaseCompleted {
		t.Errorf("progress: %+v", st)
	}
	if st.TracksFound != 1 || st.CropsReady != 1 {
		t.Errorf("tracks/crops: %+v", st)
	}
	if st.FinishedAt == nil || st.ProcessingSeconds < 0 {
		t.Errorf("timing: %+v", st)
	}

	res, err := m.Result(id)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Stats.MatchesFound != 1 {
		t.Errorf("result stats: %+v", res.Stats)
	}

	recs := sink.recorded()
	if len(recs) != 1 || recs[0].AnalysisID != id {
		t.Errorf("history: %+v", recs)
	}
}

func TestManager_SampleIntervalResolution(t *testing.T) {
	tests := []struct {
		name     string
		interval float64
		want     float64
	}{
		{name: "explicit zero samples every frame", interval: 0, want: 0},
		{name: "negative selects the configured default", interval: -1, want: 3.0},
		{name: "explicit value passes through", interval: 2.5, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, sharpFrames(2), nil, nil)

			var mu sync.Mutex
			var opened float64
			m.openSource = func(ctx context.Context, path string, interval float64) (FrameSource, error) {
				mu.Lock()
				opened = interval
				mu.Unlock()
				return &fakeSource{frames: sharpFrames(2)}, nil
			}

			id, err := m.Start(RunParams{VideoPath: "test.mp4", SampleInterval: tt.interval})
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			st := waitTerminal(t, m, id)

			mu.Lock()
			got := opened
			mu.Unlock()
			if got != tt.want {
				t.Errorf("source opened with interval %v, want %v", got, tt.want)
			}
			if st.Params.SampleInterval != tt.want {
				t.Errorf("recorded interval %v, want %v", st.Params.SampleInterval, tt.want)
			}
		})
	}
}

func TestManager_ResultNotReady(t *testing.T) {
	m := newTestManager(t, sharpFrames(3), nil, nil)

	// Block completion by never letting the source finish.
	blocked := make(chan struct{})
	m.openSource = func(ctx context.Context, path string, interval float64) (FrameSource, error) {
		return &blockingSource{unblock: blocked}, nil
	}

	id, err := m.Start(RunParams{VideoPath: "test.mp4"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer close(blocked)

	if _, err := m.Result(id); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if n := m.ActiveCount(); n != 1 {
		t.Errorf("active count: %d", n)
	}
}

func TestManager_FailedRun(t *testing.T) {
	sink := &recordingSink{}
	m := newTestManager(t, nil, video.ErrUnopenable, sink)

	id, err := m.Start(RunParams{VideoPath: "broken.mp4"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, m, id)
	if st.Status != StatusFailed || st.Error == "" {
		t.Fatalf("expected failed with message, got %+v", st)
	}
	if _, err := m.Result(id); !errors.Is(err, ErrFailed) {
		t.Errorf("expected ErrFailed, got %v", err)
	}
	if recs := sink.recorded(); len(recs) != 1 || recs[0].Status != StatusFailed {
		t.Errorf("history: %+v", recs)
	}
}

func TestManager_UnknownID(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	if _, err := m.Status("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("status: %v", err)
	}
	if _, err := m.Result("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("result: %v", err)
	}
	if err := m.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete: %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, sharpFrames(3), nil, nil)
	id, err := m.Start(RunParams{VideoPath: "test.mp4"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitTerminal(t, m, id)

	if err := m.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Status(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("status after delete: %v", err)
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	m := newTestManager(t, sharpFrames(2), nil, nil)

	first, _ := m.Start(RunParams{VideoPath: "a.mp4"})
	waitTerminal(t, m, first)
	time.Sleep(2 * time.Millisecond)
	second, _ := m.Start(RunParams{VideoPath: "b.mp4"})
	waitTerminal(t, m, second)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 analyses, got %d", len(list))
	}
	if list[0].AnalysisID != second || list[1].AnalysisID != first {
		t.Errorf("order: %s, %s", list[0].AnalysisID, list[1].AnalysisID)
	}
}

func TestManager_ScratchFileRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, sharpFrames(2), nil, nil)
	id, err := m.Start(RunParams{VideoPath: path, DeleteVideo: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitTerminal(t, m, id)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scratch file still present after completion")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// blockingSource parks ReadFrame until unblocked or cancelled.
type blockingSource struct {
	unblock <-chan struct{}
}

func (s *blockingSource) ReadFrame(ctx context.Context) (*video.Frame, error) {
	select {
	case <-s.unblock:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *blockingSource) Close() error { return nil }
