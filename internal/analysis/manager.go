package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/monitoring"
	"github.com/banshee-data/footage.report/internal/video"
)

// Status is an analysis lifecycle state. Terminal states never transition.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound = errors.New("analysis not found")
	ErrNotReady = errors.New("analysis not complete")
	ErrFailed   = errors.New("analysis failed")
)

// RunParams are the caller-supplied knobs for one analysis.
type RunParams struct {
	VideoPath string `json:"video_path"`

	// SampleInterval is the seconds between sampled frames. 0 samples every
	// frame; negative selects the configured default.
	SampleInterval float64 `json:"fps_interval"`
	StopOnDetect   bool    `json:"stop_on_detect"`
	Location       string  `json:"location"`
	Date           string  `json:"date"`

	// DeleteVideo removes VideoPath once the analysis reaches a terminal
	// state. Set for uploads decoded from a scratch file.
	DeleteVideo bool `json:"-"`
}

// State is the caller-visible projection of one analysis.
type State struct {
	AnalysisID        string        `json:"analysis_id"`
	Status            Status        `json:"status"`
	Progress          int           `json:"progress"`
	Phase             string        `json:"current_phase"`
	TracksFound       int           `json:"tracks_found"`
	CropsReady        int           `json:"crops_ready"`
	Stats             PipelineStats `json:"stats"`
	Params            RunParams     `json:"params"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	ProcessingSeconds float64       `json:"processing_time_seconds"`
	Error             string        `json:"error,omitempty"`
}

// HistorySink receives finished analyses for persistence. The manager never
// reads history back; failures are logged and ignored.
type HistorySink interface {
	RecordAnalysis(state State) error
}

type runState struct {
	state  State
	result *Result
	cancel context.CancelFunc
}

// Manager is the process-wide analysis registry: it starts pipeline runs,
// tracks their progress, and serves their results until deleted. Safe for
// concurrent use.
type Manager struct {
	mu   sync.RWMutex
	runs map[string]*runState

	tuning   *config.TuningConfig
	detector PersonDetector
	matcher  SuspectMatcher
	history  HistorySink

	// openSource is swapped out by tests.
	openSource func(ctx context.Context, path string, interval float64) (FrameSource, error)
}

// NewManager creates an analysis registry. history may be nil.
func NewManager(tuning *config.TuningConfig, detector PersonDetector, matcher SuspectMatcher, history HistorySink) *Manager {
	return &Manager{
		runs:     make(map[string]*runState),
		tuning:   tuning,
		detector: detector,
		matcher:  matcher,
		history:  history,
		openSource: func(ctx context.Context, path string, interval float64) (FrameSource, error) {
			return video.Open(ctx, path, interval)
		},
	}
}

// Start launches an analysis in the background and returns its id.
func (m *Manager) Start(params RunParams) (string, error) {
	if params.VideoPath == "" {
		return "", fmt.Errorf("video path required")
	}
	// 0 means every frame; only a negative interval means "use the default".
	if params.SampleInterval < 0 {
		params.SampleInterval = m.tuning.GetSampleIntervalSeconds()
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	rs := &runState{
		cancel: cancel,
		state: State{
			AnalysisID: id,
			Status:     StatusProcessing,
			Phase:      PhaseFrameExtraction,
			Params:     params,
			StartedAt:  time.Now(),
		},
	}

	m.mu.Lock()
	m.runs[id] = rs
	m.mu.Unlock()

	monitoring.Opsf("[Manager] analysis %s started for %s (interval %.1fs, stop_on_detect %v)",
		id, params.VideoPath, params.SampleInterval, params.StopOnDetect)

	go m.execute(ctx, id, params)
	return id, nil
}

func (m *Manager) execute(ctx context.Context, id string, params RunParams) {
	defer m.cleanupVideo(params)

	source, err := m.openSource(ctx, params.VideoPath, params.SampleInterval)
	if err != nil {
		m.finishFailed(id, err)
		return
	}
	defer source.Close()

	p := &Pipeline{Detector: m.detector, Matcher: m.matcher, Tuning: m.tuning}
	res, err := p.Run(ctx, source, params.StopOnDetect, func(phase string, percent int) {
		m.setProgress(id, phase, percent)
	})
	if err != nil {
		m.finishFailed(id, err)
		return
	}
	m.finishCompleted(id, res)
}

func (m *Manager) setProgress(id, phase string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.runs[id]
	if !ok || rs.state.Status != StatusProcessing {
		return
	}
	rs.state.Phase = phase
	rs.state.Progress = percent
}

func (m *Manager) finishCompleted(id string, res *Result) {
	m.mu.Lock()
	rs, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	rs.result = res
	rs.state.Status = StatusCompleted
	rs.state.Progress = 100
	rs.state.Phase = PhaseCompleted
	rs.state.TracksFound = res.Stats.TracksFound
	rs.state.CropsReady = len(res.CropImages)
	rs.state.Stats = res.Stats
	rs.state.FinishedAt = &now
	rs.state.ProcessingSeconds = now.Sub(rs.state.StartedAt).Seconds()
	state := rs.state
	m.mu.Unlock()

	monitoring.Opsf("[Manager] analysis %s completed in %.1fs (%d tracks, %d matches)",
		id, state.ProcessingSeconds, state.Stats.TracksFound, state.Stats.MatchesFound)
	m.record(state)
}

func (m *Manager) finishFailed(id string, err error) {
	m.mu.Lock()
	rs, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	rs.state.Status = StatusFailed
	rs.state.Phase = PhaseCompleted
	rs.state.Error = err.Error()
	rs.state.FinishedAt = &now
	rs.state.ProcessingSeconds = now.Sub(rs.state.StartedAt).Seconds()
	state := rs.state
	m.mu.Unlock()

	monitoring.Opsf("[Manager] analysis %s failed: %v", id, err)
	m.record(state)
}

func (m *Manager) record(state State) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordAnalysis(state); err != nil {
		monitoring.Opsf("[Manager] history write for %s failed: %v", state.AnalysisID, err)
	}
}

func (m *Manager) cleanupVideo(params RunParams) {
	if !params.DeleteVideo {
		return
	}
	if err := os.Remove(params.VideoPath); err != nil && !os.IsNotExist(err) {
		monitoring.Diagf("[Manager] scratch file %s not removed: %v", params.VideoPath, err)
	}
}

// Status returns the state projection for an analysis.
func (m *Manager) Status(id string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.runs[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return rs.state, nil
}

// Result returns the full result of a completed analysis. It fails with
// ErrNotReady while processing and ErrFailed after a failure.
func (m *Manager) Result(id string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch rs.state.Status {
	case StatusProcessing:
		return nil, ErrNotReady
	case StatusFailed:
		return nil, fmt.Errorf("%w: %s", ErrFailed, rs.state.Error)
	}
	return rs.result, nil
}

// Delete cancels an analysis if still running and removes it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	rs.cancel()
	delete(m.runs, id)
	monitoring.Opsf("[Manager] analysis %s deleted", id)
	return nil
}

// List returns the state of every known analysis, newest first.
func (m *Manager) List() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]State, 0, len(m.runs))
	for _, rs := range m.runs {
		out = append(out, rs.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ActiveCount returns the number of analyses still processing.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rs := range m.runs {
		if rs.state.Status == StatusProcessing {
			n++
		}
	}
	return n
}
