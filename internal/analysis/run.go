package analysis

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/monitoring"
	"github.com/banshee-data/footage.report/internal/video"
)

// Pipeline phases, reported through the progress callback in order.
const (
	PhaseFrameExtraction   = "frame_extraction"
	PhasePersonDetection   = "person_detection"
	PhaseSuspectMatching   = "suspect_matching"
	PhaseResultCompilation = "result_compilation"
	PhaseCompleted         = "completed"
)

// FrameSource yields sampled frames until io.EOF. video.Decoder is the real
// implementation; tests substitute their own.
type FrameSource interface {
	ReadFrame(ctx context.Context) (*video.Frame, error)
	Close() error
}

// ProgressFunc receives phase transitions and percent-complete checkpoints.
type ProgressFunc func(phase string, percent int)

// Pipeline runs one full analysis: stream frames through the quality gate
// and detection batcher into the track registry, then freeze the registry
// and match tracks against registered targets.
type Pipeline struct {
	Detector PersonDetector
	Matcher  SuspectMatcher
	Tuning   *config.TuningConfig
}

// Run executes the pipeline over the given source. realtime makes a
// high-confidence hit stop the run as soon as the current batch completes.
// progress may be nil.
//
// Per-request upstream failures never fail the run; only source errors do.
func (p *Pipeline) Run(ctx context.Context, source FrameSource, realtime bool, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	progress(PhaseFrameExtraction, 0)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	term := NewTerminator(realtime, cancel)
	skipper := NewFrameSkipper(p.Tuning, term)
	registry := NewTrackRegistry(p.Tuning)
	batcher := NewDetectionBatcher(p.Tuning, p.Detector)

	depth := p.Tuning.GetDetectionBatchSize()
	frames := make(chan *video.Frame, depth)
	detections := make(chan FrameDetections, depth)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer close(frames)
		err := p.streamFrames(gctx, source, skipper, frames)
		if err == nil {
			progress(PhasePersonDetection, 20)
		}
		return err
	})

	g.Go(func() error {
		return batcher.Run(gctx, frames, detections)
	})

	g.Go(func() error {
		for fd := range detections {
			registry.Observe(fd.Frame, fd.Detections)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		// Realtime early stop cancels the streaming stages; that is a
		// clean exit, not a failure.
		if !(term.Fired() && errors.Is(err, context.Canceled)) {
			return nil, err
		}
	}

	monitoring.Diagf("[Pipeline] registry frozen with %d tracks", registry.Count())
	progress(PhaseSuspectMatching, 70)

	matcher := NewMatchingBatcher(p.Tuning, p.Matcher, term)
	matches, err := matcher.Run(ctx, registry.TracksByQuality())
	if err != nil && !term.Fired() {
		return nil, err
	}

	progress(PhaseResultCompilation, 90)

	stats := statsFromSkipper(skipper.Stats())
	stats.TracksFound = registry.Count()
	stats.MatchesFound = len(matches)
	stats.HighConfidenceSeen = term.Fired()

	res := CompileResult(matches, stats)
	progress(PhaseCompleted, 100)
	return res, nil
}

// streamFrames pulls sampled frames from the source, scores them, and pushes
// the gate-accepted ones downstream. Source errors other than io.EOF are
// fatal to the run.
func (p *Pipeline) streamFrames(ctx context.Context, source FrameSource, skipper *FrameSkipper, out chan<- *video.Frame) error {
	for {
		f, err := source.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		d := skipper.Observe(FrameQuality(f.Image))
		if !d.Process {
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
