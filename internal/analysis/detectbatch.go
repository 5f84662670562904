package analysis

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/monitoring"
	"github.com/banshee-data/footage.report/internal/video"
)

// PersonDetector is the slice of the detection service the batcher needs.
type PersonDetector interface {
	DetectPersons(ctx context.Context, png []byte, confidence float64) ([]detect.Detection, error)
}

// FrameDetections pairs a frame with the person boxes found in it.
type FrameDetections struct {
	Frame      *video.Frame
	Detections []detect.Detection
}

// DetectionBatcher accumulates gate-accepted frames into batches and fans
// each batch out to the detection service, one request per frame. A batch
// flushes when it is full or when the deadline since its first frame expires,
// whichever comes first.
type DetectionBatcher struct {
	cfg      *config.TuningConfig
	detector PersonDetector
}

func NewDetectionBatcher(cfg *config.TuningConfig, detector PersonDetector) *DetectionBatcher {
	return &DetectionBatcher{cfg: cfg, detector: detector}
}

// Run consumes frames until in closes or ctx is cancelled, emitting detection
// results on out in frame order. Per-frame request failures are logged and
// the frame contributes nothing. out is closed on return.
func (b *DetectionBatcher) Run(ctx context.Context, in <-chan *video.Frame, out chan<- FrameDetections) error {
	defer close(out)

	size := b.cfg.GetDetectionBatchSize()
	deadline := b.cfg.GetBatchTimeout()

	batch := make([]*video.Frame, 0, size)
	var timer *time.Timer
	var expire <-chan time.Time

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.dispatch(ctx, batch, out); err != nil {
			return err
		}
		batch = batch[:0]
		if timer != nil {
			timer.Stop()
			timer = nil
			expire = nil
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expire:
			timer = nil
			expire = nil
			if err := flush(); err != nil {
				return err
			}
		case f, ok := <-in:
			if !ok {
				return flush()
			}
			batch = append(batch, f)
			if len(batch) == 1 {
				timer = time.NewTimer(deadline)
				expire = timer.C
			}
			if len(batch) >= size {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// dispatch fans one batch out concurrently and emits results in frame order.
// The batch is awaited in full before the next forms, which keeps track ids
// deterministic for a given input.
func (b *DetectionBatcher) dispatch(ctx context.Context, batch []*video.Frame, out chan<- FrameDetections) error {
	confidence := b.cfg.GetDetectionConfidence()
	results := make([][]detect.Detection, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range batch {
		g.Go(func() error {
			png, err := EncodePNG(f.Image)
			if err != nil {
				monitoring.Opsf("[DetectBatch] frame %d: %v", f.Index, err)
				return nil
			}
			dets, err := b.detector.DetectPersons(gctx, png, confidence)
			if err != nil {
				monitoring.Opsf("[DetectBatch] frame %d: detect failed: %v", f.Index, err)
				return nil
			}
			results[i] = dets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, f := range batch {
		if results[i] == nil {
			continue
		}
		select {
		case out <- FrameDetections{Frame: f, Detections: results[i]}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
