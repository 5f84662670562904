// Package video decodes sampled frames from a video file by streaming raw
// RGB pixels out of an ffmpeg child process.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"

	"github.com/banshee-data/footage.report/internal/ffprobe"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

var (
	// ErrUnopenable indicates the container could not be opened at all.
	ErrUnopenable = errors.New("video: cannot open container")
	// ErrCorrupt indicates the stream failed mid-decode.
	ErrCorrupt = errors.New("video: stream corrupt")
)

// Frame is a single sampled frame. Index and Timestamp refer to the source
// stream, not the sampled subsequence.
type Frame struct {
	Index     int
	Timestamp float64 // seconds from stream start
	Image     *image.NRGBA
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Decoder yields a lazy, finite, non-restartable sequence of sampled frames.
// Source frame f is emitted iff f % stride == 0 where
// stride = max(1, round(fps * sampleInterval)).
type Decoder struct {
	path   string
	info   ffprobe.VideoInfo
	stride int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte // one raw rgb24 frame

	nextIndex int // next source frame index to read
	emitted   int
	done      bool
}

// Open probes the file and prepares a decoder. It fails with ErrUnopenable if
// the container cannot be probed or carries no usable video stream.
func Open(ctx context.Context, path string, sampleIntervalSeconds float64) (*Decoder, error) {
	if sampleIntervalSeconds < 0 {
		return nil, fmt.Errorf("sample interval must be non-negative, got %f", sampleIntervalSeconds)
	}

	info, err := ffprobe.GetVideoInfo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnopenable, path, err)
	}

	stride := sampleStride(info.FPS, sampleIntervalSeconds)

	monitoring.Diagf("[Decoder] %s: %.2f fps, %dx%d, ~%d frames, stride %d",
		path, info.FPS, info.Width, info.Height, info.TotalFrames, stride)

	return &Decoder{
		path:   path,
		info:   *info,
		stride: stride,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

// sampleStride converts a probed frame rate and sampling interval into the
// source-frame stride. Interval 0 samples every frame.
func sampleStride(fps, sampleIntervalSeconds float64) int {
	stride := int(math.Round(fps * sampleIntervalSeconds))
	if stride < 1 {
		stride = 1
	}
	return stride
}

// Info returns the probed properties of the source stream.
func (d *Decoder) Info() ffprobe.VideoInfo { return d.info }

// SampleStride returns the source-frame stride between sampled frames.
func (d *Decoder) SampleStride() int { return d.stride }

// start launches the ffmpeg child on first read.
func (d *Decoder) start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", d.path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnopenable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnopenable, err)
	}
	d.cmd = cmd
	d.stdout = stdout
	return nil
}

// ReadFrame returns the next sampled frame. It returns io.EOF once the stream
// ends cleanly and ErrCorrupt if the stream breaks mid-decode.
func (d *Decoder) ReadFrame(ctx context.Context) (*Frame, error) {
	if d.done {
		return nil, io.EOF
	}
	if d.cmd == nil {
		if err := d.start(ctx); err != nil {
			d.done = true
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			d.finish()
			return nil, err
		}

		n, err := io.ReadFull(d.stdout, d.buf)
		if err != nil {
			waitErr := d.finish()
			if err == io.EOF && n == 0 {
				if waitErr != nil && d.emitted == 0 {
					return nil, fmt.Errorf("%w: %s: %v", ErrUnopenable, d.path, waitErr)
				}
				if waitErr != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, d.path, waitErr)
				}
				return nil, io.EOF
			}
			// Partial frame: the stream broke mid-decode.
			return nil, fmt.Errorf("%w: %s: short read at frame %d", ErrCorrupt, d.path, d.nextIndex)
		}

		idx := d.nextIndex
		d.nextIndex++

		if idx%d.stride != 0 {
			continue
		}

		frame := &Frame{
			Index:     idx,
			Timestamp: float64(idx) / d.info.FPS,
			Image:     rgbToNRGBA(d.buf, d.info.Width, d.info.Height),
		}
		d.emitted++
		return frame, nil
	}
}

// Close terminates the decoder early, killing the child process if running.
func (d *Decoder) Close() error {
	if d.cmd != nil && d.cmd.Process != nil && !d.done {
		_ = d.cmd.Process.Kill()
	}
	d.finish()
	return nil
}

func (d *Decoder) finish() error {
	if d.done {
		return nil
	}
	d.done = true
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	if d.cmd != nil {
		return d.cmd.Wait()
	}
	return nil
}

// rgbToNRGBA converts one packed rgb24 frame into an NRGBA image.
func rgbToNRGBA(raw []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	si := 0
	for di := 0; di < len(img.Pix); di += 4 {
		img.Pix[di+0] = raw[si+0]
		img.Pix[di+1] = raw[si+1]
		img.Pix[di+2] = raw[si+2]
		img.Pix[di+3] = 0xff
		si += 3
	}
	return img
}
