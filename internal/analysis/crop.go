package analysis

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/monitoring"
	"github.com/banshee-data/footage.report/internal/video"
)

// Crop is a person cutout taken from a frame. PNG holds the encoded image so
// downstream stages never re-encode.
type Crop struct {
	Image   *image.NRGBA
	PNG     []byte
	BBox    detect.BBox
	Width   int
	Height  int
	Quality float64
}

// EncodePNG encodes an image as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractCrop clips a detection's bounding box to the frame, cuts the person
// out, and scores the crop. It returns nil when the box is degenerate or the
// cutout is too small to be useful to the matcher.
func ExtractCrop(frame *video.Frame, det detect.Detection, cfg *config.TuningConfig) *Crop {
	w, h := frame.Width(), frame.Height()

	x1 := clampInt(int(det.BBox.X1), 0, w)
	y1 := clampInt(int(det.BBox.Y1), 0, h)
	x2 := clampInt(int(det.BBox.X2), 0, w)
	y2 := clampInt(int(det.BBox.Y2), 0, h)

	if x2 <= x1 || y2 <= y1 {
		monitoring.Tracef("[Crop] frame %d: degenerate bbox (%d,%d)-(%d,%d)", frame.Index, x1, y1, x2, y2)
		return nil
	}

	cw, ch := x2-x1, y2-y1
	if cw < cfg.GetMinCropWidth() || ch < cfg.GetMinCropHeight() {
		monitoring.Tracef("[Crop] frame %d: crop %dx%d too small", frame.Index, cw, ch)
		return nil
	}

	img := imaging.Crop(frame.Image, image.Rect(x1, y1, x2, y2))

	png, err := EncodePNG(img)
	if err != nil {
		monitoring.Opsf("[Crop] frame %d: %v", frame.Index, err)
		return nil
	}

	return &Crop{
		Image:   img,
		PNG:     png,
		BBox:    det.BBox,
		Width:   cw,
		Height:  ch,
		Quality: cropQuality(cw, ch, det.BBox, w, h),
	}
}

// cropQuality scores a person cutout on aspect ratio, size, and how close it
// sits to the frame centre. Human figures are taller than wide, so far-off
// aspect ratios are penalised.
func cropQuality(cw, ch int, bbox detect.BBox, frameW, frameH int) float64 {
	aspect := float64(ch) / float64(cw)
	aspectScore := 0.7
	if aspect >= 1.5 && aspect <= 3.0 {
		aspectScore = 1.0
	}

	area := cw * ch
	sizeScore := 0.8
	if area >= 10000 && area <= 100000 {
		sizeScore = 1.0
	}

	cx, cy := bbox.Center()
	distFromCenter := math.Abs(cx-float64(frameW)/2) + math.Abs(cy-float64(frameH)/2)
	positionScore := 1 - distFromCenter/1500
	if positionScore < 0.5 {
		positionScore = 0.5
	}

	return (aspectScore + sizeScore + positionScore) / 3
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
