package analysis

import (
	"image"
	"math"
)

// Weights and normalisers for the composite frame quality score.
const (
	brightnessWeight = 0.3
	sharpnessWeight  = 0.5
	contrastWeight   = 0.2

	sharpnessNorm = 600.0 // Laplacian variance saturation point
	contrastNorm  = 40.0  // grey stddev saturation point

	minQuality = 0.1
	maxQuality = 1.0
)

// FrameQuality scores a frame in [0.1, 1.0] as a weighted blend of
// brightness, sharpness, and contrast. Dim, blurry, or washed-out frames
// score low and get skipped by the gate.
func FrameQuality(img *image.NRGBA) float64 {
	gray, w, h := grayscale(img)
	n := float64(len(gray))
	if n == 0 {
		return minQuality
	}

	var sum, sumSq float64
	for _, v := range gray {
		f := float64(v)
		sum += f
		sumSq += f * f
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}

	brightness := 1 - math.Abs(mean-128)/128

	sharpness := laplacianVariance(gray, w, h) / sharpnessNorm
	if sharpness > 1 {
		sharpness = 1
	}

	contrast := math.Sqrt(variance) / contrastNorm
	if contrast > 1 {
		contrast = 1
	}

	q := brightnessWeight*brightness + sharpnessWeight*sharpness + contrastWeight*contrast
	if q < minQuality {
		return minQuality
	}
	if q > maxQuality {
		return maxQuality
	}
	return q
}

// grayscale converts to 8-bit luma using the Rec. 601 weights.
func grayscale(img *image.NRGBA) ([]uint8, int, int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	gray := make([]uint8, w*h)
	i := 0
	for pi := 0; pi < len(img.Pix); pi += 4 {
		r := float64(img.Pix[pi+0])
		g := float64(img.Pix[pi+1])
		b := float64(img.Pix[pi+2])
		gray[i] = uint8(0.299*r + 0.587*g + 0.114*b)
		i++
	}
	return gray, w, h
}

// laplacianVariance returns the variance of the 4-neighbour Laplacian over
// interior pixels, a standard focus measure.
func laplacianVariance(gray []uint8, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}

	n := float64((w - 2) * (h - 2))
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		row := y * w
		for x := 1; x < w-1; x++ {
			c := float64(gray[row+x])
			lap := 4*c - float64(gray[row+x-1]) - float64(gray[row+x+1]) -
				float64(gray[row-w+x]) - float64(gray[row+w+x])
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / n
	v := sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}
