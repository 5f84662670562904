package video

import (
	"errors"
	"fmt"
	"testing"
)

func TestSampleStride(t *testing.T) {
	tests := []struct {
		fps      float64
		interval float64
		want     int
	}{
		{fps: 30, interval: 1.0, want: 30},
		{fps: 30, interval: 3.0, want: 90},
		{fps: 29.97, interval: 1.0, want: 30},
		{fps: 25, interval: 0.5, want: 13}, // round(12.5)
		{fps: 30, interval: 0, want: 1},    // every frame
		{fps: 10, interval: 0.01, want: 1}, // never below 1
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2ffps_%.2fs", tt.fps, tt.interval), func(t *testing.T) {
			if got := sampleStride(tt.fps, tt.interval); got != tt.want {
				t.Errorf("stride = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRGBToNRGBA(t *testing.T) {
	raw := []byte{
		10, 20, 30, 40, 50, 60,
		70, 80, 90, 100, 110, 120,
	}
	img := rgbToNRGBA(raw, 2, 2)

	if img.Rect.Dx() != 2 || img.Rect.Dy() != 2 {
		t.Fatalf("bounds = %v, want 2x2", img.Rect)
	}

	r, g, b, a := img.NRGBAAt(0, 0).R, img.NRGBAAt(0, 0).G, img.NRGBAAt(0, 0).B, img.NRGBAAt(0, 0).A
	if r != 10 || g != 20 || b != 30 || a != 255 {
		t.Errorf("pixel (0,0) = %d,%d,%d,%d, want 10,20,30,255", r, g, b, a)
	}
	c := img.NRGBAAt(1, 1)
	if c.R != 100 || c.G != 110 || c.B != 120 || c.A != 255 {
		t.Errorf("pixel (1,1) = %v, want 100,110,120,255", c)
	}
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("%w: detail", ErrUnopenable)
	if !errors.Is(wrapped, ErrUnopenable) {
		t.Error("wrapped unopenable error must match ErrUnopenable")
	}
	if errors.Is(wrapped, ErrCorrupt) {
		t.Error("unopenable error must not match ErrCorrupt")
	}
}

func TestOpen_RejectsNegativeInterval(t *testing.T) {
	if _, err := Open(t.Context(), "missing.mp4", -1); err == nil {
		t.Error("expected error for negative sample interval")
	}
}
