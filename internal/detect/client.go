// Package detect is the HTTP client for the person-detection service.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/footage.report/internal/monitoring"
)

// BBox is a pixel-space bounding box in the detector's coordinate convention.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the box centre point.
func (b BBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is a single detected object.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// detectResponse mirrors the detector's /detect payload.
type detectResponse struct {
	Status  string `json:"status"`
	Results struct {
		TotalDetections int         `json:"total_detections"`
		AllDetections   []Detection `json:"all_detections"`
		PersonCount     int         `json:"person_count"`
	} `json:"results"`
}

// HealthStatus mirrors the detector's /health payload.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Client calls the person-detection service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a detection client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DetectPersons submits one PNG-encoded frame and returns the person
// detections whose confidence meets the given threshold.
func (c *Client) DetectPersons(ctx context.Context, png []byte, confidence float64) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("confidence", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to write confidence field: %w", err)
	}
	if err := writer.WriteField("show_all_objects", "false"); err != nil {
		return nil, fmt.Errorf("failed to write show_all_objects field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	url := c.baseURL + "/detect"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	monitoring.Tracef("[Detect] POST %s (conf=%.2f, %d bytes)", url, confidence, len(png))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed detectResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	persons := make([]Detection, 0, parsed.Results.PersonCount)
	for _, d := range parsed.Results.AllDetections {
		if d.ClassName == "person" {
			persons = append(persons, d)
		}
	}

	monitoring.Tracef("[Detect] %d detections, %d persons", parsed.Results.TotalDetections, len(persons))
	return persons, nil
}

// Health queries the detector's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector health error %d: %s", resp.StatusCode, string(respBody))
	}

	var status HealthStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}
