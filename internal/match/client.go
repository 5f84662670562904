// Package match is the HTTP client for the clothing-similarity service that
// holds registered target feature vectors.
package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/banshee-data/footage.report/internal/monitoring"
)

// Match is one candidate pairing returned by the matcher.
type Match struct {
	SuspectID  string  `json:"suspect_id"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence"`
}

type identifyResponse struct {
	Status           string  `json:"status"`
	TotalComparisons int     `json:"total_comparisons"`
	MatchesFound     int     `json:"matches_found"`
	Matches          []Match `json:"matches"`
}

type registerResponse struct {
	Status           string `json:"status"`
	PersonID         string `json:"person_id"`
	FeatureDimension int    `json:"feature_dimension"`
}

type registeredResponse struct {
	Status       string   `json:"status"`
	TotalPersons int      `json:"total_persons"`
	PersonIDs    []string `json:"person_ids"`
}

// HealthStatus mirrors the matcher's /health payload.
type HealthStatus struct {
	Status             string `json:"status"`
	ModelLoaded        bool   `json:"model_loaded"`
	RegisteredSuspects int    `json:"registered_suspects"`
}

// Client calls the clothing-similarity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a matcher client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RegisterTarget registers (or re-registers) a target's clothing features
// from a PNG image. The operation is an idempotent upsert on the service side.
func (c *Client) RegisterTarget(ctx context.Context, targetID string, png []byte) (featureDim int, err error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("person_id", targetID); err != nil {
		return 0, fmt.Errorf("failed to write person_id field: %w", err)
	}
	part, err := writer.CreateFormFile("file", targetID+".png")
	if err != nil {
		return 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close writer: %w", err)
	}

	respBody, err := c.post(ctx, "/register_person", body, writer.FormDataContentType())
	if err != nil {
		return 0, err
	}

	var parsed registerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	monitoring.Diagf("[Match] Registered target %s (feature dim %d)", targetID, parsed.FeatureDimension)
	return parsed.FeatureDimension, nil
}

// IdentifyPerson submits a person crop and returns the matches at or above
// the given similarity threshold, per the service's own filtering.
func (c *Client) IdentifyPerson(ctx context.Context, png []byte, name string, threshold float64) ([]Match, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", name+".png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("threshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to write threshold field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	respBody, err := c.post(ctx, "/identify_person", body, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var parsed identifyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	monitoring.Tracef("[Match] %s: %d comparisons, %d matches", name, parsed.TotalComparisons, parsed.MatchesFound)
	return parsed.Matches, nil
}

// RegisteredTargets lists the ids of all registered targets.
func (c *Client) RegisteredTargets(ctx context.Context) ([]string, error) {
	respBody, err := c.get(ctx, "/registered_persons")
	if err != nil {
		return nil, err
	}

	var parsed registeredResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.PersonIDs, nil
}

// DeleteTarget removes a registered target.
func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	u := c.baseURL + "/person/" + url.PathEscape(targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("matcher error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Health queries the matcher's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	respBody, err := c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}

	var status HealthStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

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
		return nil, fmt.Errorf("matcher error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
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
		return nil, fmt.Errorf("matcher error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
