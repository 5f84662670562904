// Package api exposes the analysis pipeline over HTTP: starting analyses,
// polling their progress, fetching results, and managing registered targets
// on the similarity service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/footage.report/internal/analysis"
	"github.com/banshee-data/footage.report/internal/db"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

// maxUploadBytes caps video uploads at 512 MB.
const maxUploadBytes = 512 << 20

// AnalysisManager is the analysis registry surface the server needs.
type AnalysisManager interface {
	Start(params analysis.RunParams) (string, error)
	Status(id string) (analysis.State, error)
	Result(id string) (*analysis.Result, error)
	Delete(id string) error
	List() []analysis.State
	ActiveCount() int
}

// TargetRegistry proxies target lifecycle calls to the similarity service.
type TargetRegistry interface {
	RegisterTarget(ctx context.Context, targetID string, png []byte) (int, error)
	RegisteredTargets(ctx context.Context) ([]string, error)
	DeleteTarget(ctx context.Context, targetID string) error
}

// DetectorHealth reports whether the detection service is up and its model
// loaded.
type DetectorHealth interface {
	Health(ctx context.Context) (*detect.HealthStatus, error)
}

// HistoryLister serves persisted past analyses.
type HistoryLister interface {
	ListAnalyses(limit int) ([]db.AnalysisRecord, error)
}

type Server struct {
	manager   AnalysisManager
	targets   TargetRegistry
	detector  DetectorHealth
	history   HistoryLister
	uploadDir string
}

// NewServer wires the public API. targets, detector, and history may be nil;
// the matching endpoints then answer 503 or empty. uploadDir empty means the
// OS temp directory.
func NewServer(manager AnalysisManager, targets TargetRegistry, detector DetectorHealth, history HistoryLister, uploadDir string) *Server {
	return &Server{
		manager:   manager,
		targets:   targets,
		detector:  detector,
		history:   history,
		uploadDir: uploadDir,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze_video", s.handleAnalyzeVideo)
	mux.HandleFunc("/analysis_status/", s.handleAnalysisStatus)
	mux.HandleFunc("/analysis_result/", s.handleAnalysisResult)
	mux.HandleFunc("/analysis/", s.handleAnalysisDelete)
	mux.HandleFunc("/list_analyses", s.handleListAnalyses)
	mux.HandleFunc("/analyses/history", s.handleHistory)
	mux.HandleFunc("/register_target", s.handleRegisterTarget)
	mux.HandleFunc("/targets", s.handleListTargets)
	mux.HandleFunc("/target/", s.handleDeleteTarget)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Diagf("[API] JSON encoding error: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleAnalyzeVideo accepts a multipart video upload and starts an analysis.
func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("video_file")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "video_file is required")
		return
	}
	defer file.Close()

	// fps_interval 0 samples every frame; omitting it selects the
	// configured default.
	sampleInterval := -1.0
	if v := r.FormValue("fps_interval"); v != "" {
		sampleInterval, err = strconv.ParseFloat(v, 64)
		if err != nil || sampleInterval < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "fps_interval must be a non-negative number")
			return
		}
	}
	stopOnDetect := false
	if v := r.FormValue("stop_on_detect"); v != "" {
		stopOnDetect, err = strconv.ParseBool(v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "stop_on_detect must be a boolean")
			return
		}
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store upload: %v", err))
		return
	}

	id, err := s.manager.Start(analysis.RunParams{
		VideoPath:      path,
		SampleInterval: sampleInterval,
		StopOnDetect:   stopOnDetect,
		Location:       r.FormValue("location"),
		Date:           r.FormValue("date"),
		DeleteVideo:    true,
	})
	if err != nil {
		os.Remove(path)
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start analysis: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"analysis_id": id,
		"status":      "analysis_started",
	})
}

func (s *Server) saveUpload(file io.Reader, name string) (string, error) {
	tmp, err := os.CreateTemp(s.uploadDir, "footage-upload-*"+safeExt(name))
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// safeExt keeps the upload's extension so the decoder can probe by container,
// discarding anything that is not a plain suffix.
func safeExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ".mp4"
	}
	ext := name[idx:]
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ".mp4"
	}
	return ext
}

func (s *Server) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/analysis_status/")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing analysis_id")
		return
	}

	state, err := s.manager.Status(id)
	if errors.Is(err, analysis.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "analysis not found")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAnalysisResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/analysis_result/")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing analysis_id")
		return
	}

	res, err := s.manager.Result(id)
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, "analysis not found")
	case errors.Is(err, analysis.ErrNotReady):
		s.writeJSONError(w, http.StatusBadRequest, "analysis not complete")
	case errors.Is(err, analysis.ErrFailed):
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleAnalysisDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/analysis/")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing analysis_id")
		return
	}

	if err := s.manager.Delete(id); errors.Is(err, analysis.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "analysis not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "analysis_id": id})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list := s.manager.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": list,
		"count":    len(list),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"analyses": []db.AnalysisRecord{}, "count": 0})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.history.ListAnalyses(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("history query failed: %v", err))
		return
	}
	if records == nil {
		records = []db.AnalysisRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": records,
		"count":    len(records),
	})
}

func (s *Server) handleRegisterTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.targets == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "matcher service not configured")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	targetID := r.FormValue("target_id")
	if targetID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	img, err := io.ReadAll(file)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	dim, err := s.targets.RegisterTarget(r.Context(), targetID, img)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("register failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "registered",
		"target_id":         targetID,
		"feature_dimension": dim,
	})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.targets == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "matcher service not configured")
		return
	}

	ids, err := s.targets.RegisteredTargets(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("list targets failed: %v", err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"target_ids": ids, "count": len(ids)})
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.targets == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "matcher service not configured")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/target/")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing target_id")
		return
	}

	if err := s.targets.DeleteTarget(r.Context(), id); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("delete failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "target_id": id})
}

// handleHealth reports service health plus the upstream detector's model
// state when a detector client is configured.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "ok",
		"active_analyses": s.manager.ActiveCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if s.detector != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if h, err := s.detector.Health(ctx); err != nil {
			resp["model_loaded"] = false
			resp["detector_error"] = err.Error()
		} else {
			resp["model_loaded"] = h.ModelLoaded
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
