// Package db persists finished analyses to sqlite so operators can review
// past searches after the in-memory registry is gone.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/footage.report/internal/analysis"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path. Call MigrateUp before
// first use.
func NewDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialise access through a single conn.
	sqldb.SetMaxOpenConns(1)
	if _, err := sqldb.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &DB{sqldb}, nil
}

// AnalysisRecord is one row of analysis history.
type AnalysisRecord struct {
	AnalysisID        string     `json:"analysis_id"`
	Status            string     `json:"status"`
	VideoPath         string     `json:"video_path"`
	Location          string     `json:"location"`
	Date              string     `json:"date"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ProcessingSeconds float64    `json:"processing_time_seconds"`
	FramesSampled     int        `json:"frames_sampled"`
	FramesProcessed   int        `json:"frames_processed"`
	FramesSkipped     int        `json:"frames_skipped"`
	TracksFound       int        `json:"tracks_found"`
	MatchesFound      int        `json:"matches_found"`
	HighConfidence    bool       `json:"high_confidence_seen"`
	Error             string     `json:"error,omitempty"`
}

// RecordAnalysis writes a terminal analysis state to history. It satisfies
// analysis.HistorySink.
func (db *DB) RecordAnalysis(state analysis.State) error {
	var finished *time.Time
	if state.FinishedAt != nil {
		t := state.FinishedAt.UTC()
		finished = &t
	}

	_, err := db.Exec(
		`INSERT INTO analyses (
			analysis_id, status, video_path, location, date,
			started_at, finished_at, processing_seconds,
			frames_sampled, frames_processed, frames_skipped,
			tracks_found, matches_found, high_confidence, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.AnalysisID, string(state.Status), state.Params.VideoPath,
		state.Params.Location, state.Params.Date,
		state.StartedAt.UTC(), finished, state.ProcessingSeconds,
		state.Stats.FramesSampled, state.Stats.FramesProcessed, state.Stats.FramesSkipped,
		state.Stats.TracksFound, state.Stats.MatchesFound, state.Stats.HighConfidenceSeen,
		state.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis %s: %w", state.AnalysisID, err)
	}
	return nil
}

// ListAnalyses returns up to limit history rows, newest first.
func (db *DB) ListAnalyses(limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT analysis_id, status, video_path, location, date,
			started_at, finished_at, processing_seconds,
			frames_sampled, frames_processed, frames_skipped,
			tracks_found, matches_found, high_confidence, error
		FROM analyses ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AnalysisRecord
	for rows.Next() {
		var rec AnalysisRecord
		var finished sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(
			&rec.AnalysisID, &rec.Status, &rec.VideoPath, &rec.Location, &rec.Date,
			&rec.StartedAt, &finished, &rec.ProcessingSeconds,
			&rec.FramesSampled, &rec.FramesProcessed, &rec.FramesSkipped,
			&rec.TracksFound, &rec.MatchesFound, &rec.HighConfidence, &errMsg,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		rec.Error = errMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetAnalysis returns one history row, or sql.ErrNoRows.
func (db *DB) GetAnalysis(analysisID string) (*AnalysisRecord, error) {
	row := db.QueryRow(
		`SELECT analysis_id, status, video_path, location, date,
			started_at, finished_at, processing_seconds,
			frames_sampled, frames_processed, frames_skipped,
			tracks_found, matches_found, high_confidence, error
		FROM analyses WHERE analysis_id = ?`, analysisID)

	var rec AnalysisRecord
	var finished sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(
		&rec.AnalysisID, &rec.Status, &rec.VideoPath, &rec.Location, &rec.Date,
		&rec.StartedAt, &finished, &rec.ProcessingSeconds,
		&rec.FramesSampled, &rec.FramesProcessed, &rec.FramesSkipped,
		&rec.TracksFound, &rec.MatchesFound, &rec.HighConfidence, &errMsg,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	rec.Error = errMsg.String
	return &rec, nil
}
