package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footage.report/internal/analysis"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp("migrations"))
	return database
}

func terminalState(id string, status analysis.Status) analysis.State {
	now := time.Now()
	return analysis.State{
		AnalysisID: id,
		Status:     status,
		Params: analysis.RunParams{
			VideoPath: "cam3.mp4",
			Location:  "north entrance",
			Date:      "2026-08-25",
		},
		Stats: analysis.PipelineStats{
			FramesSampled:      30,
			FramesProcessed:    21,
			FramesSkipped:      9,
			TracksFound:        4,
			MatchesFound:       1,
			HighConfidenceSeen: true,
		},
		StartedAt:         now.Add(-40 * time.Second),
		FinishedAt:        &now,
		ProcessingSeconds: 40,
	}
}

func TestRecordAndListAnalyses(t *testing.T) {
	database := openTestDB(t)

	require.NoError(t, database.RecordAnalysis(terminalState("run-1", analysis.StatusCompleted)))

	records, err := database.ListAnalyses(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "run-1", rec.AnalysisID)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, 4, rec.TracksFound)
	assert.Equal(t, 1, rec.MatchesFound)
	assert.True(t, rec.HighConfidence)
	assert.Equal(t, "north entrance", rec.Location)
	assert.Equal(t, "2026-08-25", rec.Date)
	assert.NotNil(t, rec.FinishedAt)
}

func TestListAnalyses_NewestFirst(t *testing.T) {
	database := openTestDB(t)

	old := terminalState("run-old", analysis.StatusCompleted)
	old.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, database.RecordAnalysis(old))
	require.NoError(t, database.RecordAnalysis(terminalState("run-new", analysis.StatusCompleted)))

	records, err := database.ListAnalyses(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-new", records[0].AnalysisID)
}

func TestListAnalyses_Limit(t *testing.T) {
	database := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, database.RecordAnalysis(terminalState(id, analysis.StatusCompleted)))
	}
	records, err := database.ListAnalyses(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGetAnalysis(t *testing.T) {
	database := openTestDB(t)

	failed := terminalState("run-failed", analysis.StatusFailed)
	failed.Error = "video unopenable"
	require.NoError(t, database.RecordAnalysis(failed))

	rec, err := database.GetAnalysis("run-failed")
	require.NoError(t, err)
	assert.Equal(t, "failed", rec.Status)
	assert.Equal(t, "video unopenable", rec.Error)

	_, err = database.GetAnalysis("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMigrateVersionAndDown(t *testing.T) {
	database := openTestDB(t)

	version, dirty, err := database.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, database.MigrateDown("migrations"))
	assert.Error(t, database.RecordAnalysis(terminalState("x", analysis.StatusCompleted)))
}
