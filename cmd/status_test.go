package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

func TestFormatRunEntries_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatRunEntries(&buf, nil)

	output := buf.String()
	// Should still have the header even if runs is nil.
	assert.Contains(t, output, "MODE")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "STARTED")
}

func TestFormatRunEntries_SingleRun(t *testing.T) {
	started := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)

	runs := []model.RunEntry{
		{
			ID:          "2f3a9c10-aaaa-bbbb-cccc-000000000000",
			Mode:        "run",
			Status:      model.RunComplete,
			StartedAt:   started,
			CompletedAt: &completed,
			Summary:     model.RunSummary{Processed: 120, Inserted: 100, Rejected: 20},
		},
	}

	var buf bytes.Buffer
	formatRunEntries(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "2f3a9c10")
	assert.NotContains(t, output, "aaaa")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2025-01-15 10:30")
	assert.Contains(t, output, "42s")
	assert.Contains(t, output, "120")
}

func TestFormatRunEntries_RunningHasNoDuration(t *testing.T) {
	runs := []model.RunEntry{
		{
			ID:        "abc",
			Mode:      "clean",
			Status:    model.RunRunning,
			StartedAt: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatRunEntries(&buf, runs)

	assert.Contains(t, buf.String(), "running")
	assert.Contains(t, buf.String(), "-")
}

func TestFormatTableCounts(t *testing.T) {
	var buf bytes.Buffer
	formatTableCounts(&buf, map[string]int64{
		"raw_polls":   42,
		"clean_polls": 40,
	})

	output := buf.String()
	assert.Contains(t, output, "raw_polls")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "clean_polls")
}
