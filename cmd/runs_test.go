package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospector-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	completed := started.Add(3 * time.Minute)
	runs := []model.PipelineRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Account:     model.AccountRef{ID: "001A", Name: "Benefis Hospitals Inc"},
			Status:      model.RunStatusOK,
			StartedAt:   started,
			CompletedAt: &completed,
			TotalCost:   1.25,
			Qualified: []model.QualifiedProspect{
				{Score: 90}, {Score: 74},
			},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Account:   model.AccountRef{ID: "001B", Name: "Mercy General"},
			Status:    model.RunStatusRunning,
			StartedAt: started.Add(10 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "ACCOUNT")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "Benefis Hospitals Inc")
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "$1.25")
	assert.Contains(t, output, "3m0s")
	assert.Contains(t, output, "Mercy General")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2026-03-10 09:15")
	assert.Contains(t, output, "abc12345")
}

func TestFormatRunsList_LongAccountName(t *testing.T) {
	runs := []model.PipelineRun{
		{
			ID:      "abc12345-6789-0000-0000-000000000000",
			Account: model.AccountRef{Name: "Saint Bartholomew Regional Medical Center of Greater Dubuque"},
			Status:  model.RunStatusFailed,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	assert.Contains(t, buf.String(), "Saint Bartholomew Regional ...")
	assert.NotContains(t, buf.String(), "Dubuque")
}

func TestComputeRunStats(t *testing.T) {
	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	after2m := started.Add(2 * time.Minute)
	after4m := started.Add(4 * time.Minute)

	runs := []model.PipelineRun{
		{ID: "1", Status: model.RunStatusOK, StartedAt: started, CompletedAt: &after2m, TotalCost: 1.00},
		{ID: "2", Status: model.RunStatusPartial, StartedAt: started, CompletedAt: &after4m, TotalCost: 0.50,
			FirstError: model.NewRunError(model.StageRank, model.ErrRateLimited, "throttled")},
		{ID: "3", Status: model.RunStatusFailed, StartedAt: started,
			FirstError: model.NewRunError(model.StageAcquire, model.ErrOverflow, "cap exceeded")},
		{ID: "4", Status: model.RunStatusRunning, StartedAt: started},
	}

	stats := computeRunStats(runs)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.OK)
	assert.Equal(t, 1, stats.Partial)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.ByKind[model.ErrRateLimited])
	assert.Equal(t, 1, stats.ByKind[model.ErrOverflow])
	assert.InDelta(t, 1.50, stats.TotalCost, 0.001)
	// Average duration of the 2 completed runs: (120s + 240s) / 2 = 180s.
	assert.InDelta(t, 180.0, stats.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "OK:")
	assert.Contains(t, output, "Partial:")
	assert.Contains(t, output, "Failed:")
	assert.Contains(t, output, "rate_limited:")
	assert.Contains(t, output, "overflow:")
	assert.Contains(t, output, "$1.50")
	assert.Contains(t, output, "180.0s")
}

func TestFormatStageResults(t *testing.T) {
	results := []model.StageResult{
		{Stage: model.StageAcquire, Status: model.StageStatusOK, DurationMS: 2500, Found: 40, Kept: 12, Cost: 0.03},
		{Stage: model.StageRank, Status: model.StageStatusFailed, DurationMS: 900,
			Error: model.NewRunError(model.StageRank, model.ErrRateLimited, "throttled")},
	}

	var buf bytes.Buffer
	formatStageResults(&buf, results)

	output := buf.String()
	assert.Contains(t, output, "STAGE")
	assert.Contains(t, output, "acquire")
	assert.Contains(t, output, "2.5s")
	assert.Contains(t, output, "$0.0300")
	assert.Contains(t, output, "rate_limited")
	assert.Contains(t, output, "900ms")
}

func TestTruncateID(t *testing.T) {
	full := "9f8e7d6c-1a2b-4c3d-8e9f-000000000000"
	assert.Equal(t, "9f8e7d6c", truncateID(full))
	assert.Equal(t, "9f8e7d", truncateID("9f8e7d"), "short ids pass through untouched")
}
