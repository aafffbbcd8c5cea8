package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vehirec/internal/models"
	"vehirec/internal/ranker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func fixedExporter(t *testing.T) *Exporter {
	e := NewExporter(filepath.Join(t.TempDir(), "exports"))
	e.now = func() time.Time { return time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC) }
	return e
}

func TestWriteRecommendations(t *testing.T) {
	e := fixedExporter(t)
	list := &models.RecommendationList{
		ClientID:     1,
		Ranker:       models.RankerEmbedding,
		ModelVersion: 2,
		GeneratedAt:  time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC),
		Items: []models.Recommendation{
			{Rank: 1, Vehicle: models.Vehicle{ID: 4, Name: "Jeep Wrangler", Type: "suv", Features: "4x4,convertible,gps"}, Score: 0.87},
			{Rank: 2, Vehicle: models.Vehicle{ID: 5, Name: "Tesla Model 3", Type: "sedan", Features: "electric"}, Score: 0.5},
		},
	}

	path, err := e.WriteRecommendations(list)
	require.NoError(t, err)
	assert.Equal(t, "recommendations_client1_20240601_134500.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{recommendationsSheet}, f.GetSheetList())

	rows, err := f.GetRows(recommendationsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, recommendationHeaders, rows[1])
	assert.Equal(t, []string{"1", "4", "Jeep Wrangler", "suv", "4x4,convertible,gps"}, rows[2][:5])
	assert.Equal(t, "Tesla Model 3", rows[3][2])

	raw, err := f.GetCellValue(recommendationsSheet, "F3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "0.87", raw)
}

func TestWriteTrainingReport(t *testing.T) {
	e := fixedExporter(t)
	report := ranker.TrainReport{
		Ranker:    models.RankerTree,
		BestEpoch: 1,
		Curve: []ranker.Epoch{
			{Epoch: 0, TrainLoss: 0.6, ValidationLoss: 0.65},
			{Epoch: 1, TrainLoss: 0.5, ValidationLoss: 0.6},
		},
	}

	path, err := e.WriteTrainingReport("run-1", report)
	require.NoError(t, err)
	assert.Equal(t, "training_tree_20240601_134500.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(trainingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Contains(t, rows[0][0], "run-1")
	assert.Equal(t, "1", rows[3][0])
}

func TestWriteRecommendations_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewExporter(filepath.Join(file, "sub")).WriteRecommendations(&models.RecommendationList{})
	assert.Error(t, err)
}
