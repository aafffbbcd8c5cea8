package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehirec/internal/models"
)

func TestFitFeatures_Schema(t *testing.T) {
	ds := testDataset()
	matrix, schema := FitFeatures(ds.Vehicles)

	assert.Equal(t, []string{
		"type=sedan", "type=suv", "type=van",
		"feature=4x4", "feature=ac", "feature=cargo", "feature=gps",
	}, schema.Columns)

	require.Len(t, matrix, 3)
	// Van: type=van, cargo, ac
	assert.Equal(t, []float64{0, 0, 1, 0, 1, 1, 0}, matrix[0])
	// Sedan: type=sedan, ac, gps
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 0, 1}, matrix[1])
}

func TestTransformFeatures_ReappliesSchema(t *testing.T) {
	ds := testDataset()
	fitted, schema := FitFeatures(ds.Vehicles)

	assert.Equal(t, fitted, TransformFeatures(ds.Vehicles, schema))

	t.Run("UnknownColumnsDropped", func(t *testing.T) {
		rows := TransformFeatures([]models.Vehicle{
			{ID: 9, Type: "Truck", Features: "gps, heated seats"},
		}, schema)
		require.Len(t, rows, 1)
		assert.Len(t, rows[0], schema.Width())
		assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 1}, rows[0])
	})

	t.Run("PersistedSchema", func(t *testing.T) {
		restored := FeatureSchema{Columns: schema.Columns}
		assert.Equal(t, fitted, TransformFeatures(ds.Vehicles, restored))
	})
}

func TestDescribeRow(t *testing.T) {
	schema := NewFeatureSchema([]string{"type=suv", "feature=gps", "feature=ac"})
	assert.Equal(t, "type=suv,feature=ac", DescribeRow([]float64{1, 0, 1}, schema))
	assert.Equal(t, "", DescribeRow([]float64{0, 0, 0}, schema))
}
