package ingest

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePointShapefile(t *testing.T, points []shp.Point, counts []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lights.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("FIXTURES", 8)}))
	for i := range points {
		n := w.Write(&points[i])
		require.NoError(t, w.WriteAttribute(int(n), 0, counts[i]))
	}
	w.Close()
	return path
}

func TestReadShapefilePoints(t *testing.T) {
	path := writePointShapefile(t,
		[]shp.Point{{X: -79.6375, Y: 43.5825}, {X: -79.6325, Y: 43.5830}, {X: 200, Y: 43.5}},
		[]string{"2", "1", "1"},
	)

	res, err := ReadShapefilePoints(path, ShapefileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Points, 2)
	assert.InDelta(t, 43.5825, res.Points[0].Lat, 1e-9)
	assert.InDelta(t, -79.6375, res.Points[0].Lng, 1e-9)
	assert.Zero(t, res.Points[0].Weight)
}

func TestReadShapefilePoints_CountField(t *testing.T) {
	path := writePointShapefile(t,
		[]shp.Point{{X: -79.6375, Y: 43.5825}, {X: -79.6325, Y: 43.5830}, {X: -79.63, Y: 43.58}, {X: -79.62, Y: 43.57}},
		[]string{"3", "bad", "0", "1"},
	)

	res, err := ReadShapefilePoints(path, ShapefileOptions{CountField: "fixtures"})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.Equal(t, 3.0, res.Points[0].Weight)
	assert.Equal(t, 1.0, res.Points[1].Weight)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Filtered)
}

func TestReadShapefilePoints_Errors(t *testing.T) {
	_, err := ReadShapefilePoints(filepath.Join(t.TempDir(), "missing.shp"), ShapefileOptions{})
	assert.Error(t, err)

	path := writePointShapefile(t, []shp.Point{{X: -79.6, Y: 43.5}}, []string{"1"})
	_, err = ReadShapefilePoints(path, ShapefileOptions{CountField: "lumens"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no field")
}
