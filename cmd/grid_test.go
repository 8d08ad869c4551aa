package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const incidentsCSV = `lat,lng,timestamp
43.6520,-79.3800,2026-01-05T22:10:00Z
43.6521,-79.3801,2026-01-06T01:00:00Z
43.6522,-79.3802,2026-01-07T03:30:00Z
43.6520,-79.3840,2026-01-08T23:45:00Z
not-a-number,-79.3800,2026-01-09T00:00:00Z
50.0000,-79.3800,2026-01-09T00:00:00Z
`

func TestBuildGrid_Incidents(t *testing.T) {
	setTestConfig(t)
	out := filepath.Join(t.TempDir(), "crime.json")
	geo := filepath.Join(t.TempDir(), "crime.geojson")

	g, err := buildGrid(context.Background(), gridBuildOpts{
		Kind:    "crime",
		Input:   writeTemp(t, "incidents.csv", incidentsCSV),
		Out:     out,
		GeoJSON: geo,
		Version: "crime-test",
	})
	require.NoError(t, err)
	assert.Equal(t, grid.KindCrime, g.Kind)
	assert.Equal(t, "crime-test", g.Version)
	assert.Len(t, g.Cells, 2)
	// The out-of-bounds row is ignored, not counted.
	assert.Equal(t, 4.0, g.TotalWeight)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	decoded, err := grid.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, g.Cells, decoded.Cells)

	data, err := os.ReadFile(geo)
	require.NoError(t, err)
	var fc map[string]any
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.Len(t, fc["features"], 2)
}

func TestBuildGrid_LightingBinned(t *testing.T) {
	setTestConfig(t)
	out := filepath.Join(t.TempDir(), "lighting.json")

	g, err := buildGrid(context.Background(), gridBuildOpts{
		Kind:   "lighting",
		Input:  writeTemp(t, "bins.csv", "lat_bin,lng_bin,count\n10,20,4\n10,21,1\n11,20,0\n"),
		Out:    out,
		Binned: true,
	})
	require.NoError(t, err)
	assert.Equal(t, grid.KindLighting, g.Kind)
	assert.True(t, strings.HasPrefix(g.Version, "lighting-"))
	require.Len(t, g.Cells, 2)

	cell, ok := g.Cell(testBounds.MinLat+10.5*0.005, testBounds.MinLng+20.5*0.005)
	require.True(t, ok)
	assert.Equal(t, 4.0, cell.Count)
	assert.Equal(t, 10, cell.LatBin)
	assert.Equal(t, 20, cell.LngBin)
}

func TestBuildGrid_EmptyDatasetStillWrites(t *testing.T) {
	setTestConfig(t)
	out := filepath.Join(t.TempDir(), "crime.json")

	g, err := buildGrid(context.Background(), gridBuildOpts{
		Kind:  "crime",
		Input: writeTemp(t, "far.csv", "lat,lng\n10,10\n"),
		Out:   out,
	})
	require.NoError(t, err)
	assert.True(t, g.Empty())
	_, err = os.Stat(out)
	assert.NoError(t, err)
}

func TestBuildGrid_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts func(t *testing.T) gridBuildOpts
	}{
		{"unknown kind", func(t *testing.T) gridBuildOpts {
			return gridBuildOpts{Kind: "noise", Input: writeTemp(t, "a.csv", incidentsCSV), Out: filepath.Join(t.TempDir(), "g.json")}
		}},
		{"missing input", func(t *testing.T) gridBuildOpts {
			return gridBuildOpts{Kind: "crime", Input: filepath.Join(t.TempDir(), "missing.csv"), Out: filepath.Join(t.TempDir(), "g.json")}
		}},
		{"no coordinate columns", func(t *testing.T) gridBuildOpts {
			return gridBuildOpts{Kind: "crime", Input: writeTemp(t, "a.csv", "x1,y1\n1,2\n"), Out: filepath.Join(t.TempDir(), "g.json")}
		}},
		{"bad bin origin", func(t *testing.T) gridBuildOpts {
			return gridBuildOpts{Kind: "lighting", Binned: true, BinOrigin: "north", Input: writeTemp(t, "b.csv", "lat_bin,lng_bin,count\n1,1,1\n"), Out: filepath.Join(t.TempDir(), "g.json")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestConfig(t)
			_, err := buildGrid(context.Background(), tt.opts(t))
			assert.Error(t, err)
		})
	}
}

func TestBuildGrid_RequiresBounds(t *testing.T) {
	c := setTestConfig(t)
	c.Grid.Bounds = model.BBox{}

	_, err := buildGrid(context.Background(), gridBuildOpts{
		Kind:  "crime",
		Input: writeTemp(t, "a.csv", incidentsCSV),
		Out:   filepath.Join(t.TempDir(), "g.json"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid.bounds")
}

func TestInspectGrid(t *testing.T) {
	setTestConfig(t)
	out := filepath.Join(t.TempDir(), "crime.json")
	_, err := buildGrid(context.Background(), gridBuildOpts{
		Kind:    "crime",
		Input:   writeTemp(t, "incidents.csv", incidentsCSV),
		Out:     out,
		Version: "crime-test",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, inspectGrid(&buf, out, "43.6520,-79.3800", "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "crime", got["kind"])
	assert.Equal(t, "crime-test", got["version"])
	assert.Equal(t, float64(2), got["cells"])
	at := got["at"].(map[string]any)
	assert.Equal(t, true, at["found"])

	buf.Reset()
	require.NoError(t, inspectGrid(&buf, out, "", "yaml"))
	assert.Contains(t, buf.String(), "version: crime-test")
	assert.NotContains(t, buf.String(), "at:")

	assert.Error(t, inspectGrid(&buf, out, "nowhere", "json"))
	assert.Error(t, inspectGrid(&buf, filepath.Join(t.TempDir(), "missing.json"), "", "json"))
}
