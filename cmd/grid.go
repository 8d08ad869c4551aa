package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/ingest"
	"github.com/sells-group/saferoute/internal/model"
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Build and inspect safety grids",
}

// gridBuildOpts are the inputs to buildGrid.
type gridBuildOpts struct {
	Kind      string
	Input     string
	Out       string
	GeoJSON   string
	Version   string
	Save      bool
	Since     time.Duration
	CellSize  float64
	Binned    bool
	BinOrigin string
	BinSize   float64
	Weight    string
	Sheet     string
	Delimiter string
	Charset   string
	Member    string
}

var buildOpts gridBuildOpts

var gridBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a crime or lighting grid from a point dataset",
	Long: `Reads incidents or streetlights from CSV, XLSX or a point shapefile, local
or downloaded, optionally inside a ZIP archive. Points are binned over the
configured bounds and the grid artifact is written to --out.

Lighting datasets already binned as (lat_bin, lng_bin, count) are read with
--binned; --bin-origin and --bin-size describe the grid they were binned on.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		g, err := buildGrid(cmd.Context(), buildOpts)
		if err != nil {
			return err
		}
		if buildOpts.Save {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.SaveGrid(cmd.Context(), g); err != nil {
				return eris.Wrap(err, "grid build: save")
			}
			zap.L().Info("grid saved", zap.String("kind", string(g.Kind)), zap.String("version", g.Version))
		}
		return writeOutput(cmd.OutOrStdout(), "yaml", g.Summarize())
	},
}

var gridInspectOutput string
var gridInspectAt string

var gridInspectCmd = &cobra.Command{
	Use:   "inspect <grid.json>",
	Short: "Print a summary of a grid artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectGrid(cmd.OutOrStdout(), args[0], gridInspectAt, gridInspectOutput)
	},
}

func init() {
	f := gridBuildCmd.Flags()
	f.StringVar(&buildOpts.Kind, "kind", "", "grid kind (crime or lighting)")
	f.StringVar(&buildOpts.Input, "input", "", "dataset path or URL (.csv, .xlsx, .shp or a .zip holding one)")
	f.StringVar(&buildOpts.Member, "member", "", "file to use inside a .zip input")
	f.StringVar(&buildOpts.Out, "out", "", "artifact output path (- for stdout)")
	f.StringVar(&buildOpts.GeoJSON, "geojson", "", "also write the cells as GeoJSON to this path")
	f.StringVar(&buildOpts.Version, "version", "", "artifact version (default kind-timestamp)")
	f.BoolVar(&buildOpts.Save, "save", false, "store the grid so serve picks it up")
	f.DurationVar(&buildOpts.Since, "since", 0, "keep only incidents newer than this (e.g. 8760h)")
	f.Float64Var(&buildOpts.CellSize, "cell-size", 0, "cell size in degrees (default from config)")
	f.BoolVar(&buildOpts.Binned, "binned", false, "input is pre-binned lat_bin,lng_bin,count records")
	f.StringVar(&buildOpts.BinOrigin, "bin-origin", "", "lat,lng origin of a pre-binned dataset (default bounds corner)")
	f.Float64Var(&buildOpts.BinSize, "bin-size", 0, "cell size of a pre-binned dataset (default target cell size)")
	f.StringVar(&buildOpts.Weight, "weight", "", "column or shapefile field holding a per-point weight")
	f.StringVar(&buildOpts.Sheet, "sheet", "", "XLSX sheet name")
	f.StringVar(&buildOpts.Delimiter, "delimiter", "", "CSV delimiter (default comma)")
	f.StringVar(&buildOpts.Charset, "charset", "", "CSV charset, e.g. windows-1252")
	_ = gridBuildCmd.MarkFlagRequired("kind")
	_ = gridBuildCmd.MarkFlagRequired("input")
	_ = gridBuildCmd.MarkFlagRequired("out")

	gridInspectCmd.Flags().StringVarP(&gridInspectOutput, "output", "o", "yaml", "output format (json or yaml)")
	gridInspectCmd.Flags().StringVar(&gridInspectAt, "at", "", "also look up the score at lat,lng")

	gridCmd.AddCommand(gridBuildCmd)
	gridCmd.AddCommand(gridInspectCmd)
	rootCmd.AddCommand(gridCmd)
}

// buildGrid reads the dataset, bins it and writes the artifact.
func buildGrid(ctx context.Context, opts gridBuildOpts) (*grid.SafetyGrid, error) {
	kind, err := grid.ParseKind(opts.Kind)
	if err != nil {
		return nil, err
	}
	bounds := cfg.Grid.Bounds
	if bounds == (model.BBox{}) {
		return nil, eris.New("grid build: grid.bounds must be configured")
	}
	cellSize := opts.CellSize
	if cellSize <= 0 {
		cellSize = cfg.Grid.CellSizeDegrees
	}
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	version := opts.Version
	if version == "" {
		version = fmt.Sprintf("%s-%s", kind, time.Now().UTC().Format("20060102T150405Z"))
	}
	gopts := []grid.Option{grid.WithTable(profile.Table(kind)), grid.WithVersion(version)}

	work, err := os.MkdirTemp("", "saferoute-grid-*")
	if err != nil {
		return nil, eris.Wrap(err, "grid build: temp dir")
	}
	defer os.RemoveAll(work) //nolint:errcheck
	opts.Input, err = ingest.Fetch(ctx, opts.Input, work, ingest.FetchOptions{Member: opts.Member})
	if err != nil {
		return nil, err
	}

	var g *grid.SafetyGrid
	if opts.Binned {
		g, err = buildFromBins(ctx, opts, kind, bounds, cellSize, gopts)
	} else {
		var points []model.RawPoint
		points, err = readPoints(ctx, opts, kind)
		if err == nil {
			g, err = grid.BuildChecked(points, bounds, cellSize, kind, gopts...)
		}
	}
	if errors.Is(err, grid.ErrEmptyDataset) {
		zap.L().Warn("grid build: no points fell inside the configured bounds", zap.String("input", opts.Input))
	} else if err != nil {
		return nil, err
	}

	if err := writeArtifact(opts.Out, g); err != nil {
		return nil, err
	}
	if opts.GeoJSON != "" {
		if err := writeGridGeoJSON(opts.GeoJSON, g); err != nil {
			return nil, err
		}
	}
	zap.L().Info("grid built",
		zap.String("kind", string(kind)),
		zap.String("version", g.Version),
		zap.Int("cells", len(g.Cells)),
		zap.Float64("total_weight", g.TotalWeight),
	)
	return g, nil
}

func readPoints(ctx context.Context, opts gridBuildOpts, kind grid.Kind) ([]model.RawPoint, error) {
	var (
		res *ingest.Result
		err error
	)
	if strings.EqualFold(filepath.Ext(opts.Input), ".shp") {
		res, err = ingest.ReadShapefilePoints(opts.Input, ingest.ShapefileOptions{CountField: opts.Weight})
	} else {
		cols := ingest.DefaultIncidentColumns()
		if kind == grid.KindLighting {
			cols.Timestamp = ""
		}
		cols.Weight = opts.Weight
		iopts := ingest.IncidentOptions{
			Columns: cols,
			CSV:     csvOptions(opts),
			XLSX:    ingest.XLSXOptions{SheetName: opts.Sheet},
		}
		if opts.Since > 0 && kind == grid.KindCrime {
			iopts.Since = time.Now().Add(-opts.Since)
		}
		res, err = ingest.ReadIncidentsFile(ctx, opts.Input, iopts)
	}
	if err != nil {
		return nil, eris.Wrap(err, "grid build: read input")
	}
	res.Log(opts.Input)
	return res.Points, nil
}

func buildFromBins(ctx context.Context, opts gridBuildOpts, kind grid.Kind, bounds model.BBox, cellSize float64, gopts []grid.Option) (*grid.SafetyGrid, error) {
	res, err := ingest.ReadLightingBins(ctx, opts.Input, ingest.BinOptions{
		CSV:  csvOptions(opts),
		XLSX: ingest.XLSXOptions{SheetName: opts.Sheet},
	})
	if err != nil {
		return nil, eris.Wrap(err, "grid build: read bins")
	}
	if res.Skipped > 0 {
		zap.L().Warn("grid build: skipped malformed bins", zap.Int("skipped", res.Skipped), zap.Int("rows", res.Rows))
	}

	layout := grid.BinLayout{
		Origin:   model.LatLng{Lat: bounds.MinLat, Lng: bounds.MinLng},
		CellSize: opts.BinSize,
	}
	if opts.BinOrigin != "" {
		origin, err := model.ParseLatLng(opts.BinOrigin)
		if err != nil {
			return nil, eris.Wrap(err, "grid build: --bin-origin")
		}
		layout.Origin = origin
	}
	return grid.BuildFromBins(res.Bins, layout, bounds, cellSize, kind, gopts...)
}

func csvOptions(opts gridBuildOpts) ingest.CSVOptions {
	o := ingest.CSVOptions{TrimSpace: true, Charset: opts.Charset}
	if opts.Delimiter != "" {
		o.Delimiter = []rune(opts.Delimiter)[0]
	}
	return o
}

func writeArtifact(path string, g *grid.SafetyGrid) error {
	if path == "-" {
		return grid.Encode(os.Stdout, g)
	}
	return writeFile(path, func(w io.Writer) error { return grid.Encode(w, g) })
}

func writeGridGeoJSON(path string, g *grid.SafetyGrid) error {
	fc, err := export.Grid(g)
	if err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error { return export.Write(w, fc) })
}

// writeFile writes through a temp file so a failed build never leaves a
// truncated artifact behind.
func writeFile(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := fn(tmp); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "rename %s", path)
}

type inspectResult struct {
	grid.Summary `yaml:",inline"`
	At           *inspectPoint `json:"at,omitempty" yaml:"at,omitempty"`
}

type inspectPoint struct {
	Point       model.LatLng `json:"point" yaml:"point"`
	grid.Sample `yaml:",inline"`
}

func inspectGrid(w io.Writer, path, at, format string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "grid inspect: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	g, err := grid.Decode(f)
	if err != nil {
		return err
	}
	out := inspectResult{Summary: g.Summarize()}
	if at != "" {
		p, err := model.ParseLatLng(at)
		if err != nil {
			return eris.Wrap(err, "grid inspect: --at")
		}
		out.At = &inspectPoint{Point: p, Sample: g.Lookup(p.Lat, p.Lng)}
	}
	return writeOutput(w, format, out)
}
