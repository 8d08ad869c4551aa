package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/planner"
	"github.com/sells-group/saferoute/internal/store"
	"github.com/sells-group/saferoute/pkg/directions"
)

type compareOpts struct {
	From        string
	To          string
	Selection   string
	Output      string
	CrimeGrid   string
	LightGrid   string
	SkipReports bool
}

var cmpOpts compareOpts

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare walking routes between two points",
	Long: `Fetches candidate routes from the configured directions provider, scores
them against the stored safety grids and active community reports, and
prints the shortest, safest and balanced picks.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		provider, err := directions.New(cfg.Directions)
		if err != nil {
			return err
		}
		return runCompare(ctx, cmd.OutOrStdout(), provider, st, cmpOpts)
	},
}

func init() {
	f := compareCmd.Flags()
	f.StringVar(&cmpOpts.From, "from", "", "origin as lat,lng")
	f.StringVar(&cmpOpts.To, "to", "", "destination as lat,lng")
	f.StringVar(&cmpOpts.Selection, "selection", string(model.SelectBalanced), "route to highlight (shortest, safest, balanced)")
	f.StringVarP(&cmpOpts.Output, "output", "o", "json", "output format (json, yaml or geojson)")
	f.StringVar(&cmpOpts.CrimeGrid, "crime-grid", "", "crime grid artifact to use instead of the stored one")
	f.StringVar(&cmpOpts.LightGrid, "lighting-grid", "", "lighting grid artifact to use instead of the stored one")
	f.BoolVar(&cmpOpts.SkipReports, "no-reports", false, "ignore community reports")
	_ = compareCmd.MarkFlagRequired("from")
	_ = compareCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(compareCmd)
}

// routeLine is one row of the compare summary.
type routeLine struct {
	Index     int      `json:"index" yaml:"index"`
	Summary   string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Roles     []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Distance  float64  `json:"distance_meters" yaml:"distance_meters"`
	Duration  float64  `json:"duration_seconds" yaml:"duration_seconds"`
	Crime     float64  `json:"crime_safety_score" yaml:"crime_safety_score"`
	Lighting  float64  `json:"lighting_score" yaml:"lighting_score"`
	Combined  float64  `json:"combined_safety_score" yaml:"combined_safety_score"`
	Penalty   float64  `json:"report_penalty" yaml:"report_penalty"`
	ReportIDs []string `json:"report_ids,omitempty" yaml:"report_ids,omitempty"`
}

type compareSummary struct {
	Selection      model.Selection `json:"selection" yaml:"selection"`
	Selected       int             `json:"selected_index" yaml:"selected_index"`
	Degraded       bool            `json:"degraded" yaml:"degraded"`
	DegradedReason string          `json:"degraded_reason,omitempty" yaml:"degraded_reason,omitempty"`
	Stale          bool            `json:"stale" yaml:"stale"`
	Routes         []routeLine     `json:"routes" yaml:"routes"`
}

func runCompare(ctx context.Context, w io.Writer, provider directions.Provider, st store.Store, opts compareOpts) error {
	origin, err := model.ParseLatLng(opts.From)
	if err != nil {
		return eris.Wrap(err, "compare: --from")
	}
	dest, err := model.ParseLatLng(opts.To)
	if err != nil {
		return eris.Wrap(err, "compare: --to")
	}

	holder := grid.NewHolder()
	if _, err := loadGrids(ctx, st, holder); err != nil {
		return err
	}
	for _, path := range []string{opts.CrimeGrid, opts.LightGrid} {
		if path == "" {
			continue
		}
		g, err := readGridFile(path)
		if err != nil {
			return err
		}
		holder.Replace(g)
	}

	pc, err := cfg.PlannerConfig()
	if err != nil {
		return err
	}
	var src planner.ReportSource = st
	if opts.SkipReports {
		src = nil
	}
	p := planner.New(provider, holder, src, pc)

	res, err := p.Plan(ctx, planner.Request{
		Origin:      origin,
		Destination: dest,
		Selection:   model.Selection(opts.Selection),
	})
	if err != nil {
		return err
	}

	if opts.Output == "geojson" {
		fc, err := export.Comparison(res.Comparison)
		if err != nil {
			return err
		}
		return export.Write(w, fc)
	}
	return writeOutput(w, opts.Output, summarizeComparison(res))
}

func summarizeComparison(res *planner.Result) compareSummary {
	cmp := res.Comparison
	out := compareSummary{
		Selection:      res.Selection,
		Degraded:       cmp.Degraded,
		DegradedReason: cmp.DegradedReason,
		Stale:          cmp.Stale,
		Routes:         make([]routeLine, 0, len(cmp.Routes)),
	}
	switch res.Selection {
	case model.SelectShortest:
		out.Selected = cmp.ShortestIndex
	case model.SelectSafest:
		out.Selected = cmp.SafestIndex
	default:
		out.Selected = cmp.BalancedIndex
	}
	for i, r := range cmp.Routes {
		line := routeLine{
			Index:     i,
			Summary:   r.Route.Summary,
			Distance:  r.DistanceMeters,
			Duration:  r.DurationSeconds,
			Crime:     r.CrimeSafetyScore,
			Lighting:  r.LightingScore,
			Combined:  r.CombinedSafetyScore,
			Penalty:   r.ReportPenalty,
			ReportIDs: r.ReportIDs,
		}
		if i == cmp.ShortestIndex {
			line.Roles = append(line.Roles, string(model.SelectShortest))
		}
		if i == cmp.SafestIndex {
			line.Roles = append(line.Roles, string(model.SelectSafest))
		}
		if i == cmp.BalancedIndex {
			line.Roles = append(line.Roles, string(model.SelectBalanced))
		}
		out.Routes = append(out.Routes, line)
	}
	return out
}

func readGridFile(path string) (*grid.SafetyGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open grid %s", path)
	}
	defer f.Close() //nolint:errcheck
	return grid.Decode(f)
}
