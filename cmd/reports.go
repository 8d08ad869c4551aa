package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage community reports",
	Long:  "Commands for listing, voting on, dismissing and purging community hazard reports.",
}

// -- reports list --

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List community reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		typ, _ := cmd.Flags().GetString("type")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")

		filter := store.ReportFilter{
			Type:             model.ReportType(typ),
			IncludeDismissed: all,
			Limit:            limit,
		}
		return listReports(ctx, cmd.OutOrStdout(), st, filter, output)
	},
}

// -- reports vote --

var reportsVoteCmd = &cobra.Command{
	Use:   "vote <report-id>",
	Short: "Up- or down-vote a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		down, _ := cmd.Flags().GetBool("down")
		r, err := st.Vote(ctx, args[0], !down)
		if err != nil {
			return eris.Wrap(err, "reports vote")
		}
		return writeOutput(cmd.OutOrStdout(), "json", r)
	},
}

// -- reports dismiss --

var reportsDismissCmd = &cobra.Command{
	Use:   "dismiss <report-id>",
	Short: "Hide a report from scoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Dismiss(ctx, args[0]); err != nil {
			return eris.Wrap(err, "reports dismiss")
		}
		zap.L().Info("report dismissed", zap.String("id", args[0]))
		return nil
	},
}

// -- reports purge --

var reportsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired reports older than a cutoff",
	Long: `Deletes reports submitted before now minus --older-than. Reports that still
count toward route scores (confirmed by votes and not dismissed) are kept.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("reports purge: --older-than must be positive")
		}
		return purgeReports(ctx, cmd.OutOrStdout(), st, cfg.Reports, olderThan, time.Now())
	},
}

func init() {
	reportsListCmd.Flags().String("type", "", "filter by report type (bad_lighting, no_sidewalk, suspicious_area, blocked_path)")
	reportsListCmd.Flags().Bool("all", false, "include dismissed reports")
	reportsListCmd.Flags().Int("limit", 50, "max number of reports to display")
	reportsListCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml or geojson)")

	reportsVoteCmd.Flags().Bool("down", false, "record a downvote instead of an upvote")

	reportsPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete reports submitted before now minus this")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsVoteCmd)
	reportsCmd.AddCommand(reportsDismissCmd)
	reportsCmd.AddCommand(reportsPurgeCmd)
	rootCmd.AddCommand(reportsCmd)
}

func listReports(ctx context.Context, w io.Writer, st store.ReportStore, filter store.ReportFilter, output string) error {
	if filter.Type != "" && !filter.Type.Valid() {
		return eris.Errorf("reports list: unknown type %q", filter.Type)
	}
	list, err := st.ListReports(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "reports list")
	}

	switch output {
	case "table", "":
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		formatReportsList(w, list, time.Now())
		return nil
	case "geojson":
		return export.Write(w, export.Reports(list))
	default:
		return writeOutput(w, output, list)
	}
}

// formatReportsList writes a tabular list of reports to w.
func formatReportsList(out io.Writer, list []model.CommunityReport, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tLOCATION\tVOTES\tCONFIDENCE\tAGE\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-----\t----------\t---\t------")

	for _, r := range list {
		status := "active"
		if r.Dismissed {
			status = "dismissed"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t+%d/-%d\t%.0f%%\t%s\t%s\n",
			truncateID(r.ID),
			r.Type,
			r.Point(),
			r.Upvotes,
			r.Downvotes,
			reports.Confidence(r.Upvotes, r.Downvotes),
			now.Sub(r.Time()).Round(time.Minute),
			status,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
// purgeReports deletes reports older than olderThan that rc no longer treats
// as valid.
func purgeReports(ctx context.Context, w io.Writer, st store.ReportStore, rc reports.Config, olderThan time.Duration, now time.Time) error {
	keep := func(r model.CommunityReport) bool { return rc.Valid(r, now) }
	n, err := st.PurgeReports(ctx, now.Add(-olderThan), keep)
	if err != nil {
		return eris.Wrap(err, "reports purge")
	}
	_, _ = fmt.Fprintf(w, "Purged %d reports older than %s.\n", n, olderThan)
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
