package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/tether/internal/reconcile"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check every match link for consistency",
	Long: `Scan all parent and volunteer reports and list links that are not
symmetric: pointers to missing reports, counterparts that point elsewhere and
pairs confirmed on one side only. With --repair, one-sided pointers are cleared
so both reports become matchable again.`,
	Example: `  tether audit
  tether audit --repair --json`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Bool("repair", false, "Clear one-sided links")
	auditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	repair := mustGetBool(cmd, "repair")

	return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
		opts := reconcile.AuditOptions{Repair: repair}

		// Create progress bar (only for non-JSON output)
		if !jsonOutput {
			parents, volunteers, err := e.CountReports(ctx)
			if err != nil {
				return err
			}
			bar := progressbar.NewOptions(parents+volunteers,
				progressbar.OptionSetDescription("Auditing links"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("reports"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionFullWidth(),
			)
			opts.Progress = func() { _ = bar.Add(1) }
			defer func() {
				_ = bar.Finish()
				fmt.Println()
			}()
		}

		report, err := e.Audit(ctx, opts)
		if err != nil {
			return fmt.Errorf("audit failed: %w", err)
		}
		if jsonOutput {
			return outputJSON(report)
		}
		printAudit(report, repair)
		return nil
	})
}

func printAudit(r *reconcile.AuditReport, repair bool) {
	fmt.Printf("\nParents:    %d\n", r.Parents)
	fmt.Printf("Volunteers: %d\n", r.Volunteers)
	fmt.Printf("Linked:     %d (%d confirmed)\n", r.Linked, r.Confirmed)

	if len(r.Issues) == 0 {
		fmt.Println("\nAll links are consistent.")
		return
	}
	fmt.Printf("\nIssues: %d\n", len(r.Issues))
	for _, issue := range r.Issues {
		suffix := ""
		if issue.Repaired {
			suffix = "  [repaired]"
		}
		fmt.Printf("  %-16s %-9s %s -> %s%s\n", issue.Kind, issue.Role, issue.ReportID, issue.LinkedID, suffix)
	}
	if !repair {
		fmt.Println("\nRun with --repair to clear one-sided links.")
	}
}
