package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/reconcile"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Review proposed matches",
	Long:  `Inspect, confirm or reject the match of a report, or list nearby reports.`,
}

var matchGetCmd = &cobra.Command{
	Use:   "get [report-id]",
	Short: "Show a report together with its matched counterpart",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatchGet,
}

var matchConfirmCmd = &cobra.Command{
	Use:   "confirm [report-id]",
	Short: "Confirm a match and record the resolved child",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatchConfirm,
}

var matchRejectCmd = &cobra.Command{
	Use:   "reject [report-id]",
	Short: "Reject a match so both reports can be matched again",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatchReject,
}

var matchSuggestCmd = &cobra.Command{
	Use:   "suggest [report-id]",
	Short: "List the closest reports of the opposite role",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatchSuggest,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.AddCommand(matchGetCmd, matchConfirmCmd, matchRejectCmd, matchSuggestCmd)

	for _, c := range []*cobra.Command{matchGetCmd, matchConfirmCmd, matchRejectCmd, matchSuggestCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}
	matchSuggestCmd.Flags().Int("k", reconcile.DefaultSuggestions, "Number of suggestions")
}

// withEngine runs fn against a freshly wired engine.
func withEngine(fn func(ctx context.Context, e *reconcile.Engine) error) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.engine)
}

func printReport(label string, r *database.Report) {
	fmt.Printf("%s %s\n", label, r.ID)
	fmt.Printf("  Reporter: %s (%s)\n", r.Reporter.Name, r.Reporter.Phone)
	if r.Child.Name != "" {
		fmt.Printf("  Child:    %s, %d\n", r.Child.Name, r.Child.Age)
	}
	fmt.Printf("  City:     %s\n", r.Child.City)
	if len(r.Child.DistinguishingMarks) > 0 {
		fmt.Printf("  Marks:    %v\n", r.Child.DistinguishingMarks)
	}
	state := "pending"
	if r.Match.Confirmed {
		state = "confirmed"
	}
	fmt.Printf("  Match:    %s\n", state)
}

func runMatchGet(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
		pair, err := e.GetMatchPair(ctx, args[0])
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			pair.Parent.Embedding = nil
			pair.Volunteer.Embedding = nil
			return outputJSON(pair)
		}
		fmt.Printf("Score: %.3f\n\n", pair.Score)
		printReport("Parent", pair.Parent)
		fmt.Println()
		printReport("Volunteer", pair.Volunteer)
		return nil
	})
}

func runMatchConfirm(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
		res, err := e.Confirm(ctx, args[0])
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(res)
		}
		if res.Created {
			fmt.Printf("Confirmed. Resolved child: %s\n", res.ResolvedChildID)
		} else {
			fmt.Printf("Already confirmed. Resolved child: %s\n", res.ResolvedChildID)
		}
		return nil
	})
}

func runMatchReject(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
		status, err := e.Reject(ctx, args[0])
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(map[string]string{"status": string(status)})
		}
		fmt.Println(status)
		return nil
	})
}

func runMatchSuggest(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
		suggestions, err := e.Suggest(ctx, args[0], mustGetInt(cmd, "k"))
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(suggestions)
		}
		if len(suggestions) == 0 {
			fmt.Println("No suggestions (the report has no face embedding or the other side is empty).")
			return nil
		}
		for i, s := range suggestions {
			avail := "linked"
			if s.Available {
				avail = "available"
			}
			fmt.Printf("%2d. %s  distance %.3f  score %.3f  %s  %s\n",
				i+1, s.Report.ID, s.Distance, s.Score, avail, s.Report.Child.City)
		}
		return nil
	})
}
