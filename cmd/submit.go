package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/tether/internal/reconcile"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a parent or volunteer report",
	Long: `Store a new report and try to link it to the closest unlinked report
of the opposite role.`,
	Example: `  tether submit --role parent --name "Jana Nováková" --phone +420600111222 \
    --child-name Eliška --age 6 --city Brno --marks "mole on cheek" --image eliska.jpg
  tether submit --role volunteer --name Petr --phone +420600333444 \
    --city Olomouc --address "Hlavní 5" --image found.jpg --json`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String("role", "", "parent or volunteer")
	submitCmd.Flags().String("name", "", "Reporter name")
	submitCmd.Flags().String("email", "", "Reporter email")
	submitCmd.Flags().String("alt-email", "", "Alternative email")
	submitCmd.Flags().String("phone", "", "Reporter phone")
	submitCmd.Flags().String("alt-phone", "", "Alternative phone")
	submitCmd.Flags().String("child-name", "", "Child name (required for parents)")
	submitCmd.Flags().Int("age", 0, "Child age (approximate for volunteers)")
	submitCmd.Flags().String("complexion", "", "Skin complexion")
	submitCmd.Flags().StringSlice("marks", nil, "Distinguishing marks (repeatable or comma-separated)")
	submitCmd.Flags().String("city", "", "City last seen (parent) or found (volunteer)")
	submitCmd.Flags().String("address", "", "Where the child was found (volunteer)")
	submitCmd.Flags().String("image", "", "Path to a photo of the child")
	submitCmd.Flags().Bool("json", false, "Output as JSON")
	_ = submitCmd.MarkFlagRequired("role")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	sub, err := reconcile.NewSubmission(mustGetString(cmd, "role"), reconcile.SubmissionFields{
		Contact: reconcile.Contact{
			Name:     mustGetString(cmd, "name"),
			Email:    mustGetString(cmd, "email"),
			AltEmail: mustGetString(cmd, "alt-email"),
			Phone:    mustGetString(cmd, "phone"),
			AltPhone: mustGetString(cmd, "alt-phone"),
		},
		ChildName:           mustGetString(cmd, "child-name"),
		ChildAge:            mustGetInt(cmd, "age"),
		Complexion:          mustGetString(cmd, "complexion"),
		DistinguishingMarks: mustGetStringSlice(cmd, "marks"),
		City:                mustGetString(cmd, "city"),
		Address:             mustGetString(cmd, "address"),
	})
	if err != nil {
		return err
	}

	var image []byte
	filename := ""
	if path := mustGetString(cmd, "image"); path != "" {
		image, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		filename = filepath.Base(path)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Submit(ctx, sub, image, filename)
	if err != nil {
		var pe *reconcile.PartialUpdateError
		if errors.As(err, &pe) && res != nil {
			fmt.Fprintf(os.Stderr, "Report %s was stored but linking failed halfway (rolled back: %v)\n", res.ReportID, pe.RolledBack)
		}
		return fmt.Errorf("submit failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("Report: %s (%s)\n", res.ReportID, res.Role)
	if !res.HasEmbedding {
		fmt.Println("No face embedding could be extracted; the report will not be matched automatically.")
		return nil
	}
	if !res.Matched {
		fmt.Println("No match yet.")
		return nil
	}
	fmt.Printf("Matched: %s (score %.3f)\n", res.LinkedID, *res.Score)
	return nil
}
