// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdiddy/irb-engine/internal/analysis"
	"github.com/pdiddy/irb-engine/pkg/types"
)

var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Request and read AI analysis reviews",
}

var analysisCreateCmd = &cobra.Command{
	Use:   "create <study-id>",
	Short: "Request a new analysis review of a study",
	Long: `Create opens a pending analysis review. The review runs when the worker
picks up its job ("irb-engine work"), or immediately with --run.`,
	Args: cobra.ExactArgs(1),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		ctx := cmd.Context()
		repo, _ := cmd.Flags().GetString("repo")
		review, err := a.analyses.CreateReview(ctx, actor, args[0], analysis.ReviewRequest{RepoURL: repo})
		if err != nil {
			return err
		}
		if run, _ := cmd.Flags().GetBool("run"); run {
			if err := a.registerHandlers(ctx); err != nil {
				return err
			}
			a.pool.Start(ctx)
			defer a.pool.Stop()
			if _, err := a.pool.Resume(ctx); err != nil {
				return err
			}
			if err := a.pool.Drain(ctx); err != nil {
				return err
			}
			if review, err = a.analyses.Review(ctx, review.StudyID, review.Version); err != nil {
				return err
			}
		}
		return show(cmd, review, func(w io.Writer) { printReview(w, review) })
	}),
}

var analysisShowCmd = &cobra.Command{
	Use:   "show <study-id> [version]",
	Short: "Show an analysis review (latest when no version is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		version := 0
		if len(args) == 2 {
			v, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version must be a number: %w", err)
			}
			version = v
		}
		review, err := a.analyses.Review(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		return show(cmd, review, func(w io.Writer) { printReview(w, review) })
	}),
}

var analysisListCmd = &cobra.Command{
	Use:   "list <study-id>",
	Short: "List analysis reviews of a study",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		reviews, err := a.analyses.Reviews(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return show(cmd, reviews, func(w io.Writer) {
			for _, r := range reviews {
				fmt.Fprintf(w, "v%-3d  %-36s  %-11s  risk: %-8s  critical: %d  moderate: %d  minor: %d\n",
					r.Version, r.ID, r.Status, r.OverallRisk, len(r.CriticalIssues), len(r.ModerateIssues), len(r.MinorIssues))
			}
		})
	}),
}

var analysisRespondCmd = &cobra.Command{
	Use:   "respond <review-id> <notes>",
	Short: "Record the researcher's response to a completed review",
	Args:  cobra.ExactArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		review, err := a.analyses.RespondToReview(cmd.Context(), actor, args[0], args[1])
		if err != nil {
			return err
		}
		return show(cmd, review, func(w io.Writer) {
			fmt.Fprintf(w, "Response recorded on review %s\n", review.ID)
		})
	}),
}

func printReview(w io.Writer, r types.AnalysisReview) {
	fmt.Fprintf(w, "Analysis review %s (v%d) for study %s\n", r.ID, r.Version, r.StudyID)
	fmt.Fprintf(w, "  Status: %s", r.Status)
	if r.ProcessingTimeSeconds > 0 {
		fmt.Fprintf(w, " in %.1fs", r.ProcessingTimeSeconds)
	}
	fmt.Fprintln(w)
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:  %s\n", r.Error)
	}
	if r.Status != types.ReviewCompleted {
		return
	}
	fmt.Fprintf(w, "  Overall risk: %s\n", r.OverallRisk)

	names := make([]string, 0, len(r.AgentResults))
	for name := range r.AgentResults {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := r.AgentResults[name]
		fmt.Fprintf(w, "  [%s] %s (risk: %s, model: %s)\n", name, res.Summary, res.RiskAssessment, res.Model)
	}

	for _, group := range []struct {
		label    string
		findings []types.Finding
	}{
		{"Critical", r.CriticalIssues},
		{"Moderate", r.ModerateIssues},
		{"Minor", r.MinorIssues},
	} {
		if len(group.findings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n  %s issues:\n", group.label)
		for _, f := range group.findings {
			fmt.Fprintf(w, "    %s [%s/%s] %s\n", f.IssueID, f.Agent, f.Category, f.Description)
			if f.Recommendation != "" {
				fmt.Fprintf(w, "      -> %s\n", f.Recommendation)
			}
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, "\n  Recommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "    (%s) %s\n", rec.Priority, rec.Recommendation)
		}
	}
	if r.ResponseNotes != "" {
		fmt.Fprintf(w, "\n  Researcher response: %s\n", r.ResponseNotes)
	}
}

func init() {
	analysisCreateCmd.Flags().String("repo", "", "OSF repository URL to include in the materials")
	analysisCreateCmd.Flags().Bool("run", false, "run the review now instead of leaving it for the worker")

	analysisCmd.AddCommand(analysisCreateCmd, analysisShowCmd, analysisListCmd, analysisRespondCmd)
	rootCmd.AddCommand(analysisCmd)
}
