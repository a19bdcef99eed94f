// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/irb-engine/internal/submission"
	"github.com/pdiddy/irb-engine/pkg/types"
)

var submissionCmd = &cobra.Command{
	Use:     "submission",
	Aliases: []string{"sub"},
	Short:   "Draft, submit, route, and decide protocol submissions",
}

// actorRun resolves the acting user before calling fn.
func actorRun(fn func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error) func(*cobra.Command, []string) error {
	return withApp(func(cmd *cobra.Command, args []string, a *app) error {
		actor, err := a.actor(cmd)
		if err != nil {
			return err
		}
		return fn(cmd, args, a, actor)
	})
}

func draftInput(cmd *cobra.Command) (submission.DraftInput, error) {
	var in submission.DraftInput
	in.Title, _ = cmd.Flags().GetString("title")
	in.Summary, _ = cmd.Flags().GetString("summary")
	if t, _ := cmd.Flags().GetString("type"); t != "" {
		in.PISuggestedType = types.ReviewType(t)
		if !in.PISuggestedType.Valid() {
			return in, fmt.Errorf("unknown review type %q (exempt, expedited, full)", t)
		}
	}
	if cmd.Flags().Changed("deception") {
		d, _ := cmd.Flags().GetBool("deception")
		in.InvolvesDeception = &d
	}
	return in, nil
}

func showSubmission(cmd *cobra.Command, sub types.ProtocolSubmission) error {
	return show(cmd, sub, func(w io.Writer) { printSubmission(w, sub) })
}

func printSubmission(w io.Writer, sub types.ProtocolSubmission) {
	number := sub.SubmissionNumber
	if number == "" {
		number = "(draft)"
	}
	fmt.Fprintf(w, "Submission %s  v%d  %s\n", sub.ID, sub.Version, number)
	fmt.Fprintf(w, "  Title:     %s\n", sub.Title)
	fmt.Fprintf(w, "  Status:    %s  decision: %s\n", sub.Status, sub.Decision)
	if sub.ReviewType != "" {
		fmt.Fprintf(w, "  Review:    %s\n", sub.ReviewType)
	} else if sub.PISuggestedType != "" {
		fmt.Fprintf(w, "  Suggested: %s\n", sub.PISuggestedType)
	}
	if sub.CollegeRepID != "" {
		fmt.Fprintf(w, "  Rep:       %s\n", sub.CollegeRepID)
	}
	if sub.ChairID != "" {
		fmt.Fprintf(w, "  Chair:     %s\n", sub.ChairID)
	}
	if len(sub.ReviewerIDs) > 0 {
		fmt.Fprintf(w, "  Reviewers: %s\n", strings.Join(sub.ReviewerIDs, ", "))
	}
	if sub.NeedsManualAssignment {
		fmt.Fprintf(w, "  Routing:   needs manual assignment (%s)\n", sub.RoutingNotes)
	}
	if sub.ProtocolNumber != "" {
		fmt.Fprintf(w, "  Protocol:  %s\n", sub.ProtocolNumber)
	}
	if sub.AnalysisReviewID != "" {
		fmt.Fprintf(w, "  Analysis:  %s\n", sub.AnalysisReviewID)
	}
}

var subDraftCmd = &cobra.Command{
	Use:   "draft <study-id>",
	Short: "Create the first draft submission for a study",
	Args:  cobra.ExactArgs(1),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		in, err := draftInput(cmd)
		if err != nil {
			return err
		}
		sub, err := a.submissions.CreateDraft(cmd.Context(), actor, args[0], in)
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subUpdateCmd = &cobra.Command{
	Use:   "update <submission-id>",
	Short: "Edit a draft submission",
	Args:  cobra.ExactArgs(1),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		in, err := draftInput(cmd)
		if err != nil {
			return err
		}
		sub, err := a.submissions.UpdateDraft(cmd.Context(), actor, args[0], in)
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subSubmitCmd = &cobra.Command{
	Use:   "submit <submission-id>",
	Short: "Submit a draft and route it to a college representative",
	Args:  cobra.ExactArgs(1),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		sub, err := a.submissions.Submit(cmd.Context(), actor, args[0])
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subDetermineCmd = &cobra.Command{
	Use:   "determine <submission-id> <exempt|expedited|full>",
	Short: "Record the college representative's review type determination",
	Args:  cobra.ExactArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		sub, err := a.submissions.Determine(cmd.Context(), actor, args[0], types.ReviewType(args[1]))
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subAssignCmd = &cobra.Command{
	Use:   "assign <submission-id> <reviewer>...",
	Short: "Assign IRB reviewers to a submission",
	Args:  cobra.MinimumNArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		ids := make([]string, 0, len(args)-1)
		for _, ref := range args[1:] {
			u, err := a.store.User(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("reviewer %s: %w", ref, err)
			}
			ids = append(ids, u.ID)
		}
		sub, err := a.submissions.AssignReviewers(cmd.Context(), actor, args[0], ids...)
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subAssignRepCmd = &cobra.Command{
	Use:   "assign-rep <submission-id> [college-rep]",
	Short: "Assign the college representative or chair of a submission (admin)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		var in submission.AuthorityInput
		if len(args) == 2 {
			u, err := a.store.User(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("college representative %s: %w", args[1], err)
			}
			in.CollegeRepID = u.ID
		}
		if ref, _ := cmd.Flags().GetString("chair"); ref != "" {
			u, err := a.store.User(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("chair %s: %w", ref, err)
			}
			in.ChairID = u.ID
		}
		sub, err := a.submissions.AssignAuthority(cmd.Context(), actor, args[0], in)
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subDecideCmd = &cobra.Command{
	Use:   "decide <submission-id> <approved|revise_resubmit|rejected>",
	Short: "Record the final decision on a submission",
	Args:  cobra.ExactArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		notes, _ := cmd.Flags().GetString("notes")
		sub, err := a.submissions.Decide(cmd.Context(), actor, args[0], submission.DecisionInput{
			Decision: types.Decision(args[1]),
			Notes:    notes,
		})
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subResubmitCmd = &cobra.Command{
	Use:   "resubmit <submission-id>",
	Short: "Open a new draft version after a revise-and-resubmit decision",
	Args:  cobra.ExactArgs(1),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		sub, err := a.submissions.Resubmit(cmd.Context(), actor, args[0])
		if err != nil {
			return err
		}
		return showSubmission(cmd, sub)
	}),
}

var subHistoryCmd = &cobra.Command{
	Use:   "history <study-id>",
	Short: "List every submission version of a study",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		subs, err := a.submissions.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return show(cmd, subs, func(w io.Writer) {
			for _, sub := range subs {
				printSubmission(w, sub)
			}
		})
	}),
}

var amendmentCmd = &cobra.Command{
	Use:   "amendment",
	Short: "Request and decide amendments to approved protocols",
}

var amdCreateCmd = &cobra.Command{
	Use:   "create <submission-id> <description>",
	Short: "Request an amendment to an approved submission",
	Args:  cobra.ExactArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		amd, err := a.submissions.CreateAmendment(cmd.Context(), actor, args[0], submission.AmendmentInput{Description: args[1]})
		if err != nil {
			return err
		}
		return show(cmd, amd, func(w io.Writer) {
			fmt.Fprintf(w, "Amendment %s (%s) is %s\n", amd.AmendmentNumber, amd.ID, amd.Decision)
		})
	}),
}

var amdDecideCmd = &cobra.Command{
	Use:   "decide <amendment-id> <approved|revise_resubmit|rejected>",
	Short: "Decide an amendment",
	Args:  cobra.ExactArgs(2),
	RunE: actorRun(func(cmd *cobra.Command, args []string, a *app, actor types.Actor) error {
		notes, _ := cmd.Flags().GetString("notes")
		amd, err := a.submissions.DecideAmendment(cmd.Context(), actor, args[0], submission.DecisionInput{
			Decision: types.Decision(args[1]),
			Notes:    notes,
		})
		if err != nil {
			return err
		}
		return show(cmd, amd, func(w io.Writer) {
			fmt.Fprintf(w, "Amendment %s: %s\n", amd.AmendmentNumber, amd.Decision)
		})
	}),
}

func init() {
	for _, c := range []*cobra.Command{subDraftCmd, subUpdateCmd} {
		c.Flags().String("title", "", "protocol title")
		c.Flags().String("summary", "", "protocol summary")
		c.Flags().String("type", "", "suggested review type: exempt, expedited, or full")
		c.Flags().Bool("deception", false, "the protocol involves deception")
	}
	subDecideCmd.Flags().String("notes", "", "decision notes (required for revise_resubmit and rejected)")
	amdDecideCmd.Flags().String("notes", "", "decision notes")
	subAssignRepCmd.Flags().String("chair", "", "IRB member to act as chair")

	submissionCmd.AddCommand(subDraftCmd, subUpdateCmd, subSubmitCmd, subDetermineCmd,
		subAssignCmd, subAssignRepCmd, subDecideCmd, subResubmitCmd, subHistoryCmd)
	amendmentCmd.AddCommand(amdCreateCmd, amdDecideCmd)
	rootCmd.AddCommand(submissionCmd, amendmentCmd)
}
