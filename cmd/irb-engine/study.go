// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/irb-engine/pkg/types"
)

var studyCmd = &cobra.Command{
	Use:   "study",
	Short: "Create, inspect, and configure studies",
}

var studyCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a study owned by the acting user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		actor, err := a.actor(cmd)
		if err != nil {
			return err
		}
		desc, _ := cmd.Flags().GetString("description")
		deception, _ := cmd.Flags().GetBool("deception")
		now := time.Now()
		st := types.Study{
			ID:                uuid.NewString(),
			Title:             args[0],
			Description:       desc,
			ResearcherID:      actor.ID,
			InvolvesDeception: deception,
			Monitoring:        types.DefaultMonitoring(),
			IRBStatus:         types.IRBNotRequired,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		st.Monitoring.Strategy = a.cfg.Monitor.DefaultStrategy
		if err := a.store.CreateStudy(cmd.Context(), st); err != nil {
			return err
		}
		if err := a.store.AppendAudit(cmd.Context(), types.AuditRecord{
			ActorID: actor.ID, Action: "study.create", Entity: "study", EntityID: st.ID, CreatedAt: now,
		}); err != nil {
			return err
		}
		return show(cmd, st, func(w io.Writer) {
			fmt.Fprintf(w, "Created study %s: %s\n", st.ID, st.Title)
		})
	}),
}

var studyShowCmd = &cobra.Command{
	Use:   "show [study-id]",
	Short: "Show one study, or list all studies",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if len(args) == 0 {
			studies, err := a.store.Studies(cmd.Context())
			if err != nil {
				return err
			}
			return show(cmd, studies, func(w io.Writer) {
				for _, st := range studies {
					fmt.Fprintf(w, "%-36s  %-12s  %s\n", st.ID, st.IRBStatus, st.Title)
				}
			})
		}
		st, err := a.store.Study(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		n, err := a.store.CountResponses(cmd.Context(), st.ID)
		if err != nil {
			return err
		}
		return show(cmd, st, func(w io.Writer) { printStudy(w, st, n) })
	}),
}

func printStudy(w io.Writer, st types.Study, responses int) {
	fmt.Fprintf(w, "Study:      %s\n", st.ID)
	fmt.Fprintf(w, "Title:      %s\n", st.Title)
	fmt.Fprintf(w, "Owner:      %s\n", st.ResearcherID)
	fmt.Fprintf(w, "Deception:  %t\n", st.InvolvesDeception)
	fmt.Fprintf(w, "IRB status: %s", st.IRBStatus)
	if st.IRBNumber != "" {
		fmt.Fprintf(w, " (%s)", st.IRBNumber)
	}
	fmt.Fprintln(w)
	m := st.Monitoring
	fmt.Fprintf(w, "Monitoring: enabled=%t strategy=%s min=%d threshold=%g\n", m.Enabled, m.Strategy, m.MinSampleSize, m.Threshold)
	fmt.Fprintf(w, "Responses:  %d\n", responses)
	if st.CurrentEvidence != nil {
		fmt.Fprintf(w, "Evidence:   %.4g at n=%d (notified: %t)\n", *st.CurrentEvidence, st.EvidenceN, st.Notified)
	} else {
		fmt.Fprintln(w, "Evidence:   not computed")
	}
}

var studyMonitorCmd = &cobra.Command{
	Use:   "monitor <study-id>",
	Short: "Configure sequential evidence monitoring",
	Long: `Monitor changes a study's monitoring settings. Only the study owner or
an admin may change them. Flags not given keep their current value. With
--recompute the evidence is recomputed immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx := cmd.Context()
		actor, err := a.actor(cmd)
		if err != nil {
			return err
		}
		st, err := a.store.Study(ctx, args[0])
		if err != nil {
			return err
		}
		if actor.ID != st.ResearcherID && actor.Role != types.RoleAdmin {
			return fmt.Errorf("only the study owner or an admin may change monitoring")
		}

		m := st.Monitoring
		flags := cmd.Flags()
		if flags.Changed("enable") {
			m.Enabled, _ = flags.GetBool("enable")
		}
		if flags.Changed("strategy") {
			m.Strategy, _ = flags.GetString("strategy")
		}
		if flags.Changed("min-sample") {
			m.MinSampleSize, _ = flags.GetInt("min-sample")
		}
		if flags.Changed("threshold") {
			m.Threshold, _ = flags.GetFloat64("threshold")
		}
		if flags.Changed("params") {
			raw, _ := flags.GetString("params")
			var params map[string]any
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return fmt.Errorf("--params must be a JSON object: %w", err)
			}
			m.Params = params
		}
		if m.MinSampleSize < 0 || m.Threshold <= 0 {
			return fmt.Errorf("min-sample must be non-negative and threshold positive")
		}
		if err := a.store.UpdateMonitoring(ctx, st.ID, m); err != nil {
			return err
		}
		if err := a.store.AppendAudit(ctx, types.AuditRecord{
			ActorID: actor.ID, Action: "study.monitoring", Entity: "study", EntityID: st.ID,
			Metadata:  map[string]any{"enabled": m.Enabled, "strategy": m.Strategy, "threshold": m.Threshold},
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}

		if recompute, _ := flags.GetBool("recompute"); recompute {
			value, err := a.monitor.Recompute(ctx, st.ID)
			if err != nil {
				return err
			}
			if _, err := a.monitor.MaybeNotify(ctx, st.ID); err != nil {
				return err
			}
			if value != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Evidence recomputed: %.4g\n", *value)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Monitoring updated for %s\n", st.ID)
		return nil
	}),
}

// studyExport is the full record of a study written by study export.
type studyExport struct {
	Study       types.Study                `json:"study" yaml:"study"`
	Submissions []types.ProtocolSubmission `json:"submissions" yaml:"submissions"`
	Amendments  []types.ProtocolAmendment  `json:"amendments,omitempty" yaml:"amendments,omitempty"`
	Reviews     []types.AnalysisReview     `json:"analysis_reviews" yaml:"analysis_reviews"`
	Audit       []types.AuditRecord        `json:"audit" yaml:"audit"`
	Responses   int                        `json:"response_count" yaml:"response_count"`
}

var studyExportCmd = &cobra.Command{
	Use:   "export <study-id>",
	Short: "Export a study with its submissions, reviews, and audit trail as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx := cmd.Context()
		st, err := a.store.Study(ctx, args[0])
		if err != nil {
			return err
		}
		out := studyExport{Study: st}
		if out.Submissions, err = a.store.Submissions(ctx, st.ID); err != nil {
			return err
		}
		for _, sub := range out.Submissions {
			amds, err := a.store.Amendments(ctx, sub.ID)
			if err != nil {
				return err
			}
			out.Amendments = append(out.Amendments, amds...)
		}
		if out.Reviews, err = a.store.AnalysisReviews(ctx, st.ID); err != nil {
			return err
		}
		if out.Audit, err = a.store.AuditTrail(ctx, st.ID); err != nil {
			return err
		}
		if out.Responses, err = a.store.CountResponses(ctx, st.ID); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding export: %w", err)
		}
		return enc.Close()
	}),
}

func init() {
	studyCreateCmd.Flags().String("description", "", "study description")
	studyCreateCmd.Flags().Bool("deception", false, "the study involves deception")

	studyMonitorCmd.Flags().Bool("enable", false, "turn monitoring on or off")
	studyMonitorCmd.Flags().String("strategy", "", "evidence strategy: placeholder or binomial")
	studyMonitorCmd.Flags().Int("min-sample", 0, "responses required before evidence is computed")
	studyMonitorCmd.Flags().Float64("threshold", 0, "evidence value that triggers the notification")
	studyMonitorCmd.Flags().String("params", "", `strategy parameters as JSON, e.g. {"field":"correct","p0":0.5}`)
	studyMonitorCmd.Flags().Bool("recompute", false, "recompute evidence after updating")

	studyExportCmd.Flags().String("file", "", "write the export to this file instead of stdout")

	studyCmd.AddCommand(studyCreateCmd, studyShowCmd, studyMonitorCmd, studyExportCmd)
	rootCmd.AddCommand(studyCmd)
}
