// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <entity-id>",
	Short: "Show the audit trail of a study, submission, amendment, or review",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		trail, err := a.store.AuditTrail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return show(cmd, trail, func(w io.Writer) {
			if len(trail) == 0 {
				fmt.Fprintf(w, "No audit records for %s\n", args[0])
				return
			}
			for _, rec := range trail {
				actor := rec.ActorID
				if actor == "" {
					actor = "system"
				}
				fmt.Fprintf(w, "%s  %-22s  %-10s", rec.CreatedAt.Format(time.RFC3339), rec.Action, actor)
				if len(rec.Metadata) > 0 {
					meta, _ := json.Marshal(rec.Metadata)
					fmt.Fprintf(w, "  %s", meta)
				}
				fmt.Fprintln(w)
			}
		})
	}),
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
