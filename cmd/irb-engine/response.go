// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var responseCmd = &cobra.Command{
	Use:   "response",
	Short: "Ingest participant responses",
}

var responseIngestCmd = &cobra.Command{
	Use:   "ingest <study-id> [payload-json]",
	Short: "Record participant responses for a study",
	Long: `Ingest appends participant responses and schedules an evidence
recomputation for each. The payload is a JSON object given as an argument,
or, with --file, one JSON object per line (use "-" for stdin).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx := cmd.Context()
		session, _ := cmd.Flags().GetString("session")
		path, _ := cmd.Flags().GetString("file")

		var payloads []json.RawMessage
		switch {
		case len(args) == 2:
			payloads = append(payloads, json.RawMessage(args[1]))
		case path != "":
			lines, err := readLines(path)
			if err != nil {
				return err
			}
			for _, l := range lines {
				payloads = append(payloads, json.RawMessage(l))
			}
		default:
			return fmt.Errorf("give a payload argument or --file")
		}

		for i, p := range payloads {
			if _, err := a.intake.Ingest(ctx, args[0], session, p); err != nil {
				return fmt.Errorf("response %d: %w", i+1, err)
			}
		}
		n, err := a.store.CountResponses(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d response(s); study %s now has %d\n", len(payloads), args[0], n)
		return nil
	}),
}

func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, sc.Err()
}

func init() {
	responseIngestCmd.Flags().String("session", "", "participant session ID")
	responseIngestCmd.Flags().String("file", "", "read newline-delimited JSON payloads from this file")

	responseCmd.AddCommand(responseIngestCmd)
	rootCmd.AddCommand(responseCmd)
}
