package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sentinelqa/store"
	"sentinelqa/utils/printx"
)

var runsFlags struct {
	limit int
	id    string
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		out := cmd.OutOrStdout()

		if runsFlags.id != "" {
			state, err := s.ReadSession(cmd.Context(), runsFlags.id)
			if err != nil {
				return err
			}
			printSummary(out, state)
			for _, r := range state.Results {
				fmt.Fprintln(out, "  "+r.String())
			}
			return nil
		}

		runs, err := s.ListRuns(cmd.Context(), runsFlags.limit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.ID,
				r.Kind,
				string(r.Status),
				r.StartedAt.Local().Format(time.DateTime),
				fmt.Sprintf("%d/%d", r.VerificationsPassed, r.VerificationsTotal),
				r.URL,
			})
		}
		return printx.PrintTable(out, []string{"ID", "KIND", "STATUS", "STARTED", "VERIFIED", "URL"}, rows)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", store.DefaultListLimit, "number of runs to list")
	runsCmd.Flags().StringVar(&runsFlags.id, "id", "", "show the summary of one run")
}
