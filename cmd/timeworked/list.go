package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timeworked/timeworked/internal/client"
	"github.com/timeworked/timeworked/internal/model"
	"github.com/timeworked/timeworked/internal/timer"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			subject := cfg.SubjectID
			if all, _ := cmd.Flags().GetBool("all"); all {
				subject = ""
			}

			c := client.New(cfg.ServerURL, cfg.Timeout())
			sessions, err := c.ListSessions(cmd.Context(), subject)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().Bool("all", false, "List sessions of every subject")

	return cmd
}

func printSessions(w io.Writer, sessions []model.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBJECT\tSTARTED\tENDED\tDURATION")
	for _, s := range sessions {
		ended := "open"
		duration := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(time.DateTime)
			duration = timer.FormatElapsed(time.Duration(s.DurationSeconds) * time.Second)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.SubjectID, s.StartedAt.Local().Format(time.DateTime), ended, duration)
	}
	return tw.Flush()
}
