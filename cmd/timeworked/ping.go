package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timeworked/timeworked/internal/client"
	"github.com/timeworked/timeworked/internal/monitor"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			status := monitor.New(client.New(cfg.ServerURL, cfg.Timeout())).Ping(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(status))
			if !status.Connected {
				return fmt.Errorf("server %s unreachable", cfg.ServerURL)
			}
			return nil
		},
	}
}

func formatStatus(s monitor.Status) string {
	if s.Connected {
		return fmt.Sprintf("connected (%d ms)", s.LatencyMs)
	}
	return fmt.Sprintf("disconnected after %d ms", s.LatencyMs)
}
