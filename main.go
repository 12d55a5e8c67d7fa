package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"MissionCore/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "missioncore",
		Short: "Mission tracking server and content tools",
		Long: `MissionCore tracks per-actor mission progress against tag-addressed
definition tables, drives branch transitions, and streams every change
to clients over a websocket.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.ValidateCmd())
	rootCmd.AddCommand(cli.TablesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
