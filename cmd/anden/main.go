// Command anden runs the transit data service: the API server with its
// real-time ingestion engine, plus small client subcommands against a
// running instance.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anden",
		Short:         "Spanish rail transit departures, alerts and journey planning",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env holds the base config, .env.local overrides it for
			// local development.
			_ = godotenv.Load(".env")
			_ = godotenv.Overload(".env.local")
		},
	}
	root.AddCommand(serveCmd(), departuresCmd(), planCmd(), reloadCmd())
	return root
}
