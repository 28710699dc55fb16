package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/recall/internal/cli"
	"github.com/cloo-solutions/recall/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "Recall CLI - semantic retrieval for agents",
		Long: `Recall CLI ingests text into a tenant's vector store and retrieves the
chunks most relevant to a query.

Environment variables:
  RECALL_API_KEY   API key for authentication (required)
  RECALL_API_URL   API base URL (default: http://localhost:8080)
  RECALL_SUBJECT   Optional subject that narrows the tenant scope`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	rootCmd.PersistentFlags().String("subject", "", "Subject that narrows the tenant scope (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.RetrieveCmd())
	rootCmd.AddCommand(client.RemoveCmd())
	rootCmd.AddCommand(client.JobCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	if handled, err := cli.HandleHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
