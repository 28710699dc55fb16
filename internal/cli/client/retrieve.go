package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// RetrieveRequest mirrors the /retrieve request body.
type RetrieveRequest struct {
	Query         string   `json:"query"`
	K             *int     `json:"k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// RetrievalResult is one ranked chunk.
type RetrievalResult struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// RetrieveResponse mirrors the /retrieve response.
type RetrieveResponse struct {
	Results []RetrievalResult `json:"results"`
}

// RetrieveCmd creates the retrieve command.
func RetrieveCmd() *cobra.Command {
	var (
		k             int
		minSimilarity float64
	)

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the chunks most similar to a query",
		Long:  "Embeds the query and returns up to k stored chunks of the caller's scope, most similar first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			req := RetrieveRequest{Query: args[0]}
			if cmd.Flags().Changed("k") {
				req.K = &k
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = &minSimilarity
			}
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runRetrieve(cmd.OutOrStdout(), api, req, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 5, "Maximum number of results")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Minimum cosine similarity in [-1, 1]")

	return cmd
}

func runRetrieve(out io.Writer, api *APIClient, req RetrieveRequest, outputJSON bool) error {
	resp, err := api.Post("/retrieve", req)
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	var result RetrieveResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse results: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	if len(result.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d results:\n\n", len(result.Results))
	for i, r := range result.Results {
		fmt.Fprintf(out, "%d. %s/%s #%d (%.3f)\n", i+1, r.SourceType, r.SourceID, r.Ordinal, r.Similarity)
		text := strings.Join(strings.Fields(r.Text), " ")
		if runes := []rune(text); len(runes) > 160 {
			text = string(runes[:157]) + "..."
		}
		fmt.Fprintf(out, "   %s\n", text)
		if i < len(result.Results)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}

	return nil
}
