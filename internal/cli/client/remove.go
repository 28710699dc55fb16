package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

// RemoveCmd creates the remove command.
func RemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source-type> <source-id>",
		Short: "Remove every stored chunk of a source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runRemove(cmd.OutOrStdout(), api, args[0], args[1], outputJSON)
		},
	}
}

func runRemove(out io.Writer, api *APIClient, sourceType, sourceID string, outputJSON bool) error {
	path := "/sources/" + url.PathEscape(sourceType) + "/" + url.PathEscape(sourceID)
	resp, err := api.Delete(path)
	if err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}

	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Removed %d records of %s/%s\n", result.Deleted, sourceType, sourceID)
	return nil
}
