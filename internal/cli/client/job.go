package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// JobResponse mirrors an ingest job as returned by the API.
type JobResponse struct {
	ID             string `json:"id"`
	SourceType     string `json:"source_type"`
	SourceID       string `json:"source_id"`
	ContentType    string `json:"content_type,omitempty"`
	MaxChunkSize   int    `json:"max_chunk_size"`
	Status         string `json:"status"`
	Retries        int32  `json:"retries"`
	RecordCount    int    `json:"record_count"`
	FailedOrdinals []int  `json:"failed_ordinals"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	ProcessedAt    string `json:"processed_at,omitempty"`
}

// JobListResponse is one page of jobs.
type JobListResponse struct {
	Items   []*JobResponse `json:"items"`
	Cursor  string         `json:"cursor,omitempty"`
	HasMore bool           `json:"has_more"`
}

// JobCmd creates the job parent command.
func JobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect ingest jobs",
	}

	cmd.AddCommand(JobGetCmd())
	cmd.AddCommand(JobListCmd())

	return cmd
}

// JobGetCmd creates the job get command.
func JobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an ingest job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get("/jobs/" + url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			var job JobResponse
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("failed to parse job: %w", err)
			}
			return printJob(cmd.OutOrStdout(), &job, outputJSON)
		},
	}
}

// JobListCmd creates the job list command.
func JobListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingest jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runJobList(cmd.OutOrStdout(), api, limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runJobList(out io.Writer, api *APIClient, limit int, cursor string, outputJSON bool) error {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	resp, err := api.Get("/jobs?" + query.Encode())
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	var page JobListResponse
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse jobs: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(page, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}
	for _, job := range page.Items {
		fmt.Fprintf(out, "%s  %-10s %s/%s  records=%d\n", job.ID, job.Status, job.SourceType, job.SourceID, job.RecordCount)
	}
	if page.HasMore && page.Cursor != "" {
		fmt.Fprintf(out, "\nMore results available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

func printJob(out io.Writer, job *JobResponse, outputJSON bool) error {
	if outputJSON {
		output, _ := json.MarshalIndent(job, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "Source: %s/%s\n", job.SourceType, job.SourceID)
	fmt.Fprintf(out, "Status: %s\n", job.Status)
	if job.RecordCount > 0 {
		fmt.Fprintf(out, "Records: %d\n", job.RecordCount)
	}
	if len(job.FailedOrdinals) > 0 {
		fmt.Fprintf(out, "Failed ordinals: %s\n", joinInts(job.FailedOrdinals))
	}
	if job.Retries > 0 {
		fmt.Fprintf(out, "Retries: %d\n", job.Retries)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", job.Error)
	}
	return nil
}
