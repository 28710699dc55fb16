package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type uploadOptions struct {
	sourceID     string
	contentType  string
	maxChunkSize int
}

// UploadCmd creates the upload command.
func UploadCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document for background ingestion",
		Long: `Uploads a markdown, plain text or HTML document. The server stores the
original, queues an ingest job and returns it. Use 'recall job get <id>' to follow it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runUpload(cmd.OutOrStdout(), cmd.ErrOrStderr(), api, args[0], opts, outputJSON)
		},
	}

	cmd.Flags().StringVar(&opts.sourceID, "id", "", "Source ID (defaults to the file name)")
	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "Media type (detected from the extension when empty)")
	cmd.Flags().IntVar(&opts.maxChunkSize, "max-chunk-size", 0, "Maximum chunk size in characters (server default when 0)")

	return cmd
}

func runUpload(out, progress io.Writer, api *APIClient, filePath string, opts uploadOptions, outputJSON bool) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	fields := map[string]string{
		"source_id":    opts.sourceID,
		"content_type": opts.contentType,
	}
	if opts.maxChunkSize > 0 {
		fields["max_chunk_size"] = strconv.Itoa(opts.maxChunkSize)
	}

	var onProgress ProgressFunc
	if !outputJSON {
		onProgress = func(current, total int64) {
			if total > 0 {
				fmt.Fprintf(progress, "\rUploading... %d%%", current*100/total)
			}
		}
	}

	resp, err := api.UploadFile("/files", filePath, fields, onProgress)
	if onProgress != nil {
		fmt.Fprintln(progress)
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	var job JobResponse
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse job: %w", err)
	}
	return printJob(out, &job, outputJSON)
}
