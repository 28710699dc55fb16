package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// IngestRequest mirrors the /ingest request body.
type IngestRequest struct {
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id"`
	Text         string `json:"text"`
	MaxChunkSize *int   `json:"max_chunk_size,omitempty"`
}

// IngestRecord is one stored chunk.
type IngestRecord struct {
	ID        string `json:"id"`
	Ordinal   int    `json:"ordinal"`
	CreatedAt string `json:"created_at"`
}

// IngestResponse mirrors the synchronous /ingest response.
type IngestResponse struct {
	SourceType     string         `json:"source_type"`
	SourceID       string         `json:"source_id"`
	ChunkCount     int            `json:"chunk_count"`
	Records        []IngestRecord `json:"records"`
	FailedOrdinals []int          `json:"failed_ordinals"`
	Complete       bool           `json:"complete"`
	Error          string         `json:"error,omitempty"`
}

type ingestOptions struct {
	sourceType   string
	sourceID     string
	text         string
	file         string
	maxChunkSize int
	async        bool
}

// IngestCmd creates the ingest command.
func IngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest text for a source",
		Long: `Chunks, embeds and stores text under a (source type, source id) pair.

Text is taken from --text, from --file, or from stdin when neither is given.
With --async the server queues a job and returns its id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			text, err := readIngestText(opts, cmd.InOrStdin())
			if err != nil {
				return err
			}
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runIngest(cmd.OutOrStdout(), api, opts, text, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&opts.sourceType, "type", "t", "", "Source type (file, message, knowledge_node) (required)")
	cmd.Flags().StringVar(&opts.sourceID, "id", "", "Source ID (required)")
	cmd.Flags().StringVar(&opts.text, "text", "", "Text to ingest")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read text from a UTF-8 file")
	cmd.Flags().IntVar(&opts.maxChunkSize, "max-chunk-size", 0, "Maximum chunk size in characters (server default when 0)")
	cmd.Flags().BoolVar(&opts.async, "async", false, "Queue an ingest job instead of waiting")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")

	return cmd
}

func readIngestText(opts ingestOptions, stdin io.Reader) (string, error) {
	switch {
	case opts.text != "" && opts.file != "":
		return "", fmt.Errorf("--text and --file are mutually exclusive")
	case opts.text != "":
		return opts.text, nil
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
}

func runIngest(out io.Writer, api *APIClient, opts ingestOptions, text string, outputJSON bool) error {
	req := IngestRequest{
		SourceType: opts.sourceType,
		SourceID:   opts.sourceID,
		Text:       text,
	}
	if opts.maxChunkSize > 0 {
		req.MaxChunkSize = &opts.maxChunkSize
	}

	path := "/ingest"
	if opts.async {
		path += "?async=true"
	}

	resp, err := api.Post(path, req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if opts.async {
		var job JobResponse
		if err := json.Unmarshal(resp.Data, &job); err != nil {
			return fmt.Errorf("failed to parse job: %w", err)
		}
		return printJob(out, &job, outputJSON)
	}

	var result IngestResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse ingest result: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Ingested %s/%s: %d of %d chunks stored\n", result.SourceType, result.SourceID, len(result.Records), result.ChunkCount)
	if len(result.FailedOrdinals) > 0 {
		fmt.Fprintf(out, "Failed ordinals: %s\n", joinInts(result.FailedOrdinals))
	}
	if result.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", result.Error)
	}
	if !result.Complete {
		return fmt.Errorf("ingest incomplete")
	}
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
