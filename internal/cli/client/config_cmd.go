package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ConfigCmd creates the config parent command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
		Long:  "Store and inspect the API key, URL and default subject used by the recall CLI",
	}

	cmd.AddCommand(ConfigSetCmd())
	cmd.AddCommand(ConfigShowCmd())
	cmd.AddCommand(ConfigClearCmd())

	return cmd
}

// ConfigSetCmd creates the config set command
func ConfigSetCmd() *cobra.Command {
	var opts configSetOptions

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store credentials and defaults",
		Long:  "Store API key, URL and default subject in the global config (~/.config/recall/config.json). Unset flags keep their stored value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.urlSet = cmd.Flags().Changed("url")
			opts.subjectSet = cmd.Flags().Changed("subject")
			return runConfigSet(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key (rcl_...)")
	cmd.Flags().StringVar(&opts.apiURL, "url", defaultAPIURL, "API URL")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "Default subject to narrow the tenant scope")

	return cmd
}

// ConfigShowCmd creates the config show command
func ConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display where credentials come from and the values in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runConfigShow(cmd.OutOrStdout(), outputJSON)
		},
	}

	return cmd
}

// ConfigClearCmd creates the config clear command
func ConfigClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove stored configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to clear config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration cleared")
			return nil
		},
	}
}

type configSetOptions struct {
	apiKey     string
	apiURL     string
	subject    string
	urlSet     bool
	subjectSet bool
}

func runConfigSet(out io.Writer, opts configSetOptions) error {
	existing, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	config := &GlobalConfig{APIURL: defaultAPIURL}
	if existing != nil {
		config = existing
	}

	if opts.apiKey != "" {
		if !IsValidAPIKey(opts.apiKey) {
			return fmt.Errorf("invalid API key format (expected: rcl_ + 64 hex characters)")
		}
		config.APIKey = opts.apiKey
	}
	if opts.urlSet || config.APIURL == "" {
		config.APIURL = opts.apiURL
	}
	if opts.subjectSet {
		if strings.Contains(opts.subject, "/") {
			return fmt.Errorf("subject must not contain '/'")
		}
		config.Subject = opts.subject
	}

	if config.APIKey == "" {
		return fmt.Errorf("no API key stored; pass --api-key")
	}

	if err := SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out, "Configuration saved")
	return nil
}

func runConfigShow(out io.Writer, outputJSON bool) error {
	settings, err := ResolveSettings(Overrides{})
	if err != nil {
		return err
	}
	if settings.APIKey.Value != "" {
		settings.APIKey.Value = maskAPIKey(settings.APIKey.Value)
	}

	if outputJSON {
		data, err := json.MarshalIndent(struct {
			Authenticated bool `json:"authenticated"`
			*Settings
		}{settings.APIKey.Source != SourceNone, settings}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if settings.APIKey.Source == SourceNone {
		fmt.Fprintln(out, "Not configured")
		fmt.Fprintln(out, "Run 'recall config set --api-key <key>' to configure")
		return nil
	}

	for _, row := range []struct {
		label string
		s     Setting
	}{
		{"API Key", settings.APIKey},
		{"API URL", settings.APIURL},
		{"Subject", settings.Subject},
	} {
		if row.s.Source == SourceNone {
			continue
		}
		fmt.Fprintf(out, "%-8s %s (%s)\n", row.label+":", row.s.Value, row.s.Source)
	}
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
