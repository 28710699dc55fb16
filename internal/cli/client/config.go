package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloo-solutions/recall/internal/domain"
)

const configFileName = "config.json"

// GlobalConfig is the per-user file written by `recall config set`
type GlobalConfig struct {
	APIKey  string `json:"api_key"`
	APIURL  string `json:"api_url"`
	Subject string `json:"subject,omitempty"`
}

// configDir is swapped in tests
var configDir = func() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "recall"), nil
}

// GetConfigPath returns where the global config lives on this platform
func GetConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadGlobalConfig returns nil without error when no config was saved yet
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveGlobalConfig replaces the config file atomically. The file holds an
// API key, so it is only readable by the user.
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), configFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DeleteGlobalConfig is a no-op when nothing was saved
func DeleteGlobalConfig() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// IsValidAPIKey checks the token shape: rcl_ followed by 64 hex characters
func IsValidAPIKey(key string) bool {
	return domain.IsValidAPIToken(key)
}

// Source says where a resolved setting came from
type Source string

const (
	SourceFlag         Source = "flag"
	SourceEnv          Source = "env"
	SourceGlobalConfig Source = "global_config"
	SourceDefault      Source = "default"
	SourceNone         Source = "none"
)

type Setting struct {
	Value  string `json:"value,omitempty"`
	Source Source `json:"source"`
}

// Settings are the client settings in effect. Each one is resolved on its
// own, so a key from the config file can be combined with a URL from the
// environment.
type Settings struct {
	APIKey  Setting `json:"api_key"`
	APIURL  Setting `json:"api_url"`
	Subject Setting `json:"subject"`
}

// Overrides are values given on the command line
type Overrides struct {
	APIKey  string
	APIURL  string
	Subject string
}

// ResolveSettings applies flag, then environment, then global config, then
// the built-in default. A broken config file is an error rather than being
// silently skipped.
func ResolveSettings(o Overrides) (*Settings, error) {
	global, err := LoadGlobalConfig()
	if err != nil {
		return nil, err
	}
	if global == nil {
		global = &GlobalConfig{}
	}

	return &Settings{
		APIKey:  resolve(o.APIKey, envAPIKey, global.APIKey, ""),
		APIURL:  resolve(o.APIURL, envAPIURL, global.APIURL, defaultAPIURL),
		Subject: resolve(o.Subject, envSubject, global.Subject, ""),
	}, nil
}

func resolve(flag, env, stored, fallback string) Setting {
	switch {
	case flag != "":
		return Setting{Value: flag, Source: SourceFlag}
	case os.Getenv(env) != "":
		return Setting{Value: os.Getenv(env), Source: SourceEnv}
	case stored != "":
		return Setting{Value: stored, Source: SourceGlobalConfig}
	case fallback != "":
		return Setting{Value: fallback, Source: SourceDefault}
	}
	return Setting{Source: SourceNone}
}
