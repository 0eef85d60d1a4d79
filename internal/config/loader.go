package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"homelink/pkg"

	"gopkg.in/yaml.v3"
)

const (
	SettingsFile        = "settings.yml"
	SettingsOptionsFile = "SETTINGS_OPT.yml"
	IntentsFile         = "intents.yml"
	ClientFile          = "client.yml"
)

// IntentCatalog represents the structure of intents.yml
type IntentCatalog struct {
	Intents []pkg.Intent `yaml:"intents"`
}

// ClientConfig represents the structure of client.yml
type ClientConfig struct {
	ServerIP             string   `yaml:"server_ip"`
	ServerPort           int      `yaml:"server_port"`
	WakeWords            []string `yaml:"wake_words"`
	ContinuousMaxSeconds int      `yaml:"continous_listening_max_seconds"`
	ListenPort           int      `yaml:"listen_port"`
	PlayerCommand        []string `yaml:"player_command"`
}

// ServerURL joins server_ip and server_port
func (c ClientConfig) ServerURL() string {
	base := strings.TrimRight(c.ServerIP, "/")
	if c.ServerPort == 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, c.ServerPort)
}

// readFile maps a missing file to ErrResourceMissing
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: could not find %s", pkg.ErrResourceMissing, path)
		}
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return data, nil
}

func decode(path string, out any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: error parsing YAML %s: %v", pkg.ErrValidation, path, err)
	}
	return nil
}

// LoadIntents loads and validates the intent catalog. Any malformed entry rejects the whole file.
func LoadIntents(path string) ([]pkg.Intent, error) {
	var catalog IntentCatalog
	if err := decode(path, &catalog); err != nil {
		return nil, err
	}
	if len(catalog.Intents) == 0 {
		return nil, fmt.Errorf("%w: %s declares no intents", pkg.ErrValidation, path)
	}

	seen := make(map[string]bool, len(catalog.Intents))
	for _, intent := range catalog.Intents {
		if err := intent.Validate(); err != nil {
			return nil, fmt.Errorf("please check %s for attribute issues: %w", path, err)
		}
		if seen[intent.Name] {
			return nil, fmt.Errorf("%w: duplicate intent %q in %s", pkg.ErrValidation, intent.Name, path)
		}
		seen[intent.Name] = true
	}
	return catalog.Intents, nil
}

// LoadSettings loads settings.yml as section -> field -> value
func LoadSettings(path string) (map[string]map[string]any, error) {
	settings := map[string]map[string]any{}
	if err := decode(path, &settings); err != nil {
		return nil, err
	}
	if len(settings) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", pkg.ErrValidation, path)
	}
	return settings, nil
}

// LoadSettingsOptions loads SETTINGS_OPT.yml as <field>_options -> allow-list or type tag
func LoadSettingsOptions(path string) (map[string]any, error) {
	options := map[string]any{}
	if err := decode(path, &options); err != nil {
		return nil, err
	}
	return options, nil
}

// LoadClientConfig loads client.yml
func LoadClientConfig(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := decode(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.ServerIP == "" {
		return nil, fmt.Errorf("%w: %s has no server_ip", pkg.ErrValidation, path)
	}
	if len(cfg.WakeWords) == 0 {
		return nil, fmt.Errorf("%w: %s has no wake_words", pkg.ErrValidation, path)
	}
	if cfg.ContinuousMaxSeconds <= 0 {
		cfg.ContinuousMaxSeconds = 10
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 6454
	}
	return &cfg, nil
}
