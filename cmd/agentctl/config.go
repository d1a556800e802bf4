package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

const defaultConfigPath = "~/.agentctl/config.toml"

// Config is the on-disk agentctl configuration.
type Config struct {
	Server string `toml:"server"`
	Caller string `toml:"caller"`
}

func defaultConfig() Config {
	return Config{Server: "http://localhost:8080"}
}

// loadConfig reads path, falling back to defaults when the file does not exist.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	expanded, err := homedir.Expand(path)
	if err != nil {
		return cfg, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", expanded, err)
	}
	return cfg, nil
}

func writeConfig(path string, cfg Config) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if _, err := buf.WriteString("# agentctl configuration\n\n"); err != nil {
		return "", err
	}
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return "", err
	}
	return expanded, os.WriteFile(expanded, buf.Bytes(), 0o600)
}
