package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults per spec §6,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Transport.BotToken == "" {
		errs = append(errs, errors.New("transport.bot_token is required"))
	}
	if cfg.Transport.Name == "" {
		errs = append(errs, errors.New("transport.name is required"))
	}

	if cfg.Paths.SessionsRoot == "" {
		errs = append(errs, errors.New("paths.sessions_root is required"))
	}
	if cfg.Paths.OraclesDir == "" {
		errs = append(errs, errors.New("paths.oracles_dir is required"))
	}

	if cfg.Transcription.Name == "" {
		errs = append(errs, errors.New("transcription.name is required"))
	}

	if cfg.TTS.Enabled {
		if cfg.TTS.Name == "" {
			errs = append(errs, errors.New("tts.name is required when tts.enabled is true"))
		}
		if cfg.TTS.MaxTextLength < 0 {
			errs = append(errs, fmt.Errorf("tts.max_text_length %d must be >= 0", cfg.TTS.MaxTextLength))
		}
	}

	if cfg.Search.MinScore < 0 || cfg.Search.MinScore > 1 {
		errs = append(errs, fmt.Errorf("search.min_score %.2f is out of range [0, 1]", cfg.Search.MinScore))
	}
	if cfg.Search.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("search.max_results %d must be > 0", cfg.Search.MaxResults))
	}
	if cfg.Search.Backend == "postgres" && cfg.Search.PostgresDSN == "" {
		errs = append(errs, errors.New("search.postgres_dsn is required when search.backend is \"postgres\""))
	}

	if cfg.UI.MessageByteCap <= 0 {
		errs = append(errs, fmt.Errorf("ui.message_byte_cap %d must be > 0", cfg.UI.MessageByteCap))
	}

	if cfg.Oracle.Name == "" {
		errs = append(errs, errors.New("oracle.name is required"))
	}
	if cfg.Oracle.PlaceholderToken == "" {
		errs = append(errs, errors.New("oracle.placeholder_token is required"))
	}

	if cfg.Narrative.Enabled && cfg.Narrative.Command == "" {
		errs = append(errs, errors.New("narrative.command is required when narrative.enabled is true"))
	}

	return errors.Join(errs...)
}
