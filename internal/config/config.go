// Package config provides the configuration schema, loader, and provider
// registry for Oráculo.
package config

import "time"

// Config is the root configuration structure for Oráculo. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transport     TransportConfig     `yaml:"transport"`
	Paths         PathsConfig         `yaml:"paths"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	TTS           TTSConfig           `yaml:"tts"`
	Search        SearchConfig        `yaml:"search"`
	UI            UIConfig            `yaml:"ui"`
	Oracle        OracleConfig        `yaml:"oracle"`
	Narrative     NarrativeConfig     `yaml:"narrative"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ServerConfig holds process-wide logging and health-check settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr exposes the health endpoint (spec §4.10 monitoring). Empty
	// disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// TransportConfig configures the chat transport (spec §6 "Transport").
type TransportConfig struct {
	// BotToken authenticates the transport provider (e.g. a Telegram bot token).
	BotToken string `yaml:"bot_token"`

	// AllowedChatIDs is a list of chat ids. No code reads it: no transport is built from this config, and the telegram
	// provider takes its single allowed chat id as a constructor argument.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`

	// Name selects the registered transport provider implementation.
	Name string `yaml:"name"`
}

// PathsConfig configures where Oráculo reads and writes persistent state
// (spec §6 "Paths", §4.1 filesystem layout).
type PathsConfig struct {
	// SessionsRoot is the directory containing one subdirectory per session.
	SessionsRoot string `yaml:"sessions_root"`

	// OraclesDir is the directory scanned for persona template files (§4.6).
	OraclesDir string `yaml:"oracles_dir"`
}

// TranscriptionConfig configures the Transcription capability (spec §6
// "Transcription").
type TranscriptionConfig struct {
	// Name selects the registered transcriber provider implementation.
	Name string `yaml:"name"`

	// ModelID selects a specific model within the provider.
	ModelID string `yaml:"model_id"`

	// Device selects the inference device (e.g. "cpu", "cuda").
	Device string `yaml:"device"`

	// Precision selects a reduced-precision inference mode when the
	// provider supports it (e.g. "int8", "fp16").
	Precision string `yaml:"precision"`

	// Timeout bounds a single transcription call.
	Timeout time.Duration `yaml:"timeout"`

	// QueueCapacity bounds the number of buffered queue items before
	// queue_session returns a retryable "queue full" error (spec §5).
	QueueCapacity int `yaml:"queue_capacity"`
}

// TTSConfig configures the TTS Pipeline (spec §6 "TTS", §4.7).
type TTSConfig struct {
	// Enabled gates whether Synthesize ever attempts a real call; disabled
	// returns error("disabled") per §4.7 step 1.
	Enabled bool `yaml:"enabled"`

	// Name selects the registered TTS provider implementation.
	Name string `yaml:"name"`

	// Voice selects a provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// Format selects the output audio container/codec (e.g. "ogg", "mp3").
	Format string `yaml:"format"`

	// Timeout bounds a single synthesis call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTextLength rejects sanitized text longer than this many bytes.
	MaxTextLength int `yaml:"max_text_length"`

	// GCRetentionHours: artifacts older than this are swept on each GC pass.
	GCRetentionHours int `yaml:"gc_retention_hours"`

	// GCMaxStorageMB: once total TTS storage exceeds this, oldest artifacts
	// are removed first until back under the cap.
	GCMaxStorageMB int `yaml:"gc_max_storage_mb"`
}

// SearchConfig configures the Embedding Indexer + Search Engine (spec §6
// "Search", §4.5). Defaults: MinScore 0.6, MaxResults 5, QueryTimeout 60s.
type SearchConfig struct {
	// MinScore is the minimum semantic similarity score for a result. No
	// code reads it: the router passes a fixed 0.6 to search.
	MinScore float64 `yaml:"min_score"`

	// MaxResults is the number of results per query. No code reads it: the
	// router passes a fixed 5 to search.
	MaxResults int `yaml:"max_results"`

	// QueryTimeout is an end-to-end search timeout. No code reads it, so it
	// is not applied to search calls.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Backend names the embedder provider looked up in the registry ("" falls
	// back to "file"). Search always uses the per-session embeddings.json
	// snapshot; no value selects the pgvector-backed pgindex package.
	Backend string `yaml:"backend"`

	// PostgresDSN is the connection string used when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// UIConfig configures the Presentation layer and router (spec §6 "UI").
// Defaults: MessageByteCap 4096, ProgressInterval 5s.
type UIConfig struct {
	// MessageByteCap is the byte size at which a rendered chat message is
	// paginated (§4.9). No code reads it: the router paginates at a fixed
	// 4096 bytes.
	MessageByteCap int `yaml:"message_byte_cap"`

	// ProgressInterval is the minimum spacing between progress updates for
	// a single operation (§4.4, §4.9). It sets the transcription worker's
	// progress interval; the router's own throttle uses a fixed 5s.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// OperationTimeout bounds a pending intent (e.g. "awaiting search
	// query") before it self-cancels (§4.8).
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// OracleConfig configures Oracle Dispatch (spec §6 "Oracle", §4.6).
// Defaults: PlaceholderToken "{{CONTEXT}}", CacheTTL 10s, LLMTimeout 30s.
type OracleConfig struct {
	// Name selects the registered LLM provider implementation.
	Name string `yaml:"name"`

	// PlaceholderToken marks where assembled context is injected into a
	// persona template.
	PlaceholderToken string `yaml:"placeholder_token"`

	// CacheTTL bounds how long the persona registry trusts its last
	// directory scan before rescanning.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// LLMTimeout bounds a single LLM completion call.
	LLMTimeout time.Duration `yaml:"llm_timeout"`
}

// NarrativeConfig configures the Narrative Pipeline Adapter (C12).
type NarrativeConfig struct {
	// Enabled gates whether finalized sessions are handed to the external
	// artifact chain at all.
	Enabled bool `yaml:"enabled"`

	// Command is the external executable invoked per spec §6 exit codes.
	Command string `yaml:"command"`

	// Args are passed through ahead of the adapter's own input/output
	// positional arguments.
	Args []string `yaml:"args"`

	// Timeout is the per-invocation time limit. No code reads it:
	// narrative.New takes only the command and its arguments.
	Timeout time.Duration `yaml:"timeout"`
}

// applyDefaults fills zero-valued fields with the defaults named in spec §6.
func applyDefaults(cfg *Config) {
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.6
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.Search.QueryTimeout == 0 {
		cfg.Search.QueryTimeout = 60 * time.Second
	}
	if cfg.UI.MessageByteCap == 0 {
		cfg.UI.MessageByteCap = 4096
	}
	if cfg.UI.ProgressInterval == 0 {
		cfg.UI.ProgressInterval = 5 * time.Second
	}
	if cfg.Oracle.PlaceholderToken == "" {
		cfg.Oracle.PlaceholderToken = "{{CONTEXT}}"
	}
	if cfg.Oracle.CacheTTL == 0 {
		cfg.Oracle.CacheTTL = 10 * time.Second
	}
	if cfg.Oracle.LLMTimeout == 0 {
		cfg.Oracle.LLMTimeout = 30 * time.Second
	}
	if cfg.Transcription.QueueCapacity == 0 {
		cfg.Transcription.QueueCapacity = 32
	}
}
