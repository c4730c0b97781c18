package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "openai", "groq"},
	"stream_stt": {"deepgram", "whisper"},
}

// envRef matches a value that is entirely an environment reference: ${NAME}.
var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${ENV} API keys,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued tunable with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Analysis.Endpoint, DefaultAnalysisEndpoint)
	setDefault(&cfg.Analysis.Timeout, DefaultAnalysisTimeout)
	setDefault(&cfg.Analysis.MinTranscriptChars, DefaultMinTranscriptChars)
	setDefault(&cfg.Analysis.MaxBodyBytes, DefaultMaxBodyBytes)
	setDefault(&cfg.Analysis.Temperature, DefaultTemperature)

	setDefault(&cfg.Practice.Profile, DefaultProfile)
	setDefault(&cfg.Practice.Culture, DefaultCulture)
	setDefault(&cfg.Practice.Language, DefaultLanguage)
	setDefault(&cfg.Practice.MaxDuration, DefaultMaxDuration)
	setDefault(&cfg.Practice.ChunkInterval, DefaultChunkInterval)
	setDefault(&cfg.Practice.RealtimeInterval, DefaultRealtimeInterval)
	setDefault(&cfg.Practice.RealtimeMinWords, DefaultRealtimeMinWords)

	setDefault(&cfg.Storage.Driver, StorageMemory)
	if cfg.Storage.Driver == StorageSQLite {
		setDefault(&cfg.Storage.DSN, DefaultSQLitePath)
	}

	setDefault(&cfg.Observability.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		if m := envRef.FindStringSubmatch(e.APIKey); m != nil {
			e.APIKey = os.Getenv(m[1])
		}
	}
	expand(&cfg.Providers.LLM)
	expand(&cfg.Providers.STT)
	expand(&cfg.Providers.StreamSTT)
	for i := range cfg.Providers.LLMFallbacks {
		expand(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.STTFallbacks {
		expand(&cfg.Providers.STTFallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stream_stt", cfg.Providers.StreamSTT.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks set without providers.llm"))
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks set without providers.stt"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; every analysis will return fallback feedback")
	}

	// Analysis
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %s must be positive", cfg.Analysis.Timeout))
	}
	if cfg.Analysis.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("analysis.min_transcript_chars %d must not be negative", cfg.Analysis.MinTranscriptChars))
	}
	if cfg.Analysis.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_body_bytes %d must not be negative", cfg.Analysis.MaxBodyBytes))
	}
	if cfg.Analysis.Temperature < 0 || cfg.Analysis.Temperature > 2 {
		errs = append(errs, fmt.Errorf("analysis.temperature %.2f is out of range [0, 2]", cfg.Analysis.Temperature))
	}

	// Practice
	if ri := cfg.Practice.RealtimeInterval; ri != 0 && (ri < 3*time.Second || ri > 5*time.Second) {
		errs = append(errs, fmt.Errorf("practice.realtime_interval %s is out of range [3s, 5s]", ri))
	}
	if cfg.Practice.RealtimeMinWords < 0 {
		errs = append(errs, fmt.Errorf("practice.realtime_min_words %d must not be negative", cfg.Practice.RealtimeMinWords))
	}
	if cfg.Practice.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("practice.max_duration %s must be positive", cfg.Practice.MaxDuration))
	}
	if cfg.Practice.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("practice.chunk_interval %s must be positive", cfg.Practice.ChunkInterval))
	}

	// Storage
	if cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required when storage.driver is postgres"))
	}

	// Observability
	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
