package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else is folded
// into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnalysisChanged is true when temperature or the minimum transcript
	// length changed. Both are read per request.
	AnalysisChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AnalysisChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Analysis.Temperature != new.Analysis.Temperature ||
		old.Analysis.MinTranscriptChars != new.Analysis.MinTranscriptChars {
		d.AnalysisChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	// Handlers capture these at construction. Client-only fields of the
	// analysis and practice sections are not compared.
	if old.Analysis.MaxBodyBytes != new.Analysis.MaxBodyBytes {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	if old.Practice.RealtimeMinWords != new.Practice.RealtimeMinWords {
		d.RestartRequired = append(d.RestartRequired, "practice")
	}
	if old.Observability != new.Observability {
		d.RestartRequired = append(d.RestartRequired, "observability")
	}

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProviders(a, b ProvidersConfig) bool {
	if !equalEntry(a.LLM, b.LLM) || !equalEntry(a.STT, b.STT) || !equalEntry(a.StreamSTT, b.StreamSTT) {
		return false
	}
	return equalEntries(a.LLMFallbacks, b.LLMFallbacks) && equalEntries(a.STTFallbacks, b.STTFallbacks)
}

func equalEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// equalEntry compares the scalar fields. Options maps are ignored.
func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
