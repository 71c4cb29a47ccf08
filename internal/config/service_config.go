package config

// ServiceConfig defines the configuration lifecycle every component config
// follows. LoadConfig drives it in order for each section.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies SEARCHSYNC_* environment overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths.
	// configDir holds config-related files, dataDir holds runtime data
	// (logs, bleve indexes, checkpoints).
	ResolvePaths(configDir, dataDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// ApplyServiceConfigs applies the configuration lifecycle to all service configs.
func ApplyServiceConfigs(configDir, dataDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir, dataDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
