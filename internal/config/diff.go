package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider
// identity, paths, and transport credentials require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SearchChanged bool
	NewSearch     SearchConfig

	UIChanged bool
	NewUI     UIConfig

	OracleChanged bool
	NewOracle     OracleConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Search != new.Search {
		d.SearchChanged = true
		d.NewSearch = new.Search
	}

	if old.UI != new.UI {
		d.UIChanged = true
		d.NewUI = new.UI
	}

	if old.Oracle != new.Oracle {
		d.OracleChanged = true
		d.NewOracle = new.Oracle
	}

	return d
}
