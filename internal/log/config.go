package log

// Config configures the process logger.
type Config struct {
	Level   string     `mapstructure:"level"`
	Format  string     `mapstructure:"format"` // pattern | text | json
	Pattern string     `mapstructure:"pattern"`
	Time    string     `mapstructure:"time"`
	File    FileConfig `mapstructure:"file"`
}

// FileConfig configures the rotating file appender.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig is an info level console logger using the pattern format.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  "pattern",
		Pattern: "%time [%level] %caller: %msg %field\n",
		Time:    "2006-01-02 15:04:05.000",
	}
}
