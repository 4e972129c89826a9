package config

import (
	"os"

	"github.com/BurntSushi/toml"

	nferr "netfeed/internal/errors"
)

// Load loads configuration from all available sources
// Hierarchy (lowest to highest precedence):
// 1. Built-in defaults
// 2. System config (/etc/netfeed/config.toml)
// 3. User config (~/.config/netfeed/config.toml)
// 4. Working directory config (./netfeed.toml)
// 5. explicitPath, when given (must exist)
// 6. Environment variables (NETFEED_*)
func Load(explicitPath string) (*Config, error) {
	cfg := GetDefaultConfig()

	for _, path := range GetConfigPaths() {
		if err := loadConfigFile(cfg, path); err != nil {
			// Missing files are skipped; unparseable ones are not
			if !os.IsNotExist(err) {
				return nil, nferr.Wrapf(err, nferr.KindConfig, "failed to load config from %s", path)
			}
		}
	}

	if explicitPath != "" {
		if err := loadConfigFile(cfg, ExpandPath(explicitPath)); err != nil {
			return nil, nferr.Wrapf(err, nferr.KindConfig, "failed to load config from %s", explicitPath)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile decodes a TOML file over cfg; keys absent from the file keep their value.
func loadConfigFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nferr.Errorf(nferr.KindConfig, "unknown keys: %v", undecoded)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if env := os.Getenv("NETFEED_LISTEN"); env != "" {
		cfg.Server.Listen = env
	}
	if env := os.Getenv("NETFEED_INTERFACE"); env != "" {
		cfg.Capture.DefaultInterface = env
	}
	if env := os.Getenv("NETFEED_LOG_LEVEL"); env != "" {
		cfg.Log.Level = env
	}
	if env := os.Getenv("NETFEED_LOG_FORMAT"); env != "" {
		cfg.Log.Format = env
	}
	if env := os.Getenv("NETFEED_LOG_FILE"); env != "" {
		cfg.Log.File = ExpandPath(env)
	}
}

// ExpandPath expands ~ in paths to home directory
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return homeDir
	}
	return homeDir + path[1:]
}
