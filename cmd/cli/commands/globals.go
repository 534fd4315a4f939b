package commands

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/scanchain/scanchain/internal/config"
)

// Global CLI flags
var (
	// ConfigPath is the config file read for defaults
	ConfigPath string

	// APIEndpoint is the HTTP API base URL
	APIEndpoint string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string
)

// DefaultAPIEndpoint is used when neither the flag nor the environment sets one.
const DefaultAPIEndpoint = "http://localhost:3001"

// EnvAPIEndpoint overrides the default API endpoint.
const EnvAPIEndpoint = "SCANCHAIN_API"

// GetAPIEndpoint returns the API endpoint from flag, environment, or default.
func GetAPIEndpoint() string {
	if APIEndpoint != "" {
		return APIEndpoint
	}
	if v := os.Getenv(EnvAPIEndpoint); v != "" {
		return v
	}
	return DefaultAPIEndpoint
}

// GetConfigPath returns the config path from flag or default.
func GetConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// GetKeystoreDir returns the keystore directory from config or default.
func GetKeystoreDir() string {
	cfg := loadConfigQuiet()
	if cfg != nil && cfg.Ledger.KeystoreDir != "" {
		return cfg.Ledger.KeystoreDir
	}
	return filepath.Join(dataDir(), "keystore")
}

// dataDir is where the CLI keeps its session and default config.
func dataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".scanchain")
}

// loadConfigQuiet loads config from the config path, returning nil on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// jsonOutput reports whether results should be printed as JSON.
func jsonOutput() bool {
	return OutputFormat == "json"
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
