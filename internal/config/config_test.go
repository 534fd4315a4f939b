package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testContract = "0x1234567890abcdef1234567890abcdef12345678"

// validConfig returns defaults that pass Validate against a real ledger.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Registry.Dir = filepath.Join(cfg.DataDir, "registry")
	cfg.Ledger.KeystoreDir = filepath.Join(cfg.DataDir, "keystore")
	cfg.Ledger.ContractAddress = testContract
	cfg.Auth.JWTSecret = strings.Repeat("s", MinJWTSecretLength)
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 3001 {
		t.Errorf("expected default port 3001, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Ledger.ChainID != 97 {
		t.Errorf("expected BSC testnet chain 97, got %d", cfg.Ledger.ChainID)
	}
	if cfg.Simulation.Enabled {
		t.Error("simulation must be off by default")
	}
	if cfg.Verification.MaxFileSize != 10<<20 {
		t.Errorf("expected 10MB max file size, got %d", cfg.Verification.MaxFileSize)
	}
	if !strings.HasSuffix(cfg.DataDir, ".scanchain") {
		t.Errorf("expected data dir under .scanchain, got %s", cfg.DataDir)
	}

	// Defaults alone do not name a contract, so they must not validate.
	if err := cfg.Validate(); err == nil {
		t.Error("expected defaults without a contract address to fail validation")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"missing contract", func(c *Config) { c.Ledger.ContractAddress = "" }, "contract_address is required"},
		{"short contract", func(c *Config) { c.Ledger.ContractAddress = "0x1234" }, "42 characters"},
		{"zero contract", func(c *Config) { c.Ledger.ContractAddress = "0x" + strings.Repeat("0", 40) }, "zero address"},
		{"non hex contract", func(c *Config) { c.Ledger.ContractAddress = "0x" + strings.Repeat("z", 40) }, "invalid hex"},
		{"relative rpc", func(c *Config) { c.Ledger.RPCURL = "localhost:8545" }, "rpc_url"},
		{"memory storage without simulation", func(c *Config) { c.Storage.Backend = "memory" }, "requires simulation"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "ftp" }, "invalid storage backend"},
		{"unknown registry", func(c *Config) { c.Registry.Backend = "postgres" }, "invalid registry backend"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis"; c.Lock.RedisAddr = "" }, "redis_addr"},
		{"redis lock shorter than store", func(c *Config) {
			c.Lock.Backend = "redis"
			c.Lock.TTLSecs = 60
			c.Verification.StoreTimeoutSecs = 300
		}, "lock.ttl_secs"},
		{"local lock ignores ttl", func(c *Config) {
			c.Lock.TTLSecs = 60
			c.Verification.StoreTimeoutSecs = 300
		}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"bad bcrypt cost", func(c *Config) { c.Auth.BcryptCost = 2 }, "bcrypt_cost"},
		{"zero max size", func(c *Config) { c.Verification.MaxFileSize = 0 }, "max_file_size"},
		{"no content types", func(c *Config) { c.Verification.AllowedContentTypes = nil }, "allowed_content_types"},
		{"zero upload timeout", func(c *Config) { c.Verification.UploadTimeoutSecs = 0 }, "upload_timeout_secs"},
		{"simulation relaxes ledger and secret", func(c *Config) {
			c.Simulation.Enabled = true
			c.Ledger.ContractAddress = ""
			c.Auth.JWTSecret = ""
			c.Storage.Backend = "memory"
			c.Registry.Backend = "memory"
		}, ""},
		{"simulation still checks a given contract", func(c *Config) {
			c.Simulation.Enabled = true
			c.Ledger.ContractAddress = "0xnope"
		}, "contract_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	cfg := validConfig(t)
	configPath := filepath.Join(cfg.DataDir, "config.yaml")
	cfg.Server.Port = 12345
	cfg.Storage.Backend = "ipfs"
	cfg.Lock.Backend = "redis"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file permissions 0600, got %o", perm)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Server.Port != 12345 {
		t.Errorf("expected port 12345, got %d", loaded.Server.Port)
	}
	if loaded.Storage.Backend != "ipfs" || loaded.Lock.Backend != "redis" {
		t.Errorf("backends not round-tripped: storage=%s lock=%s", loaded.Storage.Backend, loaded.Lock.Backend)
	}
	if loaded.Ledger.ContractAddress != testContract {
		t.Errorf("expected contract %s, got %s", testContract, loaded.Ledger.ContractAddress)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  port: 7777
log:
  level: debug
ledger:
  contract_address: ` + testContract + `
auth:
  jwt_secret: ` + strings.Repeat("k", 40) + `
verification:
  max_file_size: 2048
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected YAML port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected YAML level debug, got %s", cfg.Log.Level)
	}
	if cfg.Verification.MaxFileSize != 2048 {
		t.Errorf("expected max file size 2048, got %d", cfg.Verification.MaxFileSize)
	}
	// Unset values keep their defaults.
	if cfg.Server.RateLimitRequests != 100 {
		t.Errorf("expected default rate limit 100, got %d", cfg.Server.RateLimitRequests)
	}
	if cfg.Verification.LedgerTimeoutSecs != 30 {
		t.Errorf("expected default ledger timeout 30, got %d", cfg.Verification.LedgerTimeoutSecs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret")
	t.Setenv(EnvRPCURL, "http://localhost:8545")
	t.Setenv(EnvContractAddress, testContract)
	t.Setenv(EnvSimulation, "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("expected env secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Ledger.RPCURL != "http://localhost:8545" {
		t.Errorf("expected env rpc url, got %q", cfg.Ledger.RPCURL)
	}
	if cfg.Ledger.ContractAddress != testContract {
		t.Errorf("expected env contract, got %q", cfg.Ledger.ContractAddress)
	}
	if !cfg.Simulation.Enabled {
		t.Error("expected simulation enabled from env")
	}

	t.Setenv(EnvSimulation, "sometimes")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for unparseable simulation flag")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() of nonexistent file should not error, got: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("expected default port 3001, got %d", cfg.Server.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected invalid configuration error, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"~/.scanchain", filepath.Join(homeDir, ".scanchain")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "data")
	cfg.Ledger.KeystoreDir = filepath.Join(tmpDir, "data", "keystore")
	cfg.Registry.Dir = filepath.Join(tmpDir, "data", "registry")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.Ledger.KeystoreDir, cfg.Registry.Dir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("expected directory %s to exist: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", dir)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".scanchain", "config.yaml")) {
		t.Errorf("expected path ending in .scanchain/config.yaml, got %s", path)
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("unexpected addr %s", s.Addr())
	}
}
