package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvJWTSecret       = "SCANCHAIN_JWT_SECRET"
	EnvRPCURL          = "SCANCHAIN_RPC_URL"
	EnvContractAddress = "SCANCHAIN_CONTRACT_ADDRESS"
	EnvSimulation      = "SCANCHAIN_SIMULATION"
)

// MinJWTSecretLength applies outside simulation mode.
const MinJWTSecretLength = 32

// Config represents the complete server configuration
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Storage      StorageConfig      `yaml:"storage"`
	Registry     RegistryConfig     `yaml:"registry"`
	Auth         AuthConfig         `yaml:"auth"`
	Lock         LockConfig         `yaml:"lock"`
	Simulation   SimulationConfig   `yaml:"simulation"`
	Verification VerificationConfig `yaml:"verification"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Rate limiting, per client IP
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	// Timeouts
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`  // default: 30
	WriteTimeoutSecs int `yaml:"write_timeout_secs"` // default: 360, uploads wait for the ledger
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`  // default: 120

	CORSOrigins   []string `yaml:"cors_origins"`
	PublicBaseURL string   `yaml:"public_base_url"` // base of QR verification links
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// LedgerConfig contains chain and contract settings
type LedgerConfig struct {
	RPCURL             string `yaml:"rpc_url"`
	ChainID            int64  `yaml:"chain_id"`
	ContractAddress    string `yaml:"contract_address"`
	KeystoreDir        string `yaml:"keystore_dir"`
	WalletPasswordFile string `yaml:"wallet_password_file"`
	BlockConfirmations int    `yaml:"block_confirmations"`
	ConfirmTimeoutSecs int    `yaml:"confirm_timeout_secs"`
	WatchEvents        bool   `yaml:"watch_events"`
	EventPollSecs      int    `yaml:"event_poll_secs"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend      string `yaml:"backend"` // s3, ipfs or memory
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	PublicURL    string `yaml:"public_url"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	EnsureBucket bool   `yaml:"ensure_bucket"`
	IPFSAPI      string `yaml:"ipfs_api"`
	IPFSGateway  string `yaml:"ipfs_gateway"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

// RegistryConfig selects the metadata store
type RegistryConfig struct {
	Backend string `yaml:"backend"` // badger or memory
	Dir     string `yaml:"dir"`
}

// AuthConfig contains account and session settings
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	BcryptCost    int    `yaml:"bcrypt_cost"`
	DemoUsers     bool   `yaml:"demo_users"`
}

// LockConfig selects the per-product lock
type LockConfig struct {
	Backend       string `yaml:"backend"` // local or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	TTLSecs       int    `yaml:"ttl_secs"`
}

// SimulationConfig enables the in-memory ledger and object store
type SimulationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Owner   string `yaml:"owner"` // owner address reported by the simulated ledger
}

// VerificationConfig bounds the store and verify pipelines
type VerificationConfig struct {
	MaxFileSize         int64    `yaml:"max_file_size"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
	LockTimeoutSecs     int      `yaml:"lock_timeout_secs"`
	UploadTimeoutSecs   int      `yaml:"upload_timeout_secs"`
	DownloadTimeoutSecs int      `yaml:"download_timeout_secs"`
	LedgerTimeoutSecs   int      `yaml:"ledger_timeout_secs"`
	RecordTimeoutSecs   int      `yaml:"record_timeout_secs"`
	StoreTimeoutSecs    int      `yaml:"store_timeout_secs"`
	VerifyTimeoutSecs   int      `yaml:"verify_timeout_secs"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".scanchain")

	return &Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                3001,
			RateLimitRequests:   100,
			RateLimitWindowSecs: 60,
			ReadTimeoutSecs:     30,
			WriteTimeoutSecs:    360,
			IdleTimeoutSecs:     120,
			CORSOrigins:         []string{"*"},
			PublicBaseURL:       "https://scanchain.app",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			RPCURL:             "https://data-seed-prebsc-1-s1.binance.org:8545",
			ChainID:            97,
			KeystoreDir:        filepath.Join(dataDir, "keystore"),
			BlockConfirmations: 1,
			ConfirmTimeoutSecs: 120,
			EventPollSecs:      15,
		},
		Storage: StorageConfig{
			Backend:      "s3",
			Bucket:       "scanchain-bucket",
			Region:       "us-east-1",
			EnsureBucket: true,
			IPFSAPI:      "localhost:5001",
			IPFSGateway:  "https://ipfs.io",
			TimeoutSecs:  60,
		},
		Registry: RegistryConfig{
			Backend: "badger",
			Dir:     filepath.Join(dataDir, "registry"),
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
			BcryptCost:    12,
		},
		Lock: LockConfig{
			Backend:   "local",
			RedisAddr: "localhost:6379",
			Prefix:    "scanchain:lock:",
			TTLSecs:   300,
		},
		Verification: VerificationConfig{
			MaxFileSize:         10 << 20,
			AllowedContentTypes: []string{"application/pdf", "application/json", "text/json"},
			LockTimeoutSecs:     10,
			UploadTimeoutSecs:   60,
			DownloadTimeoutSecs: 60,
			LedgerTimeoutSecs:   30,
			RecordTimeoutSecs:   180,
			StoreTimeoutSecs:    300,
			VerifyTimeoutSecs:   120,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults,
// unvalidated; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if data != nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := os.Getenv(EnvContractAddress); v != "" {
		c.Ledger.ContractAddress = v
	}
	if v := os.Getenv(EnvSimulation); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSimulation, err)
		}
		c.Simulation.Enabled = enabled
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests < 0 || c.Server.RateLimitWindowSecs < 1 {
		return fmt.Errorf("rate limit requires rate_limit_requests >= 0 and rate_limit_window_secs >= 1")
	}
	if c.Server.PublicBaseURL != "" {
		if err := validateURL("public_base_url", c.Server.PublicBaseURL); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	// A real ledger is required unless simulation is explicitly on.
	if c.Ledger.ContractAddress != "" || !c.Simulation.Enabled {
		if err := validateEthAddress("ledger.contract_address", c.Ledger.ContractAddress); err != nil {
			return fmt.Errorf("%w (or set simulation.enabled)", err)
		}
		if err := validateURL("ledger.rpc_url", c.Ledger.RPCURL); err != nil {
			return err
		}
	}
	if c.Simulation.Owner != "" {
		if err := validateEthAddress("simulation.owner", c.Simulation.Owner); err != nil {
			return err
		}
	}

	switch c.Storage.Backend {
	case "s3", "ipfs":
	case "memory":
		if !c.Simulation.Enabled {
			return fmt.Errorf("storage backend memory requires simulation.enabled")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Endpoint != "" {
		if err := validateURL("storage.endpoint", c.Storage.Endpoint); err != nil {
			return err
		}
	}

	if c.Registry.Backend != "badger" && c.Registry.Backend != "memory" {
		return fmt.Errorf("invalid registry backend: %s", c.Registry.Backend)
	}
	if c.Registry.Backend == "badger" && c.Registry.Dir == "" {
		return fmt.Errorf("registry.dir is required for the badger backend")
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s", c.Lock.Backend)
	}

	if !c.Simulation.Enabled && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters (set %s)", MinJWTSecretLength, EnvJWTSecret)
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("invalid bcrypt_cost: %d", c.Auth.BcryptCost)
	}

	if c.Verification.MaxFileSize <= 0 {
		return fmt.Errorf("verification.max_file_size must be positive")
	}
	if len(c.Verification.AllowedContentTypes) == 0 {
		return fmt.Errorf("verification.allowed_content_types must not be empty")
	}
	timeouts := map[string]int{
		"server.read_timeout_secs":           c.Server.ReadTimeoutSecs,
		"server.write_timeout_secs":          c.Server.WriteTimeoutSecs,
		"storage.timeout_secs":               c.Storage.TimeoutSecs,
		"lock.ttl_secs":                      c.Lock.TTLSecs,
		"verification.lock_timeout_secs":     c.Verification.LockTimeoutSecs,
		"verification.upload_timeout_secs":   c.Verification.UploadTimeoutSecs,
		"verification.download_timeout_secs": c.Verification.DownloadTimeoutSecs,
		"verification.ledger_timeout_secs":   c.Verification.LedgerTimeoutSecs,
		"verification.record_timeout_secs":   c.Verification.RecordTimeoutSecs,
		"verification.store_timeout_secs":    c.Verification.StoreTimeoutSecs,
		"verification.verify_timeout_secs":   c.Verification.VerifyTimeoutSecs,
	}
	for name, secs := range timeouts {
		if secs < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, secs)
		}
	}
	// The redis lock is not renewed, so it must outlive the longest Store.
	if c.Lock.Backend == "redis" && c.Lock.TTLSecs < c.Verification.StoreTimeoutSecs {
		return fmt.Errorf("lock.ttl_secs (%d) must be at least verification.store_timeout_secs (%d)",
			c.Lock.TTLSecs, c.Verification.StoreTimeoutSecs)
	}

	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.DataDir = expandPath(c.DataDir)
	c.Ledger.KeystoreDir = expandPath(c.Ledger.KeystoreDir)
	c.Ledger.WalletPasswordFile = expandPath(c.Ledger.WalletPasswordFile)
	c.Registry.Dir = expandPath(c.Registry.Dir)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".scanchain", "config.yaml")
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Ledger.KeystoreDir}
	if c.Registry.Backend == "badger" {
		dirs = append(dirs, c.Registry.Dir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
