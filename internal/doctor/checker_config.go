package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/scanchain/scanchain/internal/config"
)

// ConfigFileChecker loads and validates the config file.
type ConfigFileChecker struct {
	path string
}

func NewConfigFileChecker(path string) *ConfigFileChecker {
	return &ConfigFileChecker{path: path}
}

func (c *ConfigFileChecker) Name() string       { return "Config file" }
func (c *ConfigFileChecker) Category() Category { return CategoryConfig }

func (c *ConfigFileChecker) Check(ctx context.Context) CheckResult {
	if _, err := os.Stat(c.path); errors.Is(err, fs.ErrNotExist) {
		r := result(c, StatusWarning, "Config: not found, using defaults")
		r.Details = c.path
		r.FixCommand = "scanchain init"
		return r
	}

	cfg, err := config.Load(c.path)
	if err != nil {
		r := result(c, StatusError, "Config: invalid")
		r.Details = err.Error()
		return r
	}

	if cfg.Simulation.Enabled {
		r := result(c, StatusWarning, "Config: valid, simulation mode is on")
		r.Details = "Ledger writes and stored documents are not persisted"
		return r
	}
	return result(c, StatusOK, fmt.Sprintf("Config: %s", c.path))
}

// RegistryChecker checks the product registry store.
type RegistryChecker struct {
	backend string
	dir     string
}

func NewRegistryChecker(cfg *config.Config) *RegistryChecker {
	return &RegistryChecker{backend: cfg.Registry.Backend, dir: cfg.Registry.Dir}
}

func (c *RegistryChecker) Name() string       { return "Registry store" }
func (c *RegistryChecker) Category() Category { return CategoryStorage }

func (c *RegistryChecker) Check(ctx context.Context) CheckResult {
	if c.backend == "memory" {
		r := result(c, StatusWarning, "Registry: in memory")
		r.Details = "Users, batches and scans are lost on restart"
		return r
	}

	if err := os.MkdirAll(c.dir, 0700); err != nil {
		r := result(c, StatusError, "Registry: directory not usable")
		r.Details = err.Error()
		return r
	}
	f, err := os.CreateTemp(c.dir, ".doctor-*")
	if err != nil {
		r := result(c, StatusError, "Registry: directory not writable")
		r.Details = err.Error()
		return r
	}
	f.Close()
	os.Remove(f.Name())

	if _, err := os.Stat(filepath.Join(c.dir, "MANIFEST")); err == nil {
		return result(c, StatusOK, fmt.Sprintf("Registry: badger at %s", c.dir))
	}
	return result(c, StatusOK, fmt.Sprintf("Registry: badger at %s (empty)", c.dir))
}
