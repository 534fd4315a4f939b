package doctor

import (
	"context"
	"fmt"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/storage"
	"github.com/scanchain/scanchain/internal/verification"
)

// StorageChecker checks that the object store backend is reachable.
type StorageChecker struct {
	cfg config.StorageConfig
}

func NewStorageChecker(cfg *config.Config) *StorageChecker {
	return &StorageChecker{cfg: cfg.Storage}
}

func (c *StorageChecker) Name() string       { return "Object store" }
func (c *StorageChecker) Category() Category { return CategoryStorage }

func (c *StorageChecker) Check(ctx context.Context) CheckResult {
	switch c.cfg.Backend {
	case "memory":
		r := result(c, StatusWarning, "Storage: in memory")
		r.Details = "Documents are lost on restart"
		return r

	case "ipfs":
		sh := shell.NewShell(c.cfg.IPFSAPI)
		sh.SetTimeout(CheckTimeout)
		version, _, err := sh.Version()
		if err != nil {
			r := result(c, StatusError, "Storage: IPFS node unreachable")
			r.Details = fmt.Sprintf("%s: %v", c.cfg.IPFSAPI, err)
			return r
		}
		return result(c, StatusOK, fmt.Sprintf("Storage: IPFS %s at %s", version, c.cfg.IPFSAPI))

	case "s3":
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    c.cfg.Bucket,
			Region:    c.cfg.Region,
			Endpoint:  c.cfg.Endpoint,
			PublicURL: c.cfg.PublicURL,
			AccessKey: c.cfg.AccessKey,
			SecretKey: c.cfg.SecretKey,
		})
		if err != nil {
			r := result(c, StatusError, "Storage: S3 client not configured")
			r.Details = err.Error()
			return r
		}
		if err := store.Ping(ctx); err != nil {
			status := StatusError
			if c.cfg.EnsureBucket {
				// The server creates the bucket at startup.
				status = StatusWarning
			}
			r := result(c, status, "Storage: bucket not reachable")
			r.Details = err.Error()
			return r
		}
		return result(c, StatusOK, fmt.Sprintf("Storage: s3 bucket %s", c.cfg.Bucket))
	}

	return result(c, StatusError, fmt.Sprintf("Storage: unknown backend %q", c.cfg.Backend))
}

// RedisChecker pings Redis when it backs the per-product locks.
type RedisChecker struct {
	cfg config.LockConfig
}

func NewRedisChecker(cfg *config.Config) *RedisChecker {
	return &RedisChecker{cfg: cfg.Lock}
}

func (c *RedisChecker) Name() string       { return "Lock backend" }
func (c *RedisChecker) Category() Category { return CategoryServices }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if c.cfg.Backend != "redis" {
		return result(c, StatusSkipped, "Locks: in-process, single server only")
	}

	locker := verification.NewRedisLocker(verification.RedisLockerConfig{
		Addr:     c.cfg.RedisAddr,
		Password: c.cfg.RedisPassword,
		DB:       c.cfg.RedisDB,
		Prefix:   c.cfg.Prefix,
	})
	defer locker.Close()

	if err := locker.Ping(ctx); err != nil {
		r := result(c, StatusError, fmt.Sprintf("Locks: redis at %s unreachable", c.cfg.RedisAddr))
		r.Details = err.Error()
		return r
	}
	return result(c, StatusOK, fmt.Sprintf("Locks: redis at %s", c.cfg.RedisAddr))
}
