package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scanchain/scanchain/internal/logging"
)

// ErrSimulationDisabled is returned when the memory backend is requested
// without simulation mode switched on.
var ErrSimulationDisabled = errors.New("memory storage backend requires simulation mode")

// Options selects and configures a backend.
type Options struct {
	Backend       string // "s3", "ipfs" or "memory"
	S3            S3Config
	IPFSAPI       string
	IPFSGateway   string
	Timeout       time.Duration
	EnsureBucket  bool
	Simulation    bool
	MaxObjectSize int64
}

// New builds the configured object store, bounded by opts.Timeout.
func New(ctx context.Context, opts Options) (ObjectStore, error) {
	var store ObjectStore

	switch opts.Backend {
	case "s3":
		s3Store, err := NewS3Store(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		if opts.EnsureBucket {
			if err := s3Store.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		store = s3Store

	case "ipfs":
		store = NewIPFSStore(opts.IPFSAPI, opts.IPFSGateway, opts.Timeout)

	case "memory":
		if !opts.Simulation {
			return nil, ErrSimulationDisabled
		}
		mem := NewMemoryStore(opts.S3.Bucket)
		mem.SetMaxObjectSize(opts.MaxObjectSize)
		store = mem
		logging.Warn("SIMULATION MODE: documents are held in memory and lost on restart",
			logging.Backend(store.Name()),
			logging.Component("storage"))

	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}

	logging.Info("object store configured",
		logging.Backend(store.Name()),
		"simulated", store.Simulated(),
		"timeout", opts.Timeout.String(),
		logging.Component("storage"))

	return WithTimeout(store, opts.Timeout), nil
}
