package migration

import (
	"encoding/json"
	"fmt"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/pkg/types"
)

// RegisterDefaultMigrations registers the built-in migration steps on the
// given migrator.
func RegisterDefaultMigrations(m *Migrator) {
	m.Register(Migration{
		Version:     1,
		Description: "Normalize stored document digests",
		Up: func(kv registry.KV) error {
			if err := rewrite(kv, registry.PrefixProduct, func(p *types.Product) bool {
				return normalizeDigest(&p.FileHash)
			}); err != nil {
				return err
			}
			return rewrite(kv, registry.PrefixBatch, func(b *types.Batch) bool {
				return normalizeDigest(&b.FileHash)
			})
		},
	})

	m.Register(Migration{
		Version:     2,
		Description: "Backfill batch last activity",
		Up: func(kv registry.KV) error {
			return rewrite(kv, registry.PrefixBatch, func(b *types.Batch) bool {
				if !b.LastActivity.IsZero() {
					return false
				}
				b.LastActivity = b.CreatedAt
				for _, s := range b.Scans {
					if s.Timestamp.After(b.LastActivity) {
						b.LastActivity = s.Timestamp
					}
				}
				return true
			})
		},
	})
}

// normalizeDigest lowercases a valid digest in place. Invalid digests are
// left for verification to flag.
func normalizeDigest(s *string) bool {
	d, err := hashing.Parse(*s)
	if err != nil {
		if *s != "" {
			logging.Warn("leaving malformed digest unchanged",
				"digest", *s,
				logging.Component("migration"))
		}
		return false
	}
	if string(d) == *s {
		return false
	}
	*s = string(d)
	return true
}

// rewrite decodes every record under prefix, applies fn and writes back the
// records fn reports as changed in a single transaction.
func rewrite[T any](kv registry.KV, prefix string, fn func(*T) bool) error {
	changed := make(map[string][]byte)
	err := kv.Scan(prefix, func(key string, value []byte) error {
		var rec T
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !fn(&rec) {
			return nil
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		changed[key] = data
		return nil
	})
	if err != nil || len(changed) == 0 {
		return err
	}

	return kv.Update(func(txn registry.Txn) error {
		for key, data := range changed {
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}
