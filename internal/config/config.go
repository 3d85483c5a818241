// Package config persists engine-wide tuning knobs as JSON, the same
// os.ReadFile/json.Unmarshal-then-cache, json.MarshalIndent/os.WriteFile
// round trip storage_engine/catalog uses to persist table schemas and the
// table-to-file-id mapping.
package config

import (
	"encoding/json"
	"os"
	"time"

	"txbtree/internal/dberr"
)

// Engine holds the knobs a running engine needs before it can open any
// B+tree file: how many pages the buffer pool may cache and how long a
// blocked lock request waits before the lock manager aborts it.
type Engine struct {
	BufferPoolPages int           `json:"buffer_pool_pages"`
	LockTimeout     time.Duration `json:"lock_timeout"`
}

// Default mirrors the values callers get from lockmgr.New and a modestly
// sized buffer pool when no config file is present yet.
func Default() Engine {
	return Engine{
		BufferPoolPages: 128,
		LockTimeout:     500 * time.Millisecond,
	}
}

// Load reads the engine config from path, falling back to Default if the
// file does not exist yet.
func Load(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Engine{}, dberr.Wrap(err, "reading config %s", path)
	}
	var cfg Engine
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Engine{}, dberr.Wrap(err, "parsing config %s", path)
	}
	if cfg.BufferPoolPages <= 0 {
		return Engine{}, dberr.Newf("config %s: buffer_pool_pages must be positive", path)
	}
	if cfg.LockTimeout <= 0 {
		return Engine{}, dberr.Newf("config %s: lock_timeout must be positive", path)
	}
	return cfg, nil
}

// Save persists cfg to path as indented JSON, matching persistSchema's
// MarshalIndent-then-WriteFile shape.
func Save(path string, cfg Engine) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return dberr.Wrap(err, "encoding config")
	}
	return os.WriteFile(path, data, 0o644)
}
