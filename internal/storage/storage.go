// Package storage opens the key-value backend that persists audit progress.
// Each backend lives in its own subpackage; Open selects one by name.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/storage/bolt"
	"github.com/JakeFAU/follower-audit/internal/storage/gcs"
	"github.com/JakeFAU/follower-audit/internal/storage/local"
	"github.com/JakeFAU/follower-audit/internal/storage/memory"
	"github.com/JakeFAU/follower-audit/internal/storage/postgres"
	"github.com/JakeFAU/follower-audit/internal/storage/sqlite"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend string `mapstructure:"backend"`
	// Namespace prefixes every progress key as "<namespace>_<target>".
	Namespace string          `mapstructure:"namespace"`
	Local     local.Config    `mapstructure:"local"`
	Bolt      bolt.Config     `mapstructure:"bolt"`
	SQLite    sqlite.Config   `mapstructure:"sqlite"`
	Postgres  postgres.Config `mapstructure:"postgres"`
	GCS       gcs.Config      `mapstructure:"gcs"`
}

// KeyValue is a backend that can be closed and enumerated.
type KeyValue interface {
	audit.KeyValue
	audit.KeyLister
	io.Closer
}

// Open constructs the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (KeyValue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return memory.New(), nil
	case BackendLocal:
		return local.New(cfg.Local)
	case "", BackendBolt:
		return bolt.Open(cfg.Bolt)
	case BackendSQLite:
		return sqlite.Open(ctx, cfg.SQLite)
	case BackendPostgres:
		return postgres.Open(ctx, cfg.Postgres)
	case BackendGCS:
		return gcs.Open(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
