// Package storage persists whole documents: every save rewrites the full
// payload and every load returns it entirely.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Load when the document was never saved.
var ErrNotFound = errors.New("document not found")

// DocumentStore reads and writes named whole-document blobs.
type DocumentStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	// Size reports the stored byte length, 0 when absent.
	Size(ctx context.Context, name string) (int64, error)
	Close() error
}

// Backend names accepted by New.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DataDir       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	DatabaseURL   string
}

// New opens the configured backend, defaulting to JSON files under DataDir.
func New(ctx context.Context, opts Options) (DocumentStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		dir := opts.DataDir
		if dir == "" {
			dir = filepath.Join("data", "chats")
		}
		return NewFileStore(dir)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.DataDir, "tavern.db")
		}
		return NewSQLiteStore(path)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("document name is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
