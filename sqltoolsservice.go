// Package sqltoolsservice produces compact, hierarchical snapshots of a SQL
// Server catalog (databases, schemas, tables, views, columns, foreign keys)
// for injection into context-consuming features, and caches each snapshot on
// disk keyed by server identity and exclusion configuration.
//
// # Quick Start
//
//	registry := db.NewRegistry()
//	sessionID := registry.Register(client)
//
//	svc := sqltoolsservice.NewService(registry, nil)
//	tree, err := svc.GetContext(ctx, &sqltoolsservice.Request{
//		ServerName: "myserver",
//		SessionID:  sessionID,
//		Options:    &sqltoolsservice.Options{PruneEmptyNodes: true},
//	})
//
// # Caching
//
// Snapshots are cached one file per key under a temporary-storage location.
// The key is a deterministic hash of the server name plus the exclusion
// configuration; a request with the same server and configuration within the
// TTL (one hour by default) is served from disk without touching the catalog.
// ForceRefresh bypasses the cache check but still refreshes the cached entry.
//
// # Asynchronous use
//
// Dispatch submits a request onto a background goroutine and returns a
// channel that yields the single Result, so a request-handling path is never
// blocked on catalog reads:
//
//	result := <-svc.Dispatch(ctx, req)
package sqltoolsservice

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jjhenkel/sqltoolsservice/internal/cache"
	"github.com/jjhenkel/sqltoolsservice/internal/db"
	"github.com/jjhenkel/sqltoolsservice/internal/metadata"
)

// Options configures which catalog objects are excluded from a snapshot and
// whether empty containers are pruned from the result.
//
// All fields are optional. Built-in default exclusions (the master database
// and the system/database-role schemas) apply unless
// DisableDefaultExclusions is set; configured exclusions are additive on top
// of the defaults, they replace nothing.
type Options struct {
	// PruneEmptyNodes removes Database, Schema, Table, and View nodes that
	// end up with no children after the build.
	PruneEmptyNodes bool

	// DisableDefaultExclusions turns off the built-in deny sets so that only
	// the explicitly configured exclusions apply.
	DisableDefaultExclusions bool

	// ExcludeDatabases names databases to omit from the snapshot.
	ExcludeDatabases []string

	// ExcludeSchemas names schemas to omit within every database.
	ExcludeSchemas []string

	// ExcludeTables names tables to omit within every schema.
	ExcludeTables []string

	// ExcludeViews names views to omit within every schema.
	ExcludeViews []string
}

func (o *Options) exclusionConfig() db.ExclusionConfig {
	return db.ExclusionConfig{
		PruneEmptyNodes:          o.PruneEmptyNodes,
		DisableDefaultExclusions: o.DisableDefaultExclusions,
		ExcludeDatabases:         o.ExcludeDatabases,
		ExcludeSchemas:           o.ExcludeSchemas,
		ExcludeTables:            o.ExcludeTables,
		ExcludeViews:             o.ExcludeViews,
	}
}

// Request identifies one getContext invocation.
type Request struct {
	// ServerName is the server identity the cache key is derived from.
	ServerName string

	// SessionID is resolved through the service's ConnectionResolver into a
	// live catalog connection.
	SessionID string

	// Options can be nil for defaults.
	Options *Options

	// ForceRefresh rebuilds even when a fresh cached entry exists. It does
	// not participate in the cache key.
	ForceRefresh bool

	// TTL is the staleness threshold for the cached entry; zero means the
	// default of one hour.
	TTL time.Duration
}

// Result carries the outcome of an asynchronous Dispatch call.
type Result struct {
	Tree *metadata.Node
	Err  error
}

// ConnectionResolver resolves a session key into a live catalog connection.
// It is an explicit capability handed to the service, not ambient state;
// db.Registry is the stock implementation.
type ConnectionResolver interface {
	Resolve(sessionID string) (*sql.DB, bool)
}

// ServiceConfig configures a Service. The zero value (or a nil pointer)
// selects the default cache directory and the global logger.
type ServiceConfig struct {
	// CacheDir overrides the cache location; empty places it under the
	// system temporary directory.
	CacheDir string

	// Logger receives non-fatal diagnostics such as cache-write failures.
	Logger *zerolog.Logger
}

// Service orchestrates catalog snapshot requests: cache-hit versus rebuild,
// building, pruning, and persistence.
type Service struct {
	resolver ConnectionResolver
	store    *cache.Store
	log      zerolog.Logger
	group    singleflight.Group
}

// NewService creates a Service using the given resolver. cfg can be nil.
func NewService(resolver ConnectionResolver, cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Service{
		resolver: resolver,
		store:    cache.NewStore(cfg.CacheDir),
		log:      logger,
	}
}

// GetContext returns the catalog snapshot for the request, from cache when a
// fresh entry exists and from a full rebuild otherwise. A rebuild's result is
// persisted as a side effect; persistence failure is logged and never
// invalidates the returned tree. Catalog failures during a rebuild propagate
// with no partial result.
func (s *Service) GetContext(ctx context.Context, req *Request) (*metadata.Node, error) {
	opts := req.Options
	if opts == nil {
		opts = &Options{}
	}
	cfg := opts.exclusionConfig()

	key := s.store.Key(req.ServerName, cfg)
	ttl := req.TTL
	if ttl == 0 {
		ttl = cache.DefaultTTL
	}

	if !req.ForceRefresh && !s.store.IsStale(key, ttl) {
		s.log.Debug().Str("server", req.ServerName).Str("key", key).Msg("catalog context cache hit")
		return s.store.Read(key)
	}

	// Coalesce concurrent rebuilds of the same key; builds are idempotent
	// and last write wins, so sharing one result is safe.
	tree, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.rebuild(ctx, req, cfg, key)
	})
	if err != nil {
		return nil, err
	}
	return tree.(*metadata.Node), nil
}

// Dispatch submits the request onto a background goroutine and returns a
// buffered channel that receives the single Result when the build or cache
// read completes. The caller is never blocked on submission.
func (s *Service) Dispatch(ctx context.Context, req *Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		tree, err := s.GetContext(ctx, req)
		ch <- Result{Tree: tree, Err: err}
	}()
	return ch
}

func (s *Service) rebuild(ctx context.Context, req *Request, cfg db.ExclusionConfig, key string) (*metadata.Node, error) {
	conn, ok := s.resolver.Resolve(req.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", db.ErrConnectionNotFound, req.SessionID)
	}

	tree, err := db.NewTreeBuilder(conn, cfg).BuildTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog context for %s: %w", req.ServerName, err)
	}

	if cfg.PruneEmptyNodes {
		tree = metadata.PruneEmpty(tree)
	}

	// The result is deliverable regardless of whether persisting it works.
	if err := s.store.Write(key, tree); err != nil {
		s.log.Warn().Err(err).Str("server", req.ServerName).Str("key", key).
			Msg("failed to persist catalog context cache entry")
	}

	return tree, nil
}
