// Package cache persists serialized catalog trees on disk, one file per
// deterministic cache key, with TTL-based staleness detection.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jjhenkel/sqltoolsservice/internal/db"
	"github.com/jjhenkel/sqltoolsservice/internal/metadata"
)

// DefaultTTL is the staleness threshold applied when the caller does not
// specify one.
const DefaultTTL = time.Hour

const fileSuffix = "_context.json"

// IOError wraps a serialization or storage failure. Write failures are
// non-fatal to the orchestrator; read failures on an existing entry are not.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// entry is the persisted envelope. The write time is stored explicitly
// rather than read from file modification metadata, so the age computation
// does not depend on the storage medium.
type entry struct {
	WrittenAt time.Time      `json:"writtenAt"`
	Tree      *metadata.Node `json:"tree"`
}

// Store is a file-backed cache of catalog trees. Concurrent writers to the
// same key are not coordinated; last write wins.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a store rooted at dir. An empty dir places the cache
// under the system temporary directory.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "sqltoolsservice")
	}
	return &Store{dir: dir, now: time.Now}
}

// Key derives the deterministic cache key for a server and exclusion
// configuration. Only semantically relevant fields participate: the server
// name, the prune and default-exclusion flags, and the four exclusion lists
// in their given order. Structurally equal inputs produce equal keys across
// process restarts.
func (s *Store) Key(serverName string, cfg db.ExclusionConfig) string {
	canonical := struct {
		Server                   string   `json:"server"`
		PruneEmptyNodes          bool     `json:"pruneEmptyNodes"`
		DisableDefaultExclusions bool     `json:"disableDefaultExclusions"`
		ExcludeDatabases         []string `json:"excludeDatabases"`
		ExcludeSchemas           []string `json:"excludeSchemas"`
		ExcludeTables            []string `json:"excludeTables"`
		ExcludeViews             []string `json:"excludeViews"`
	}{
		Server:                   serverName,
		PruneEmptyNodes:          cfg.PruneEmptyNodes,
		DisableDefaultExclusions: cfg.DisableDefaultExclusions,
		ExcludeDatabases:         cfg.ExcludeDatabases,
		ExcludeSchemas:           cfg.ExcludeSchemas,
		ExcludeTables:            cfg.ExcludeTables,
		ExcludeViews:             cfg.ExcludeViews,
	}

	// Marshaling a struct of strings, bools, and string slices cannot fail.
	payload, _ := json.Marshal(canonical)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// IsStale reports whether the entry for key is missing, unreadable, or older
// than ttl. A corrupt entry counts as stale so the normal orchestrator path
// rebuilds and overwrites it instead of reading it.
func (s *Store) IsStale(key string, ttl time.Duration) bool {
	ent, err := s.readEntry(key)
	if err != nil {
		return true
	}
	return s.now().Sub(ent.WrittenAt) > ttl
}

// Write serializes the tree under key, unconditionally overwriting any prior
// entry and stamping a fresh write time.
func (s *Store) Write(key string, tree *metadata.Node) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}

	payload, err := json.Marshal(entry{WrittenAt: s.now(), Tree: tree})
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}

	if err := os.WriteFile(s.path(key), payload, 0o644); err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Read returns the stored tree for key. A missing entry is not an error:
// it yields a fresh empty root. A corrupt or unreadable existing entry
// fails with *IOError.
func (s *Store) Read(key string) (*metadata.Node, error) {
	ent, err := s.readEntry(key)
	if os.IsNotExist(err) {
		return metadata.NewRoot(), nil
	}
	if err != nil {
		return nil, err
	}
	if ent.Tree == nil {
		return metadata.NewRoot(), nil
	}
	return ent.Tree, nil
}

func (s *Store) readEntry(key string) (*entry, error) {
	payload, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}

	var ent entry
	if err := json.Unmarshal(payload, &ent); err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return &ent, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileSuffix)
}
