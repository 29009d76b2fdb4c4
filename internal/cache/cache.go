// Package cache stores finished evaluations keyed by file content hash so
// unchanged exercise files can skip execution and analysis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

const hashPrefixLen = 16

// Options toggle cache behavior. With ShortCircuit off, lookups always miss
// but fresh results are still written.
type Options struct {
	Enabled      bool
	ShortCircuit bool
}

// Entry is the on-disk artifact format.
type Entry struct {
	Path        string             `json:"path"`
	ContentHash string             `json:"content_hash"`
	CachedAt    time.Time          `json:"cached_at"`
	Result      *evaluation.Result `json:"result"`
}

// Stats summarizes the artifacts under the cache root.
type Stats struct {
	Dir     string
	Entries int
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
}

// Cache is a directory of JSON artifacts, one per file and content hash.
type Cache struct {
	root   string
	opts   Options
	logger *slog.Logger
}

// New creates a cache rooted at root.
func New(root string, opts Options, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: root, opts: opts, logger: logger}
}

// HashContent returns the hex SHA-256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.root
}

// Enabled reports whether the cache reads or writes anything.
func (c *Cache) Enabled() bool {
	return c.opts.Enabled
}

// Get returns the cached result for file if one exists for its current hash
// and the artifact is not older than the file itself.
func (c *Cache) Get(file *evaluation.SQLFile) (*evaluation.Result, bool) {
	if !c.opts.Enabled || !c.opts.ShortCircuit || file.Hash == "" {
		return nil, false
	}

	path := c.artifactPath(file)
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("stat cache entry", "file", file.Key(), "error", err)
		}
		return nil, false
	}

	if !file.ModTime.IsZero() && info.ModTime().Before(file.ModTime) {
		c.logger.Debug("cache entry older than file", "file", file.Key())
		return nil, false
	}

	entry, err := readEntry(path)
	if err != nil {
		c.logger.Warn("ignoring cache entry", "file", file.Key(), "path", path, "error", err)
		return nil, false
	}

	if entry.ContentHash != file.Hash {
		return nil, false
	}
	if entry.Path != file.Key() {
		c.logger.Debug("cache entry belongs to another file", "file", file.Key(), "entry", entry.Path)
		return nil, false
	}

	result := *entry.Result
	result.Cached = true
	return &result, true
}

// Put stores result for file's current hash and removes artifacts for
// earlier hashes of the same file.
func (c *Cache) Put(file *evaluation.SQLFile, result *evaluation.Result) error {
	if !c.opts.Enabled {
		return nil
	}
	if file.Hash == "" {
		return fmt.Errorf("caching %s: missing content hash", file.Key())
	}

	if err := os.MkdirAll(c.root, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	stored := *result
	stored.Cached = false
	data, err := json.MarshalIndent(Entry{
		Path:        file.Key(),
		ContentHash: file.Hash,
		CachedAt:    time.Now().UTC(),
		Result:      &stored,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	path := c.artifactPath(file)
	tmp, err := os.CreateTemp(c.root, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming cache entry: %w", err)
	}

	c.removeStale(file, path)
	return nil
}

// Stats walks the cache root.
func (c *Cache) Stats() (*Stats, error) {
	stats := &Stats{Dir: c.root}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, fmt.Errorf("reading cache dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !isArtifact(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.Bytes += info.Size()
		mt := info.ModTime()
		if stats.Oldest.IsZero() || mt.Before(stats.Oldest) {
			stats.Oldest = mt
		}
		if mt.After(stats.Newest) {
			stats.Newest = mt
		}
	}

	return stats, nil
}

// Clear deletes every artifact and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !(isArtifact(e.Name()) || strings.HasSuffix(e.Name(), ".tmp")) {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) artifactPath(file *evaluation.SQLFile) string {
	return filepath.Join(c.root, fmt.Sprintf("%s.%s.json", escapeKey(file.Key()), shortHash(file.Hash)))
}

func (c *Cache) removeStale(file *evaluation.SQLFile, keep string) {
	prefix := escapeKey(file.Key()) + "."
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !isArtifact(name) {
			continue
		}
		// Another key may share the prefix ("a.sql" vs "a.sql.bak").
		if len(name) != len(prefix)+hashPrefixLen+len(".json") {
			continue
		}
		path := filepath.Join(c.root, name)
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.Warn("removing stale cache entry", "path", path, "error", err)
		}
	}
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluation.ErrCacheCorrupt, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", evaluation.ErrCacheCorrupt, err)
	}
	if entry.Result == nil || entry.ContentHash == "" {
		return nil, fmt.Errorf("%w: missing result or hash", evaluation.ErrCacheCorrupt)
	}
	return &entry, nil
}

// keyEscaper percent-encodes separators. '%' is encoded too, so distinct keys
// never share an artifact name.
var keyEscaper = strings.NewReplacer("%", "%25", "/", "%2F", ":", "%3A", "\\", "%5C")

func escapeKey(key string) string {
	return keyEscaper.Replace(filepath.ToSlash(key))
}

func shortHash(hash string) string {
	if len(hash) > hashPrefixLen {
		return hash[:hashPrefixLen]
	}
	return hash
}

func isArtifact(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
