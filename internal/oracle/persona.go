package oracle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Persona is one discovered persona template.
type Persona struct {
	// ID is the template's filename without extension.
	ID string

	// DisplayName is the persona's first top-level Markdown heading, or ID
	// if the file has none.
	DisplayName string

	// Template is the raw file content, containing the placeholder token.
	Template string
}

// ErrPersonaNotFound is returned by Get when no persona with the given ID
// is registered.
var ErrPersonaNotFound = fmt.Errorf("oracle: persona not found")

// PersonaRegistry scans a directory of plain-text persona templates and
// caches the result with a short TTL, so new files become visible without
// a restart (spec §4.6). Concurrent rescans are collapsed via singleflight
// so a cache-expiry stampede triggers only one directory scan.
type PersonaRegistry struct {
	dir string
	ttl time.Duration

	mu       sync.RWMutex
	personas map[string]Persona
	lastScan time.Time

	group singleflight.Group
}

// NewPersonaRegistry constructs a registry scanning dir, refreshing its
// cache after ttl has elapsed since the last scan.
func NewPersonaRegistry(dir string, ttl time.Duration) *PersonaRegistry {
	return &PersonaRegistry{dir: dir, ttl: ttl, personas: map[string]Persona{}}
}

// List returns every discovered persona, triggering a rescan if the cache
// has expired.
func (r *PersonaRegistry) List(ctx context.Context) ([]Persona, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	return out, nil
}

// Get returns one persona by ID, triggering a rescan if the cache has
// expired.
func (r *PersonaRegistry) Get(ctx context.Context, id string) (Persona, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return Persona{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	if !ok {
		return Persona{}, ErrPersonaNotFound
	}
	return p, nil
}

// ensureFresh rescans the directory if the TTL has elapsed. Concurrent
// callers collapse onto a single scan via singleflight.
func (r *PersonaRegistry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	stale := time.Since(r.lastScan) >= r.ttl
	r.mu.RUnlock()
	if !stale {
		return nil
	}

	_, err, _ := r.group.Do("scan", func() (any, error) {
		return nil, r.scan()
	})
	return err
}

// scan reads every file in dir and rebuilds the persona map.
func (r *PersonaRegistry) scan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("oracle: scan persona directory: %w", err)
	}

	fresh := make(map[string]Persona, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("oracle: read persona file %s: %w", entry.Name(), err)
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		fresh[id] = Persona{
			ID:          id,
			DisplayName: firstHeading(string(data), id),
			Template:    string(data),
		}
	}

	r.mu.Lock()
	r.personas = fresh
	r.lastScan = time.Now()
	r.mu.Unlock()
	return nil
}

// firstHeading returns the text following the first top-level Markdown
// heading ("# ...") in content, or fallback if none is found.
func firstHeading(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return fallback
}
