// Package catalog indexes generated substances so the viewer can suggest
// similar ones already in the cache.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/system"

	"github.com/philippgille/chromem-go"
)

const collectionName = "substances"

type Entry struct {
	Query      string  `json:"query"`
	Name       string  `json:"name"`
	Formula    string  `json:"formula"`
	Similarity float32 `json:"similarity"`
}

type Catalog struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Open loads or creates the persistent catalog under dir. An empty dir keeps
// the catalog in memory.
func Open(dir string) (*Catalog, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(filepath.Clean(dir), false)
		if err != nil {
			return nil, fmt.Errorf("failed to create persistent db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, NewEmbedder(256).Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection: %w", err)
	}
	slog.Info("using substance catalog", "path", dir, "count", col.Count())
	system.LogMemoryUsage("catalog_init")
	return &Catalog{db: db, collection: col}, nil
}

func (c *Catalog) Count() int { return c.collection.Count() }

// Add indexes rec under its cache key. Re-adding a key replaces the entry.
func (c *Catalog) Add(ctx context.Context, key, query string, rec *molecule.Record) error {
	content := strings.Join([]string{query, rec.Name, rec.Formula, rec.Description}, "\n")
	doc := chromem.Document{
		ID:      key,
		Content: content,
		Metadata: map[string]string{
			"query":   query,
			"name":    rec.Name,
			"formula": rec.Formula,
		},
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index substance: %w", err)
	}
	slog.Debug("indexed substance", "key", key, "name", rec.Name)
	return nil
}

func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	// chromem-go fails if limit > collection count
	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := c.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, Entry{
			Query:      r.Metadata["query"],
			Name:       r.Metadata["name"],
			Formula:    r.Metadata["formula"],
			Similarity: r.Similarity,
		})
	}
	return entries, nil
}
