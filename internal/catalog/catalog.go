// Package catalog is the searchable AI-tools dataset the session loop
// queries. Text search runs on an in-memory bleve index; structural
// operations (filter, sort, group) run on the result sets themselves.
package catalog

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/sift-labs/sift/internal/agent/core"
)

// Catalog pairs the bleve index with the entry table it was built from.
type Catalog struct {
	index   bleve.Index
	logger  *log.Logger
	mu      sync.RWMutex
	entries map[string]core.Result
}

// indexDoc is what bleve actually indexes per entry.
type indexDoc struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	PricingTier string  `json:"pricing_tier"`
	Tags        string  `json:"tags"`
	Rating      float64 `json:"rating"`
}

// New builds an in-memory catalog from the given entries. An empty slice
// loads the embedded seed set.
func New(entries []core.Result, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[CATALOG] ", log.LstdFlags)
	}
	if len(entries) == 0 {
		entries = seedEntries()
	}

	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("creating catalog index: %w", err)
	}

	c := &Catalog{index: index, logger: logger, entries: make(map[string]core.Result, len(entries))}
	batch := index.NewBatch()
	for _, e := range entries {
		if e.ID == "" || e.Name == "" {
			continue
		}
		c.entries[e.ID] = e
		if err := batch.Index(e.ID, indexDoc{
			Name:        e.Name,
			Description: e.Description,
			Category:    e.Category,
			PricingTier: e.PricingTier,
			Tags:        strings.Join(e.Tags, " "),
			Rating:      e.Rating,
		}); err != nil {
			return nil, fmt.Errorf("indexing %s: %w", e.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("committing catalog batch: %w", err)
	}
	logger.Printf("indexed %d catalog entries", len(c.entries))
	return c, nil
}

// Close releases the index.
func (c *Catalog) Close() error {
	return c.index.Close()
}

// Size returns the number of indexed entries.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SearchText runs a relevance-ranked text search across all indexed fields.
func (c *Catalog) SearchText(text string, limit int) ([]core.Result, error) {
	if limit <= 0 {
		limit = 25
	}
	query := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequest(query)
	req.Size = limit
	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entry, ok := c.entries[hit.ID]
		if !ok {
			continue
		}
		entry.Score = hit.Score
		out = append(out, entry)
	}
	return out, nil
}

// SearchCategory returns every entry in a category, best rated first.
func (c *Catalog) SearchCategory(category string, limit int) []core.Result {
	if limit <= 0 {
		limit = 25
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Result
	want := strings.ToLower(strings.TrimSpace(category))
	for _, e := range c.entries {
		if strings.ToLower(e.Category) == want {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns one entry by ID.
func (c *Catalog) Get(id string) (core.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Categories lists the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range c.entries {
		seen[e.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// FilterPrice keeps results within the price bound and optional tier.
func FilterPrice(results []core.Result, maxPrice float64, tier string) []core.Result {
	out := make([]core.Result, 0, len(results))
	for _, r := range results {
		if maxPrice >= 0 && r.Price > maxPrice {
			continue
		}
		if tier != "" && !strings.EqualFold(r.PricingTier, tier) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterFeatures keeps results carrying every requested tag.
func FilterFeatures(results []core.Result, features []string) []core.Result {
	if len(features) == 0 {
		return append([]core.Result{}, results...)
	}
	out := make([]core.Result, 0, len(results))
	for _, r := range results {
		if hasAllTags(r, features) {
			out = append(out, r)
		}
	}
	return out
}

func hasAllTags(r core.Result, features []string) bool {
	for _, f := range features {
		found := false
		for _, tag := range r.Tags {
			if strings.EqualFold(tag, f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortByField orders results by a named field. Unknown fields fall back to
// score. The input is not modified.
func SortByField(results []core.Result, field, order string, limit int) []core.Result {
	out := append([]core.Result{}, results...)
	desc := strings.EqualFold(order, "desc")
	less := func(a, b core.Result) bool { return a.Score < b.Score }
	switch strings.ToLower(field) {
	case "price":
		less = func(a, b core.Result) bool { return a.Price < b.Price }
	case "rating":
		less = func(a, b core.Result) bool { return a.Rating < b.Rating }
	case "name":
		less = func(a, b core.Result) bool { return a.Name < b.Name }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GroupByCategory buckets results by category.
func GroupByCategory(results []core.Result) map[string][]core.Result {
	out := make(map[string][]core.Result)
	for _, r := range results {
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}
