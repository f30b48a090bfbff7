// Package catalog provides fuzzy lookup over known game names, backed by an in-memory Bleve index.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/gamesense/pkg/utils"
)

const fuzziness = 2

// Catalog indexes game names for typo-tolerant and prefix lookups.
type Catalog struct {
	mu    sync.RWMutex
	index bleve.Index
	names []string
	known map[string]struct{}
}

func newIndex() (bleve.Index, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so "Zelda" and "zelda" match.
	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", nameField)
	// Whole lowercased name for prefix lookups across word boundaries.
	docMapping.AddFieldMappingsAt("exact", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("game", docMapping)
	im.DefaultType = "game"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

// New creates an empty catalog.
func New() (*Catalog, error) {
	index, err := newIndex()
	if err != nil {
		return nil, err
	}
	return &Catalog{index: index, known: make(map[string]struct{})}, nil
}

// Rebuild replaces the catalog contents with names, preserving their order.
func (c *Catalog) Rebuild(names []string) error {
	index, err := newIndex()
	if err != nil {
		return err
	}
	batch := index.NewBatch()
	known := make(map[string]struct{}, len(names))
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := known[name]; dup || name == "" {
			continue
		}
		if err := batch.Index(name, gameDoc(name)); err != nil {
			_ = index.Close()
			return fmt.Errorf("failed to index %q: %w", name, err)
		}
		known[name] = struct{}{}
		ordered = append(ordered, name)
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return fmt.Errorf("failed to index names: %w", err)
	}

	c.mu.Lock()
	old := c.index
	c.index, c.names, c.known = index, ordered, known
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Add indexes name. Adding a known name is a no-op.
func (c *Catalog) Add(name string) error {
	if name == "" {
		return fmt.Errorf("game name is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.known[name]; ok {
		return nil
	}
	if err := c.index.Index(name, gameDoc(name)); err != nil {
		return fmt.Errorf("failed to index %q: %w", name, err)
	}
	c.known[name] = struct{}{}
	c.names = append(c.names, name)
	return nil
}

// Names returns all names in insertion order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of names.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Suggest returns up to limit names matching query by prefix or within a small edit
// distance per word, closest first. An empty query returns all names in insertion order.
func (c *Catalog) Suggest(query string, limit int) ([]string, error) {
	query = utils.CleanName(query)
	if limit <= 0 {
		limit = 10
	}
	if query == "" {
		names := c.Names()
		if len(names) > limit {
			names = names[:limit]
		}
		return names, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	search := bleve.NewSearchRequest(buildQuery(query))
	search.Size = limit * 4
	results, err := c.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	type candidate struct {
		name  string
		dist  int
		score float64
	}
	lower := strings.ToLower(query)
	cands := make([]candidate, 0, len(results.Hits))
	for _, hit := range results.Hits {
		cands = append(cands, candidate{
			name:  hit.ID,
			dist:  EditDistance(lower, strings.ToLower(hit.ID)),
			score: hit.Score,
		})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]string, len(cands))
	for i, cd := range cands {
		out[i] = cd.name
	}
	return out, nil
}

// Close releases the index.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return nil
	}
	err := c.index.Close()
	c.index = nil
	return err
}

func gameDoc(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":  name,
		"exact": strings.ToLower(name),
	}
}

// buildQuery ORs a whole-name prefix query with one fuzzy query per word.
func buildQuery(query string) blevequery.Query {
	prefix := bleve.NewPrefixQuery(strings.ToLower(query))
	prefix.SetField("exact")
	queries := []blevequery.Query{prefix}

	for _, term := range strings.Fields(strings.ToLower(query)) {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("name")
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}
