package searchindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

const idPageSize = 10000

var _ Index = (*Bleve)(nil)

// Bleve implements Index with one bleve index per index name.
type Bleve struct {
	cfg Config

	mu      sync.RWMutex
	indexes map[string]bleve.Index
}

// NewBleve opens the index set described by cfg.
func NewBleve(cfg Config) (*Bleve, error) {
	cfg.ApplyDefaults()
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	return &Bleve{cfg: cfg, indexes: make(map[string]bleve.Index)}, nil
}

func (b *Bleve) path(name string) string {
	return filepath.Join(b.cfg.Dir, name+".bleve")
}

// get returns an open index, opening it from disk when present.
func (b *Bleve) get(name string) (bleve.Index, error) {
	b.mu.RLock()
	idx, ok := b.indexes[name]
	b.mu.RUnlock()
	if ok {
		return idx, nil
	}
	if b.cfg.InMemory {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	idx, err := bleve.Open(b.path(name))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}
	idx.SetName(name)
	b.indexes[name] = idx
	return idx, nil
}

// getOrCreate returns the named index, creating it if needed.
func (b *Bleve) getOrCreate(name string) (bleve.Index, error) {
	idx, err := b.get(name)
	if err == nil || !errors.Is(err, ErrIndexNotFound) {
		return idx, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	if b.cfg.InMemory {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = bleve.New(b.path(name), bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	idx.SetName(name)
	b.indexes[name] = idx
	return idx, nil
}

func (b *Bleve) Bulk(ctx context.Context, index string, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.getOrCreate(index)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, op := range ops {
		switch op.Type {
		case OpDelete:
			batch.Delete(op.ID)
		default:
			if err := batch.Index(op.ID, cleanDoc(op.Doc)); err != nil {
				return fmt.Errorf("failed to add %s/%s to batch: %w", index, op.ID, err)
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("bulk write to %s failed: %w", index, err)
	}
	return nil
}

func (b *Bleve) Delete(ctx context.Context, index, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.get(index)
	if errors.Is(err, ErrIndexNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := idx.Delete(id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", index, id, err)
	}
	return nil
}

// DeleteAll drops the index. The next write recreates it empty.
func (b *Bleve) DeleteAll(ctx context.Context, index string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.get(index); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[index]; ok {
		delete(b.indexes, index)
		if err := idx.Close(); err != nil {
			return fmt.Errorf("failed to close index %s: %w", index, err)
		}
	}
	if !b.cfg.InMemory {
		if err := os.RemoveAll(b.path(index)); err != nil {
			return fmt.Errorf("failed to remove index %s: %w", index, err)
		}
	}
	return nil
}

func (b *Bleve) IDs(ctx context.Context, index string) ([]string, error) {
	idx, err := b.get(index)
	if err != nil {
		return nil, err
	}

	var ids []string
	for from := 0; ; from += idPageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), idPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list ids of %s: %w", index, err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < idPageSize {
			return ids, nil
		}
	}
}

func (b *Bleve) Search(ctx context.Context, q Query) ([]Hit, error) {
	var targets []bleve.Index
	for _, name := range q.Indexes {
		idx, err := b.get(name)
		if errors.Is(err, ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		targets = append(targets, idx)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	size := q.Size
	if size <= 0 {
		size = 10
	}
	req := bleve.NewSearchRequestOptions(b.buildQuery(q), size, 0, false)
	req.Fields = []string{"*"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(b.cfg.ContentField)

	res, err := bleve.NewIndexAlias(targets...).SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{
			Index:     h.Index,
			ID:        h.ID,
			Score:     h.Score,
			Fields:    h.Fields,
			Fragments: h.Fragments,
		})
	}
	return hits, nil
}

// buildQuery matches the text against title^3, content^2, tags and every
// other field, constrained by exact field filters.
func (b *Bleve) buildQuery(q Query) query.Query {
	boosted := func(field string, boost float64) query.Query {
		m := bleve.NewMatchQuery(q.Text)
		m.SetField(field)
		m.SetBoost(boost)
		return m
	}
	text := bleve.NewDisjunctionQuery(
		boosted(b.cfg.TitleField, 3),
		boosted(b.cfg.ContentField, 2),
		boosted(b.cfg.TagsField, 1),
		bleve.NewMatchQuery(q.Text),
	)
	if len(q.Filters) == 0 {
		return text
	}

	clauses := []query.Query{text}
	fields := make([]string, 0, len(q.Filters))
	for field := range q.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		clauses = append(clauses, filterQuery(field, q.Filters[field]))
	}
	return bleve.NewConjunctionQuery(clauses...)
}

func filterQuery(field string, value any) query.Query {
	if f, ok := toFloat(value); ok {
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
		q.SetField(field)
		return q
	}
	if v, ok := value.(bool); ok {
		q := bleve.NewBoolFieldQuery(v)
		q.SetField(field)
		return q
	}
	q := bleve.NewMatchPhraseQuery(fmt.Sprint(value))
	q.SetField(field)
	return q
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// cleanDoc drops nil values, which bleve's reflection mapping cannot index.
func cleanDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.indexes = map[string]bleve.Index{}
	return errors.Join(errs...)
}
