package cache

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/zeebo/blake3"
)

// KeyPrefix namespaces search result entries.
const KeyPrefix = "search:result:"

// NormalizeQuery trims, lower-cases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Key returns the cache key of a normalized request. It fingerprints the
// source type, normalized query, topK, rerank flag and the sorted filters.
func Key(req retrieval.SearchRequest) string {
	var b strings.Builder
	b.WriteString(string(req.SourceType))
	b.WriteByte('|')
	b.WriteString(NormalizeQuery(req.Query))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.TopK))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(req.EnableRerank))
	b.WriteByte('|')
	b.WriteString(filterString(req.Filters))
	if req.VectorWeight != nil || req.KeywordWeight != nil {
		fmt.Fprintf(&b, "|w=%s,%s", weight(req.KeywordWeight), weight(req.VectorWeight))
	}
	sum := blake3.Sum256([]byte(b.String()))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func filterString(filters map[string]any) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + valueString(filters[k])
	}
	return strings.Join(parts, "&")
}

// valueString renders a filter value. List values are order-insensitive.
func valueString(v any) string {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Sprint(v)
	}
	items := make([]string, rv.Len())
	for i := range items {
		items[i] = fmt.Sprint(rv.Index(i).Interface())
	}
	sort.Strings(items)
	return strings.Join(items, ",")
}

func weight(w *float64) string {
	if w == nil {
		return "-"
	}
	return strconv.FormatFloat(*w, 'g', -1, 64)
}
