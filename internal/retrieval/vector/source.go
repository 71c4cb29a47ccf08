// Package vector is the MongoDB Atlas $vectorSearch retrieval source.
package vector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/syntrixbase/searchsync/internal/retrieval"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config configures the vector collection.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	// IndexName is the Atlas vector search index over Path.
	IndexName string `yaml:"index_name"`
	Path      string `yaml:"path"`
	// NumCandidates is the ANN candidate pool per requested result.
	NumCandidates  int           `yaml:"num_candidates"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns the default vector source configuration.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "searchsync",
		Collection:     "embeddings",
		IndexName:      "vector_index",
		Path:           "embedding",
		NumCandidates:  10,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.URI == "" {
		c.URI = d.URI
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.IndexName == "" {
		c.IndexName = d.IndexName
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.NumCandidates == 0 {
		c.NumCandidates = d.NumCandidates
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_VECTOR_URI"); val != "" {
		c.URI = val
		c.Enabled = true
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URI == "" || c.Database == "" || c.Collection == "" {
		return fmt.Errorf("vector.uri, vector.database and vector.collection are required when enabled")
	}
	if c.NumCandidates < 1 {
		return fmt.Errorf("vector.num_candidates must be positive")
	}
	return nil
}

// Aggregator is the part of *mongo.Collection the source needs.
type Aggregator interface {
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// Source runs $vectorSearch aggregations.
type Source struct {
	coll Aggregator
	cfg  Config
}

// New creates a Source over coll.
func New(coll Aggregator, cfg Config) *Source {
	cfg.ApplyDefaults()
	return &Source{coll: coll, cfg: cfg}
}

// Connect opens a client for cfg and returns the source over its collection.
// The caller disconnects the client.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *Source, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return client, New(coll, cfg), nil
}

type hit struct {
	ID      interface{}    `bson:"_id"`
	DocID   string         `bson:"doc_id"`
	Index   string         `bson:"index"`
	Title   string         `bson:"title"`
	Content string         `bson:"content"`
	Meta    map[string]any `bson:"metadata"`
	Score   float64        `bson:"score"`
}

// Search returns the req.TopK nearest documents to vec.
func (s *Source) Search(ctx context.Context, vec []float32, req retrieval.SearchRequest) ([]retrieval.SearchResult, error) {
	cur, err := s.coll.Aggregate(ctx, s.pipeline(vec, req))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cur.Close(ctx)

	var hits []hit
	if err := cur.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("failed to decode vector hits: %w", err)
	}

	results := make([]retrieval.SearchResult, 0, len(hits))
	for _, h := range hits {
		id := h.DocID
		if id == "" {
			id = fmt.Sprint(h.ID)
		}
		results = append(results, retrieval.SearchResult{
			ID:         id,
			Index:      h.Index,
			SourceType: retrieval.SourceVector,
			Title:      h.Title,
			Content:    h.Content,
			Snippet:    h.Content,
			Score:      h.Score,
			Metadata:   h.Meta,
		})
	}
	return results, nil
}

func (s *Source) pipeline(vec []float32, req retrieval.SearchRequest) mongo.Pipeline {
	search := bson.D{
		{Key: "index", Value: s.cfg.IndexName},
		{Key: "path", Value: s.cfg.Path},
		{Key: "queryVector", Value: vec},
		{Key: "numCandidates", Value: req.TopK * s.cfg.NumCandidates},
		{Key: "limit", Value: req.TopK},
	}
	if len(req.Filters) > 0 {
		filter := bson.M{}
		for k, v := range req.Filters {
			filter[k] = v
		}
		search = append(search, bson.E{Key: "filter", Value: filter})
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$project", Value: bson.D{
			{Key: s.cfg.Path, Value: 0},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
}
