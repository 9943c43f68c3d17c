package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"dgchat/internal/document"
	"dgchat/internal/index"
	"dgchat/internal/vector"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

var objectNamespace = uuid.MustParse("6f1c2e0a-3b5d-4c8e-9a27-d41f08b7e6c3")

// ObjectID derives a stable Weaviate id for a chunk, so re-ingesting the same
// chunk overwrites instead of duplicating it.
func ObjectID(c document.Chunk) strfmt.UUID {
	key := c.Metadata.SourceID + "#" + strconv.Itoa(c.Metadata.SequenceIndex) + "#" + c.Content
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(key)).String())
}

type Options struct {
	BatchSize int
	FetchK    int
	Lambda    float64
}

type Store struct {
	client   *weaviate.Client
	schema   vector.SchemaClient
	embedder index.Embedder
	opts     Options

	writeMu sync.Mutex
}

func NewStore(client *weaviate.Client, e index.Embedder, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = index.DefaultBatchSize
	}
	if opts.FetchK <= 0 {
		opts.FetchK = index.DefaultFetchK
	}
	if opts.Lambda < 0 || opts.Lambda > 1 {
		opts.Lambda = index.DefaultLambda
	}
	return &Store{
		client:   client,
		schema:   vector.NewWeaviateClientAdapter(client),
		embedder: e,
		opts:     opts,
	}
}

// Init ensures the class exists and seeds the sentinel chunk into an empty
// class.
func (s *Store) Init(ctx context.Context) error {
	if err := vector.EnsureSchema(ctx, s.schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	n, err := s.Len(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.InfoContext(ctx, "weaviate index ready", "class", vector.ClassName, "objects", n)
		return nil
	}

	slog.InfoContext(ctx, "weaviate class empty, seeding sentinel", "class", vector.ClassName)
	return s.Add(ctx, []document.Chunk{document.SentinelChunk()})
}

// Len counts the objects in the chunk class.
func (s *Store) Len(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	data, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := data[vector.ClassName].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Add embeds every batch before importing anything, then imports all objects
// in one batch request. Objects a failed import created are deleted again;
// objects that already existed under the same id are left in place.
func (s *Store) Add(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return index.ErrNoChunks
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	objects := make([]*models.Object, 0, len(chunks))
	dim := 0
	for start, n := 0, 1; start < len(chunks); start, n = start+s.opts.BatchSize, n+1 {
		batch := chunks[start:min(start+s.opts.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}

		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", n, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed batch %d: got %d vectors for %d chunks", n, len(vecs), len(batch))
		}
		for j, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return fmt.Errorf("embed batch %d: %w (got %d, want %d)", n, index.ErrDimensionMismatch, len(v), dim)
			}
			obj, err := toObject(batch[j], v)
			if err != nil {
				return err
			}
			objects = append(objects, obj)
		}
	}

	created, err := s.missing(ctx, objects)
	if err != nil {
		return fmt.Errorf("check existing objects: %w", err)
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err == nil {
		err = batchError(resp)
	}
	if err != nil {
		s.rollback(ctx, created)
		return fmt.Errorf("import objects: %w", err)
	}

	slog.InfoContext(ctx, "chunks added to weaviate", "class", vector.ClassName, "added", len(objects))
	return nil
}

// missing returns the objects whose ids are not in the class yet.
func (s *Store) missing(ctx context.Context, objects []*models.Object) ([]*models.Object, error) {
	seen := make(map[strfmt.UUID]bool, len(objects))
	out := make([]*models.Object, 0, len(objects))
	for _, obj := range objects {
		if seen[obj.ID] {
			continue
		}
		seen[obj.ID] = true

		exists, err := s.client.Data().Checker().
			WithClassName(vector.ClassName).
			WithID(obj.ID.String()).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *Store) rollback(ctx context.Context, objects []*models.Object) {
	for _, obj := range objects {
		err := s.client.Data().Deleter().
			WithClassName(vector.ClassName).
			WithID(obj.ID.String()).
			Do(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to roll back weaviate object", "id", obj.ID, "error", err)
		}
	}
}

func batchError(resp []models.ObjectsGetResponse) error {
	var errs []error
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			errs = append(errs, fmt.Errorf("object %s: %s", r.ID, e.Message))
		}
	}
	return errors.Join(errs...)
}

func toObject(c document.Chunk, v []float32) (*models.Object, error) {
	extra := ""
	if len(c.Metadata.Extra) > 0 {
		raw, err := json.Marshal(c.Metadata.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		extra = string(raw)
	}
	return &models.Object{
		Class: vector.ClassName,
		ID:    ObjectID(c),
		Properties: map[string]interface{}{
			"content":       c.Content,
			"sourceId":      c.Metadata.SourceID,
			"sequenceIndex": c.Metadata.SequenceIndex,
			"page":          c.Metadata.Page,
			"filename":      c.Metadata.Filename,
			"extra":         extra,
		},
		Vector: v,
	}, nil
}

func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	cands, err := s.nearest(ctx, qv, k)
	if err != nil {
		return nil, err
	}
	hits := make([]index.Hit, len(cands))
	for i, c := range cands {
		hits[i] = c.Hit
	}
	return hits, nil
}

// DiversitySearch fetches the FetchK nearest objects with their vectors and
// selects k of them with maximal marginal relevance.
func (s *Store) DiversitySearch(ctx context.Context, query string, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	cands, err := s.nearest(ctx, qv, max(s.opts.FetchK, k))
	if err != nil {
		return nil, err
	}
	return index.SelectMMR(qv, cands, k, s.opts.Lambda), nil
}

func (s *Store) nearest(ctx context.Context, qv []float32, limit int) ([]index.Candidate, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(qv)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceId"},
		{Name: "sequenceIndex"},
		{Name: "page"},
		{Name: "filename"},
		{Name: "extra"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "vector"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var cands []index.Candidate
	data, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := data[vector.ClassName].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		c := index.Candidate{Hit: index.Hit{Chunk: toChunk(ctx, props)}}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				c.Hit.Score = 1 - d
			}
			if raw, ok := additional["vector"].([]interface{}); ok {
				c.Vector = make([]float32, 0, len(raw))
				for _, x := range raw {
					f, _ := x.(float64)
					c.Vector = append(c.Vector, float32(f))
				}
			}
		}
		cands = append(cands, c)
	}
	return cands, nil
}

func toChunk(ctx context.Context, props map[string]interface{}) document.Chunk {
	var c document.Chunk
	if v, ok := props["content"].(string); ok {
		c.Content = v
	}
	if v, ok := props["sourceId"].(string); ok {
		c.Metadata.SourceID = v
	}
	if v, ok := props["sequenceIndex"].(float64); ok {
		c.Metadata.SequenceIndex = int(v)
	}
	if v, ok := props["page"].(float64); ok {
		c.Metadata.Page = int(v)
	}
	if v, ok := props["filename"].(string); ok {
		c.Metadata.Filename = v
	}
	if v, ok := props["extra"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &c.Metadata.Extra); err != nil {
			slog.WarnContext(ctx, "ignoring malformed chunk metadata", "source_id", c.Metadata.SourceID, "error", err)
		}
	}
	return c
}
