package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadContentField and payloadIDField mirror the teacher's
// qdrantVector's "_original_id" convention: Qdrant only allows UUID or
// positive-integer point IDs, so content goes in the payload and a
// deterministic UUID keys the point.
const (
	payloadContentField = "_content"
	payloadIDField       = "_original_id"
)

// QdrantStore is the Vector Store Adapter backed by Qdrant, grounded on the
// teacher's internal/persistence/databases/qdrant_vector.go.
type QdrantStore struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	metric     string
}

// NewQdrantStore dials Qdrant's gRPC API (default port 6334) and ensures the
// collection exists with the embedder's dimensionality.
func NewQdrantStore(dsn, collection string, embedder Embedder, metric string) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	qs := &QdrantStore{
		client:     client,
		embedder:   embedder,
		collection: collection,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := qs.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return qs, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	dim := q.embedder.Dimension()
	if dim <= 0 {
		return fmt.Errorf("embedder dimension must be > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: distance,
		}),
	})
}

// AddTexts embeds and upserts each chunk, storing its own text in the
// payload alongside caller-supplied metadata.
func (q *QdrantStore) AddTexts(ctx context.Context, chunks []string, metadata map[string]string) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := q.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk)).String()
		payload := map[string]any{payloadContentField: chunk, payloadIDField: id}
		for k, v := range metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// SimilaritySearch embeds the query and returns the top-k nearest documents.
func (q *QdrantStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = 3
	}
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	docs := make([]Document, 0, len(hits))
	for _, hit := range hits {
		content := ""
		metadata := map[string]string{}
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadContentField {
					content = v.GetStringValue()
					continue
				}
				if k == payloadIDField {
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		docs = append(docs, Document{Content: content, Metadata: metadata})
	}
	return docs, nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantStore) Close() error { return q.client.Close() }
