// Package memory stores narrative moments as embedding vectors so past
// events can be recalled into a turn's generation context. Recall is an
// enrichment: every failure here degrades to "no memories", never to a
// failed turn.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"storyforge/server/internal/config"
	"storyforge/server/internal/engine"
)

const (
	defaultCollection = "story_moments"
	defaultVectorSize = 1536 // text-embedding-3-small
	scoreThreshold    = 0.7
)

// Store persists and recalls narrative moments in a qdrant collection.
type Store struct {
	client     *qdrant.Client
	embedder   engine.Embedder
	collection string
	vectorSize uint64
}

// NewStore connects to qdrant and ensures the collection exists.
func NewStore(ctx context.Context, cfg config.QdrantConfig, embedder engine.Embedder) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	size := uint64(cfg.VectorSize)
	if size == 0 {
		size = defaultVectorSize
	}

	s := &Store{
		client:     client,
		embedder:   embedder,
		collection: collection,
		vectorSize: size,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Remember embeds a moment and upserts it scoped to the session.
func (s *Store) Remember(ctx context.Context, sessionID, kind, content string) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed moment: %w", err)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"session_id": sessionID,
				"kind":       kind,
				"content":    content,
				"stored_at":  time.Now().UTC().Unix(),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert moment: %w", err)
	}
	return nil
}

// Recall returns past moments of the session most similar to query,
// best match first.
func (s *Store) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("session_id", sessionID),
			},
		},
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(scoreThreshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query moments: %w", err)
	}

	moments := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.Payload["content"]; ok {
			if text := v.GetStringValue(); text != "" {
				moments = append(moments, text)
			}
		}
	}
	return moments, nil
}

// Close releases the qdrant connection.
func (s *Store) Close() error {
	return s.client.Close()
}
