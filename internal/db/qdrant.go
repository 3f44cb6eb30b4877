package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docsync/internal/models"
)

// QdrantClient wraps HTTP calls to the Qdrant REST API. A hand-rolled client
// keeps the dependency surface small and the error taxonomy under our control.
type QdrantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// QdrantConfig holds configuration for the Qdrant connection.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantPoint is one vector with its payload.
type QdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// QdrantScoredPoint is one search hit.
type QdrantScoredPoint struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// QdrantFilter is a payload filter in Qdrant's must/match form.
type QdrantFilter struct {
	Must []QdrantCondition `json:"must,omitempty"`
}

// QdrantCondition matches one payload field against an exact value.
type QdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value any `json:"value"`
	} `json:"match"`
}

// MatchCondition builds an exact-match condition for a payload field.
func MatchCondition(key string, value any) QdrantCondition {
	var c QdrantCondition
	c.Key = key
	c.Match.Value = value
	return c
}

// upsertBatchSize bounds one upsert request; larger sets are chunked.
const upsertBatchSize = 100

// NewQdrantClient creates a Qdrant REST client.
func NewQdrantClient(config QdrantConfig) *QdrantClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &QdrantClient{
		baseURL:    config.URL,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// qdrantResponse is the common envelope Qdrant wraps every reply in.
type qdrantResponse struct {
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (c *QdrantClient) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, models.NewAppError(models.ErrInternal, "failed to marshal qdrant request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, models.NewAppError(models.ErrInternal, "failed to create qdrant request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewAppError(models.ErrTimeout, "qdrant request timed out", err)
		}
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "qdrant unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.Errorf(models.ErrNotFound, "qdrant: %s %s not found", method, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.Errorf(models.ErrRateLimited, "qdrant rate limited: %s", string(raw))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, models.Errorf(models.ErrValidation, "qdrant rejected request (status %d): %s", resp.StatusCode, string(raw))
	case resp.StatusCode >= 500:
		return nil, models.Errorf(models.ErrDependencyUnavailable, "qdrant error (status %d): %s", resp.StatusCode, string(raw))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, models.Errorf(models.ErrInternal, "qdrant unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope qdrantResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode qdrant response", err)
	}
	return envelope.Result, nil
}

// Ping checks Qdrant liveness via the root endpoint.
func (c *QdrantClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewAppError(models.ErrDependencyUnavailable, "qdrant unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Errorf(models.ErrDependencyUnavailable, "qdrant health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// CollectionInfo describes an existing collection's vector config and size.
type CollectionInfo struct {
	VectorSize  int
	Distance    string
	PointsCount int64
}

// GetCollectionInfo fetches the vector parameters of a collection.
func (c *QdrantClient) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	result, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode collection info", err)
	}
	return &CollectionInfo{
		VectorSize:  parsed.Config.Params.Vectors.Size,
		Distance:    parsed.Config.Params.Vectors.Distance,
		PointsCount: parsed.PointsCount,
	}, nil
}

// EnsureCollection creates the collection if missing and verifies the vector
// size if it already exists. A size mismatch is fatal: re-embedding the world
// into a differently-sized collection silently corrupts search.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	info, err := c.GetCollectionInfo(ctx, name)
	if err == nil {
		if info.VectorSize != vectorSize {
			return models.Errorf(models.ErrIntegrity,
				"qdrant collection %s has vector size %d, configured size is %d", name, info.VectorSize, vectorSize)
		}
		return nil
	}
	if !models.IsNotFound(err) {
		return err
	}

	payload := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	_, err = c.do(ctx, http.MethodPut, "/collections/"+name, payload)
	return err
}

// DropCollection removes a collection and all its points.
func (c *QdrantClient) DropCollection(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/collections/"+name, nil)
	if models.IsNotFound(err) {
		return nil
	}
	return err
}

// UpsertPoints writes points in batches, waiting for each batch to be applied
// before sending the next so the store never acknowledges unflushed writes.
func (c *QdrantClient) UpsertPoints(ctx context.Context, collection string, points []QdrantPoint) error {
	for len(points) > 0 {
		batch := points
		if len(batch) > upsertBatchSize {
			batch = points[:upsertBatchSize]
		}
		points = points[len(batch):]

		payload := map[string]any{"points": batch}
		path := fmt.Sprintf("/collections/%s/points?wait=true&ordering=medium", collection)
		if _, err := c.do(ctx, http.MethodPut, path, payload); err != nil {
			return err
		}
	}
	return nil
}

// DeletePoints removes points by id, waiting for the deletion to be applied.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string]any{"points": ids}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	_, err := c.do(ctx, http.MethodPost, path, payload)
	if models.IsNotFound(err) {
		// Collection already gone; nothing left to delete.
		return nil
	}
	return err
}

// DeletePointsByFilter removes every point matching a payload filter.
func (c *QdrantClient) DeletePointsByFilter(ctx context.Context, collection string, filter QdrantFilter) error {
	payload := map[string]any{"filter": filter}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	_, err := c.do(ctx, http.MethodPost, path, payload)
	if models.IsNotFound(err) {
		return nil
	}
	return err
}

// CountPoints counts points matching an optional filter.
func (c *QdrantClient) CountPoints(ctx context.Context, collection string, filter *QdrantFilter) (int64, error) {
	payload := map[string]any{"exact": true}
	if filter != nil {
		payload["filter"] = filter
	}
	result, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", payload)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode count response", err)
	}
	return parsed.Count, nil
}

// Search runs a vector similarity query with an optional payload filter and
// returns hits with payloads, ordered by score.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter *QdrantFilter) ([]QdrantScoredPoint, error) {
	payload := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		payload["filter"] = filter
	}
	result, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", payload)
	if err != nil {
		return nil, err
	}
	var hits []QdrantScoredPoint
	if err := json.Unmarshal(result, &hits); err != nil {
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode search response", err)
	}
	return hits, nil
}

// RetrievePoints fetches points by id with their payloads.
func (c *QdrantClient) RetrievePoints(ctx context.Context, collection string, ids []string) ([]QdrantPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	payload := map[string]any{
		"ids":          ids,
		"with_payload": true,
	}
	result, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", payload)
	if err != nil {
		return nil, err
	}
	var points []QdrantPoint
	if err := json.Unmarshal(result, &points); err != nil {
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode retrieve response", err)
	}
	return points, nil
}

// Close releases idle HTTP connections.
func (c *QdrantClient) Close() {
	c.httpClient.CloseIdleConnections()
}
