package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"docsync/internal/models"
)

// OpenAIConfig configures the OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *http.Client
	logger     *log.Logger

	// dimension is observed from the first successful response; concurrent
	// batches may race to record it.
	dimension atomic.Int64
}

// NewOpenAIProvider creates an embedding provider for an OpenAI-compatible
// API.
func NewOpenAIProvider(config OpenAIConfig, logger *log.Logger) *OpenAIProvider {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.config.Model})
	if err != nil {
		return nil, models.NewAppError(models.ErrInternal, "failed to marshal embedding request", err)
	}

	url := p.config.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewAppError(models.ErrInternal, "failed to create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewAppError(models.ErrTimeout, "embedding request timed out", err)
		}
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "embedding API unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewAppError(models.ErrDependencyUnavailable, "failed to decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, models.Errorf(models.ErrDependencyUnavailable,
			"embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, models.Errorf(models.ErrDependencyUnavailable, "embedding API returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	if len(vectors) > 0 {
		p.dimension.CompareAndSwap(0, int64(len(vectors[0])))
	}

	p.logger.Printf("Embedded %d texts in %.0fms (model: %s)", len(texts), time.Since(start).Seconds()*1000, p.config.Model)
	return vectors, nil
}

// classifyStatus maps an HTTP failure onto the error taxonomy.
func (p *OpenAIProvider) classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)

	var parsed embeddingResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
		msg = parsed.Error.Message
		if parsed.Error.Code == "insufficient_quota" {
			return models.Errorf(models.ErrRateLimited, "embedding quota exceeded: %s", msg)
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.Errorf(models.ErrRateLimited, "embedding API rate limited: %s", msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return models.Errorf(models.ErrValidation, "embedding API rejected input: %s", msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Errorf(models.ErrInternal, "embedding API auth failed (status %d): %s", resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return models.Errorf(models.ErrDependencyUnavailable, "embedding API error (status %d): %s", resp.StatusCode, msg)
	default:
		return models.Errorf(models.ErrInternal, "embedding API unexpected status %d: %s", resp.StatusCode, msg)
	}
}

// Dimension returns the vector size observed from the first call, or 0.
func (p *OpenAIProvider) Dimension() int {
	return int(p.dimension.Load())
}

// Ping embeds a trivial input to verify the endpoint is reachable.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.Embed(ctx, []string{"ping"})
	return err
}

var _ Provider = (*OpenAIProvider)(nil)

// Sanity guard used at startup: a provider whose dimension disagrees with the
// configured vector size corrupts the collection.
func CheckDimension(provider Provider, want int) error {
	got := provider.Dimension()
	if got != 0 && want != 0 && got != want {
		return fmt.Errorf("embedding dimension mismatch: provider produces %d, configured vector size is %d", got, want)
	}
	return nil
}
