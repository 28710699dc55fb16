package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/cloo-solutions/recall/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel      = openai.AdaEmbeddingV2
	DefaultEmbeddingDimensions = domain.DefaultEmbeddingDimensions
)

// ErrNoAPIKey is returned by NewClientFromEnv when OPENAI_API_KEY is unset
var ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// EmbeddingAPI is the raw provider call. Client layers validation and error
// classification on top of it.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	// EmbeddingModel defaults to text-embedding-ada-002
	EmbeddingModel openai.EmbeddingModel
	// EmbeddingDimensions is the width every vector must have. Models that
	// support shortening are asked for exactly this width.
	EmbeddingDimensions int
	HTTPClient          *http.Client
}

// Client turns text into vectors of a fixed width and classifies provider
// failures into rejected input and unavailable provider.
type Client struct {
	api        EmbeddingAPI
	dimensions int
}

// NewClientWithConfig talks to the OpenAI embeddings endpoint.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		sdkCfg.HTTPClient = cfg.HTTPClient
	}

	api := &sdkEmbedder{
		client: openai.NewClientWithConfig(sdkCfg),
		model:  cfg.EmbeddingModel,
	}
	if supportsDimensions(cfg.EmbeddingModel) {
		api.dimensions = cfg.EmbeddingDimensions
	}
	return NewClientWithAPI(api, cfg.EmbeddingDimensions)
}

// NewClientWithAPI wraps any EmbeddingAPI implementation.
func NewClientWithAPI(api EmbeddingAPI, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, dimensions: dimensions}
}

// NewClientFromEnv reads OPENAI_API_KEY and, when set, OPENAI_BASE_URL.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClientWithConfig(Config{APIKey: apiKey, BaseURL: os.Getenv("OPENAI_BASE_URL")}), nil
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding embeds one piece of text.
// Errors carry domain.ErrProviderRejected, domain.ErrProviderUnavailable or
// domain.ErrInvalidDimension. Caller cancellation is returned unchanged.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrProviderRejected.WithCause(errors.New("text cannot be empty"))
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	switch {
	case err != nil:
		return nil, classifyError(err)
	case len(embedding) == 0:
		return nil, domain.ErrProviderUnavailable.WithCause(errors.New("no embedding data returned"))
	case len(embedding) != c.dimensions:
		return nil, domain.ErrInvalidDimension.WithCause(
			fmt.Errorf("provider returned %d dimensions, expected %d", len(embedding), c.dimensions))
	}
	return embedding, nil
}

type sdkEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func (e *sdkEmbedder) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      e.model,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return resp.Data[0].Embedding, nil
}

// supportsDimensions reports whether the model accepts a requested width.
// ada-002 rejects the parameter.
func supportsDimensions(model openai.EmbeddingModel) bool {
	return strings.HasPrefix(string(model), "text-embedding-3")
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return domain.ErrProviderUnavailable.WithCause(err)
}

// classifyStatus treats malformed or oversized input as permanent. Everything
// else, including auth failures and rate limits, aborts the caller instead of
// silently skipping content.
func classifyStatus(status int, err error) error {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return domain.ErrProviderRejected.WithCause(err)
	default:
		return domain.ErrProviderUnavailable.WithCause(err)
	}
}
