// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/errs"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// DefaultDims is the dimensionality of every narrative embedding.
const DefaultDims = 768

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
	Name() string
}

// --- Ollama Provider ---

// OllamaEmbedder uses an Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text (768 dims).
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims == 0 {
		dims = DefaultDims
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "ollama request failed",
			goerr.V(errs.ProviderKey, e.Name()), goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "ollama error",
			goerr.V("status", resp.StatusCode), goerr.V("body", string(b)))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "decode ollama response", goerr.V("cause", err.Error()))
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int    { return e.dims }
func (e *OllamaEmbedder) Name() string { return "ollama/" + e.model }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API. The requested
// dimensionality is forwarded so text-embedding-3 models return 768-length vectors.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = DefaultDims
	}
	return &OpenAIEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(openaiEmbedRequest{Input: text, Model: e.model, Dimensions: e.dims})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "build openai request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "openai request failed",
			goerr.V(errs.ProviderKey, e.Name()), goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "openai error",
			goerr.V("status", resp.StatusCode), goerr.V("body", string(b)))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "decode openai response", goerr.V("cause", err.Error()))
	}
	if len(result.Data) == 0 {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int    { return e.dims }
func (e *OpenAIEmbedder) Name() string { return "openai/" + e.model }

// --- Factory ---

// New constructs an Embedder by provider name: "mock" (default), "ollama" or "openai".
func New(provider, model, baseURL, apiKey string, dims int) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "mock", "hash":
		return NewHashEmbedder(dims), nil
	case "ollama":
		return NewOllamaEmbedder(baseURL, model, dims), nil
	case "openai":
		if apiKey == "" && baseURL == "" {
			return nil, goerr.Wrap(errs.ErrInvalidInput, "OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(baseURL, apiKey, model, dims), nil
	default:
		return nil, goerr.Wrap(errs.ErrInvalidInput, "unknown embedding provider (available: mock, ollama, openai)",
			goerr.V(errs.ProviderKey, provider))
	}
}
