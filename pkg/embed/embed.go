// Package embed implements the embedding provider: pluggable
// text-to-vector clients (Ollama, OpenAI) for the chunk coordinator.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider generates vector embeddings from text. Implementations must be
// safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider   string // ollama, openai
	APIURL     string
	APIPath    string
	APIKey     string // OpenAI only
	Model      string
	Dimensions int
	Timeout    time.Duration
}

func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   "ollama",
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    10 * time.Second,
	}
}

func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   "openai",
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    10 * time.Second,
	}
}

// Ollama implements Provider against a local Ollama server.
type Ollama struct {
	config *Config
	client *http.Client
}

func NewOllama(config *Config) *Ollama {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &Ollama{config: config, client: &http.Client{Timeout: config.Timeout}}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.APIURL+e.config.APIPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Embedding, nil
}

func (e *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

func (e *Ollama) Dimensions() int { return e.config.Dimensions }
func (e *Ollama) Model() string   { return e.config.Model }

// OpenAI implements Provider against OpenAI's embeddings API (or any
// API-compatible endpoint, e.g. Azure OpenAI, by overriding APIURL/APIPath).
type OpenAI struct {
	config *Config
	client *http.Client
}

func NewOpenAI(config *Config) *OpenAI {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	return &OpenAI{config: config, client: &http.Client{Timeout: config.Timeout}}
}

type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openaiResponse struct {
	Data []openaiEmbeddingData `json:"data"`
}

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return out[0], nil
}

func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.APIURL+e.config.APIPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned %d: %s", resp.StatusCode, string(b))
	}

	var out openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	results := make([][]float32, len(out.Data))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(results) {
			results[d.Index] = d.Embedding
		}
	}
	return results, nil
}

func (e *OpenAI) Dimensions() int { return e.config.Dimensions }
func (e *OpenAI) Model() string   { return e.config.Model }

// NewFromConfig constructs the Provider named by cfg.Provider ("ollama" or
// "openai"). Returns nil, false for an unrecognized provider name.
func NewFromConfig(cfg *Config) (Provider, bool) {
	if cfg == nil {
		return nil, false
	}
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), true
	case "openai":
		return NewOpenAI(cfg), true
	default:
		return nil, false
	}
}
