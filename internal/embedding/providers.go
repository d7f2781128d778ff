package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/treering/internal/model"
)

// --- Ollama Provider ---

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// ollamaDims lists the widths of the common local embedding models.
var ollamaDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// OllamaEmbedder embeds through a local Ollama server.
type OllamaEmbedder struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewOllamaEmbedder returns an embedder for model on the Ollama server at
// baseURL. Models not in ollamaDims report 768 dimensions.
func NewOllamaEmbedder(baseURL, modelName string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if modelName == "" {
		modelName = defaultOllamaModel
	}
	dims, ok := ollamaDims[modelName]
	if !ok {
		dims = ollamaDims[defaultOllamaModel]
	}
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embeddings",
		model:    modelName,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	payload, err := json.Marshal(struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{e.model, text})
	if err != nil {
		return nil, model.EmbeddingErr("encode ollama request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, model.EmbeddingErr("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, model.EmbeddingErr("call ollama "+e.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, model.EmbeddingErr(fmt.Sprintf("ollama %s returned %d: %s",
			e.model, resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out struct {
		Embedding Vector `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, model.EmbeddingErr("decode ollama response", err)
	}
	if len(out.Embedding) == 0 {
		return nil, model.EmbeddingErr("ollama "+e.model+" returned no embedding", nil)
	}
	return out.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses the OpenAI embeddings API (or any compatible server).
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// ParseOpenAIModel maps a model name onto the embedding models go-openai
// knows. An empty name selects text-embedding-ada-002.
func ParseOpenAIModel(name string) (openai.EmbeddingModel, error) {
	if name == "" {
		return openai.AdaEmbeddingV2, nil
	}
	var m openai.EmbeddingModel
	if err := m.UnmarshalText([]byte(name)); err != nil || m == openai.Unknown {
		return openai.Unknown, model.EmbeddingErr(fmt.Sprintf("unknown openai embedding model %q", name), err)
	}
	return m, nil
}

// NewOpenAIEmbedder creates an embedder backed by go-openai.
func NewOpenAIEmbedder(baseURL, apiKey, modelName string, dims int) (*OpenAIEmbedder, error) {
	m, err := ParseOpenAIModel(modelName)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  m,
		dims:   dims,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, model.EmbeddingErr("call openai "+e.model.String(), err)
	}
	if len(resp.Data) == 0 {
		return nil, model.EmbeddingErr("openai "+e.model.String()+" returned no embedding", nil)
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// --- Hashing Provider ---

// HashingEmbedder maps text to a bag-of-words vector with the hashing trick.
// It needs no model or network and is deterministic across processes, which
// makes it suitable for offline use and tests. Similarity reflects shared
// vocabulary, not meaning.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder returns a hashing embedder of the given width (default 1536).
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 1536
	}
	return &HashingEmbedder{dims: dims}
}

func (e *HashingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[idx] += sign
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v, nil
}

func (e *HashingEmbedder) Dims() int { return e.dims }

// --- Factory ---

// Config selects and configures a provider.
type Config struct {
	Provider string // "openai" | "ollama" | "hashing"
	Model    string
	BaseURL  string
	APIKey   string
	Dims     int
}

// New builds the configured provider wrapped with validation. An empty or
// unknown provider is an error; there is no silent fallback.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return Checked(NewOllamaEmbedder(cfg.BaseURL, cfg.Model)), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, model.EmbeddingErr("openai provider needs an API key", nil)
		}
		e, err := NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims)
		if err != nil {
			return nil, err
		}
		return Checked(e), nil
	case "hashing":
		return Checked(NewHashingEmbedder(cfg.Dims)), nil
	case "":
		return nil, model.EmbeddingErr("no embedding provider configured", nil)
	default:
		return nil, model.EmbeddingErr(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}
