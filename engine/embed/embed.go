// Package embed turns text into fixed-length vectors with a pretrained
// sentence-embedding model.
package embed

import (
	"context"
	"fmt"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

const (
	// DefaultModel is all-MiniLM-L6-v2 as served by Ollama.
	DefaultModel = "all-minilm"
	// DefaultDimensions matches DefaultModel.
	DefaultDimensions = 384
)

// Embedder maps text to a vector. The same text under the same model always
// yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the configured vector length.
	Dimensions() int
	Model() string
}

// OllamaAPI is the subset of the Ollama client used for embeddings.
type OllamaAPI interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Ollama embeds text with an Ollama-served model.
type Ollama struct {
	api   OllamaAPI
	model string
	dims  int
}

var _ Embedder = (*Ollama)(nil)

// NewOllama creates an embedder for model. dims is the dimension the model is
// expected to produce and is reported by Dimensions.
func NewOllama(api OllamaAPI, model string, dims int) *Ollama {
	if model == "" {
		model = DefaultModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Ollama{api: api, model: model, dims: dims}
}

func (o *Ollama) Dimensions() int { return o.dims }
func (o *Ollama) Model() string   { return o.model }

// Embed implements Embedder.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := o.api.Embed(ctx, o.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", domain.ErrInference, err)
	}
	return vec, nil
}
