// Package caption turns image files into short natural-language captions
// using a vision-language model.
package caption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/ollama"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the Ollama vision model used for captioning.
	DefaultModel = "llava"
	// DefaultMaxTokens bounds the generated caption length.
	DefaultMaxTokens = 50
	// DefaultPrompt asks for a single short caption sentence.
	DefaultPrompt = "Write one short sentence that describes this image. Reply with the caption only."
)

// Captioner turns an image file into a caption. Implementations never return
// an empty caption together with a nil error.
type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
	Model() string
}

// Generator is the subset of the Ollama client used for captioning.
type Generator interface {
	Generate(ctx context.Context, in ollama.GenerateRequest) (string, error)
}

// Options configures an Ollama captioner.
type Options struct {
	Model     string
	Prompt    string
	MaxTokens int
	// RequestsPerSecond throttles model calls; zero means unlimited.
	RequestsPerSecond float64
}

// DefaultOptions returns the defaults for captioning.
func DefaultOptions() Options {
	return Options{
		Model:     DefaultModel,
		Prompt:    DefaultPrompt,
		MaxTokens: DefaultMaxTokens,
	}
}

// Ollama captions images with an Ollama-served vision model.
type Ollama struct {
	gen     Generator
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Captioner = (*Ollama)(nil)

// NewOllama creates a captioner backed by gen.
func NewOllama(gen Generator, opts Options, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.Prompt == "" {
		opts.Prompt = def.Prompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Ollama{
		gen:     gen,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Model returns the vision model name.
func (o *Ollama) Model() string { return o.opts.Model }

// Caption decodes path, sends it to the model and returns the trimmed caption.
func (o *Ollama) Caption(ctx context.Context, path string) (string, error) {
	img, err := LoadJPEG(path)
	if err != nil {
		return "", err
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("caption: %s: %w", path, err)
	}

	out, err := o.gen.Generate(ctx, ollama.GenerateRequest{
		Model:     o.opts.Model,
		Prompt:    o.opts.Prompt,
		Images:    [][]byte{img},
		MaxTokens: o.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: caption %s: %w", domain.ErrInference, path, err)
	}

	text := Clean(out)
	if text == "" {
		return "", fmt.Errorf("%w: caption %s: %w", domain.ErrInference, path, domain.ErrEmptyCaption)
	}
	o.logger.Debug("caption generated", "path", path, "model", o.opts.Model, "len", len(text))
	return text, nil
}

// Clean normalises model output into a single-line caption.
func Clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(strings.Trim(s, `"'`))
}
