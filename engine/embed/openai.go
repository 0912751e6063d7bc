package embed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/WessleyAI/mindpalace/engine/domain"
	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel supports truncated output dimensions, so it can be
// configured to emit DefaultDimensions-length vectors.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	oac   *oagc.Client
	model string
	dims  int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder. A nil httpClient uses
// http.DefaultClient. Extra request options are applied after the defaults.
func NewOpenAI(apiKey, model string, dims int, httpClient *http.Client, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}, opts...)
	return &OpenAI{
		oac:   oagc.NewClient(reqOpts...),
		model: model,
		dims:  dims,
	}
}

func (o *OpenAI) Dimensions() int { return o.dims }
func (o *OpenAI) Model() string   { return o.model }

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := oagc.EmbeddingNewParams{
		Input:      oagc.F(oagc.EmbeddingNewParamsInputUnion(oagc.EmbeddingNewParamsInputArrayOfStrings{text})),
		Model:      oagc.F(oagc.EmbeddingModel(o.model)),
		Dimensions: oagc.Int(int64(o.dims)),
	}
	resp, err := o.oac.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai embed: %w", domain.ErrInference, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai embed: no data", domain.ErrInference)
	}
	if resp.Data[0].Object != oagc.EmbeddingObjectEmbedding {
		return nil, fmt.Errorf("%w: openai embed: unexpected object type %q", domain.ErrInference, resp.Data[0].Object)
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
