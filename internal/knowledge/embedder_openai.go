package knowledge

import (
	"context"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/knowhub/search-go/internal/errors"
)

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    sync.Mutex
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
// APIKey为空时返回NoopEmbedder，索引走纯词法降级路径
func NewOpenAIEmbedder(apiKey, model string, dimensions int) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	client := openai.NewClient(apiKey)
	if dimensions <= 0 {
		dims, ok := embeddingDimensions[model]
		if !ok {
			dims = 1536
		}
		dimensions = dims
	}

	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("text is empty")
	}
	if e.client == nil {
		return nil, apperrors.NewEmbeddingUnavailableError(nil)
	}

	e.limiter.Lock()
	defer e.limiter.Unlock()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError(err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.NewEmbeddingUnavailableError(nil)
	}

	embedding := resp.Data[0].Embedding
	result := make([]float32, len(embedding))
	copy(result, embedding)
	return NormalizeL2(result), nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
