package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	apperrors "github.com/knowhub/search-go/internal/errors"
)

// Embedder 定义文本向量化接口
// 实现必须在返回前对向量做L2归一化，余弦相似度退化为点积
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现，所有调用返回EmbeddingUnavailable
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, apperrors.NewEmbeddingUnavailableError(nil)
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

// LocalEmbedder 本地确定性向量化实现
// 将词袋n-gram哈希到固定维度，相同文本必然产生相同向量
// 用于离线环境、测试和embedding服务不可用时的回填前兜底
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder 创建本地向量化器
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &LocalEmbedder{dimensions: dimensions}
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, apperrors.NewValidationError("text is empty")
	}

	vec := make([]float32, e.dimensions)
	terms := strings.Fields(text)
	for _, term := range terms {
		addFeature(vec, term, 1.0)
		// 字符bigram捕捉韩语音节组合
		runes := []rune(term)
		for i := 0; i+1 < len(runes); i++ {
			addFeature(vec, string(runes[i:i+2]), 0.5)
		}
	}

	return NormalizeL2(vec), nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) Ready() bool {
	return true
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// 用哈希的符号位让特征正负分布，避免向量全正导致相似度虚高
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// NormalizeL2 L2归一化，零向量原样返回
func NormalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Dot 单位向量点积，即余弦相似度
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
