package models

// SearchMode 检索模式
type SearchMode string

const (
	ModeLexical SearchMode = "lexical"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
)

// SearchFilters 结构化过滤条件，过滤在打分前生效
type SearchFilters struct {
	CategoryIDs  []string `json:"category_ids,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

// Empty 判断是否没有任何过滤条件
func (f SearchFilters) Empty() bool {
	return len(f.CategoryIDs) == 0 && len(f.Tags) == 0 && len(f.ContentTypes) == 0
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query    string        `json:"query"`
	Language Language      `json:"language" validate:"required"`
	Mode     SearchMode    `json:"mode,omitempty"`
	Filters  SearchFilters `json:"filters"`
	Page     int           `json:"page" validate:"min=1"`
	PageSize int           `json:"page_size" validate:"min=1,max=100"`
}

// SearchHit 单条检索结果
type SearchHit struct {
	DocumentID   string  `json:"document_id"`
	FusedScore   float64 `json:"fused_score"`
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
	Snippet      string  `json:"snippet,omitempty"`
}

// FacetCount 单个facet值的计数
type FacetCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Facets 类目、标签与内容类型的聚合计数，基于过滤后、分页前的候选集
type Facets struct {
	Categories   []FacetCount `json:"categories"`
	Tags         []FacetCount `json:"tags"`
	ContentTypes []FacetCount `json:"content_types"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Results      []SearchHit `json:"results"`
	TotalMatched int         `json:"total_matched"`
	Facets       Facets      `json:"facets"`
}
