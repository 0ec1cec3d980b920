package knowledge

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/knowhub/search-go/internal/errors"
	"github.com/knowhub/search-go/internal/language"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/models"
)

// SearchOptions 混合检索引擎配置
// Alpha 是取值函数，支持配置热更新
type SearchOptions struct {
	Alpha          func() float64
	CandidateLimit int
	LexicalTimeout time.Duration
	VectorTimeout  time.Duration
	SuggestLimit   int
}

// HybridSearchEngine 组合词法与向量检索
// 词法通道失败是硬错误，向量通道失败降级为纯词法结果
type HybridSearchEngine struct {
	index     FulltextIndex
	vectors   VectorStore
	embedder  Embedder
	processor *language.Processor
	opts      SearchOptions
	log       *zap.Logger
}

// NewHybridSearchEngine 创建混合检索引擎
func NewHybridSearchEngine(index FulltextIndex, vectors VectorStore, embedder Embedder, processor *language.Processor, opts SearchOptions) *HybridSearchEngine {
	if opts.Alpha == nil {
		opts.Alpha = func() float64 { return 0.5 }
	}
	if opts.CandidateLimit == 0 {
		opts.CandidateLimit = 500
	}
	if opts.LexicalTimeout == 0 {
		opts.LexicalTimeout = 2 * time.Second
	}
	if opts.VectorTimeout == 0 {
		opts.VectorTimeout = 1500 * time.Millisecond
	}
	if opts.SuggestLimit == 0 {
		opts.SuggestLimit = 10
	}
	return &HybridSearchEngine{
		index:     index,
		vectors:   vectors,
		embedder:  embedder,
		processor: processor,
		opts:      opts,
		log:       logger.Named("search_engine"),
	}
}

// candidate 融合前的单文档候选
type candidate struct {
	documentID  string
	lexRaw      float64
	vecRaw      float64
	hasLex      bool
	hasVec      bool
	fused       float64
	snippet     string
	categoryID  string
	tags        []string
	contentType string
	updatedAt   time.Time
}

func (e *HybridSearchEngine) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if !req.Language.Valid() {
		return nil, errors.NewInvalidInputError("language", "must be ko or en")
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 10
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeHybrid
	}

	query := e.processor.Normalize(req.Query, req.Language)
	if query == "" {
		return e.browse(ctx, req)
	}
	tokens := e.processor.Tokenize(query, req.Language)
	if len(tokens) == 0 {
		return e.browse(ctx, req)
	}

	var (
		lexMatches []LexicalMatch
		vecMatches []VectorMatch
		vecErr     error
	)
	useVector := mode != models.ModeLexical && e.vectors != nil && e.vectors.Ready() && e.embedder != nil && e.embedder.Ready()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexCtx, cancel := context.WithTimeout(gctx, e.opts.LexicalTimeout)
		defer cancel()
		matches, err := e.index.Search(lexCtx, LexicalQuery{
			Language: req.Language,
			Tokens:   tokens,
			Filters:  req.Filters,
			Limit:    e.opts.CandidateLimit,
		})
		if err != nil {
			return errors.NewLexicalFailedError("lexical search failed", err)
		}
		lexMatches = matches
		return nil
	})
	if useVector {
		g.Go(func() error {
			vecCtx, cancel := context.WithTimeout(gctx, e.opts.VectorTimeout)
			defer cancel()
			embedding, err := e.embedder.Embed(vecCtx, query)
			if err != nil {
				vecErr = err
				return nil
			}
			matches, err := e.vectors.Search(vecCtx, VectorQuery{
				Language: req.Language,
				Vector:   embedding,
				Filters:  req.Filters,
				Limit:    e.opts.CandidateLimit,
			})
			if err != nil {
				vecErr = err
				return nil
			}
			vecMatches = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if vecErr != nil {
		// 向量通道失败不致命，降级为纯词法结果
		e.log.Warn("vector search degraded", zap.Error(vecErr))
		vecMatches = nil
	}

	vectorAlive := useVector && vecErr == nil
	wLex, wVec := e.weights(mode, vectorAlive)
	candidates := e.fuse(lexMatches, vecMatches, wLex, wVec)
	if mode == models.ModeVector && vectorAlive {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.hasVec {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	sortCandidates(candidates)

	return e.respond(candidates, req.Page, req.PageSize), nil
}

// weights 根据检索模式计算融合权重
func (e *HybridSearchEngine) weights(mode models.SearchMode, vectorAlive bool) (float64, float64) {
	if !vectorAlive {
		return 1, 0
	}
	switch mode {
	case models.ModeLexical:
		return 1, 0
	case models.ModeVector:
		return 0, 1
	default:
		alpha := e.opts.Alpha()
		if alpha < 0 || alpha > 1 {
			alpha = 0.5
		}
		return alpha, 1 - alpha
	}
}

// fuse 归一化两路分数并按权重融合，缺席的一路记0分
func (e *HybridSearchEngine) fuse(lexMatches []LexicalMatch, vecMatches []VectorMatch, wLex, wVec float64) []*candidate {
	lexRaw := make(map[string]float64, len(lexMatches))
	for _, m := range lexMatches {
		lexRaw[m.DocumentID] = m.Score
	}
	vecRaw := make(map[string]float64, len(vecMatches))
	for _, m := range vecMatches {
		vecRaw[m.DocumentID] = m.Score
	}
	lexNorm := MinMaxNormalize(lexRaw)
	vecNorm := MinMaxNormalize(vecRaw)

	byID := make(map[string]*candidate, len(lexMatches)+len(vecMatches))
	for _, m := range lexMatches {
		byID[m.DocumentID] = &candidate{
			documentID:  m.DocumentID,
			lexRaw:      m.Score,
			hasLex:      true,
			snippet:     m.Snippet,
			categoryID:  m.CategoryID,
			tags:        m.Tags,
			contentType: m.ContentType,
			updatedAt:   m.UpdatedAt,
		}
	}
	for _, m := range vecMatches {
		if existing, ok := byID[m.DocumentID]; ok {
			existing.vecRaw = m.Score
			existing.hasVec = true
			if existing.snippet == "" {
				existing.snippet = m.Snippet
			}
			continue
		}
		byID[m.DocumentID] = &candidate{
			documentID:  m.DocumentID,
			vecRaw:      m.Score,
			hasVec:      true,
			snippet:     m.Snippet,
			categoryID:  m.CategoryID,
			tags:        m.Tags,
			contentType: m.ContentType,
			updatedAt:   m.UpdatedAt,
		}
	}

	candidates := make([]*candidate, 0, len(byID))
	for id, c := range byID {
		var lex, vec float64
		if c.hasLex {
			lex = lexNorm[id]
		}
		if c.hasVec {
			vec = vecNorm[id]
		}
		c.fused = wLex*lex + wVec*vec
		candidates = append(candidates, c)
	}
	return candidates
}

// browse 空查询的浏览模式，按更新时间倒序返回过滤后的文档
func (e *HybridSearchEngine) browse(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	browseCtx, cancel := context.WithTimeout(ctx, e.opts.LexicalTimeout)
	defer cancel()
	matches, err := e.index.Recent(browseCtx, req.Language, req.Filters, e.opts.CandidateLimit)
	if err != nil {
		return nil, errors.NewLexicalFailedError("browse failed", err)
	}
	candidates := make([]*candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, &candidate{
			documentID:  m.DocumentID,
			snippet:     m.Snippet,
			categoryID:  m.CategoryID,
			tags:        m.Tags,
			contentType: m.ContentType,
			updatedAt:   m.UpdatedAt,
		})
	}
	return e.respond(candidates, req.Page, req.PageSize), nil
}

// respond 在过滤后的完整候选集上算facets，再做分页
func (e *HybridSearchEngine) respond(candidates []*candidate, page, pageSize int) *models.SearchResponse {
	resp := &models.SearchResponse{
		Results:      []models.SearchHit{},
		TotalMatched: len(candidates),
		Facets:       computeFacets(candidates),
	}

	start := (page - 1) * pageSize
	if start >= len(candidates) {
		return resp
	}
	end := start + pageSize
	if end > len(candidates) {
		end = len(candidates)
	}
	for _, c := range candidates[start:end] {
		resp.Results = append(resp.Results, models.SearchHit{
			DocumentID:   c.documentID,
			FusedScore:   c.fused,
			LexicalScore: c.lexRaw,
			VectorScore:  c.vecRaw,
			Snippet:      c.snippet,
		})
	}
	return resp
}

// Suggest 前缀补全，仅走词法索引
func (e *HybridSearchEngine) Suggest(ctx context.Context, lang models.Language, prefix string) ([]string, error) {
	if !lang.Valid() {
		return nil, errors.NewInvalidInputError("language", "must be ko or en")
	}
	prefix = e.processor.Normalize(prefix, lang)
	if prefix == "" {
		return nil, nil
	}
	suggestCtx, cancel := context.WithTimeout(ctx, e.opts.LexicalTimeout)
	defer cancel()
	terms, err := e.index.Suggest(suggestCtx, lang, prefix, e.opts.SuggestLimit)
	if err != nil {
		return nil, errors.NewLexicalFailedError("suggest failed", err)
	}
	return terms, nil
}

// MinMaxNormalize 把一组原始分数线性映射到[0,1]
// 所有分数相同时统一归一为1
func MinMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	first := true
	var min, max float64
	for _, s := range scores {
		if first {
			min, max = s, s
			first = false
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	normalized := make(map[string]float64, len(scores))
	if max == min {
		for id := range scores {
			normalized[id] = 1.0
		}
		return normalized
	}
	span := max - min
	for id, s := range scores {
		normalized[id] = (s - min) / span
	}
	return normalized
}

// sortCandidates 融合分降序，更新时间倒序，文档ID升序
func sortCandidates(candidates []*candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].fused != candidates[j].fused {
			return candidates[i].fused > candidates[j].fused
		}
		if !candidates[i].updatedAt.Equal(candidates[j].updatedAt) {
			return candidates[i].updatedAt.After(candidates[j].updatedAt)
		}
		return candidates[i].documentID < candidates[j].documentID
	})
}

// computeFacets 在分页前的全量候选集上做聚合计数
func computeFacets(candidates []*candidate) models.Facets {
	categories := make(map[string]int)
	tags := make(map[string]int)
	contentTypes := make(map[string]int)
	for _, c := range candidates {
		if c.categoryID != "" {
			categories[c.categoryID]++
		}
		for _, tag := range c.tags {
			tags[tag]++
		}
		if c.contentType != "" {
			contentTypes[c.contentType]++
		}
	}
	return models.Facets{
		Categories:   facetCounts(categories),
		Tags:         facetCounts(tags),
		ContentTypes: facetCounts(contentTypes),
	}
}

func facetCounts(counts map[string]int) []models.FacetCount {
	out := make([]models.FacetCount, 0, len(counts))
	for key, count := range counts {
		out = append(out, models.FacetCount{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
