package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/cache"
	"github.com/knowhub/search-go/internal/errors"
	"github.com/knowhub/search-go/internal/knowledge"
	"github.com/knowhub/search-go/internal/language"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/metrics"
	"github.com/knowhub/search-go/internal/models"
)

// SearchService 检索服务门面
// 请求校验、结果缓存和指标都在这一层，引擎只做检索本身
type SearchService struct {
	engine    *knowledge.HybridSearchEngine
	cache     *cache.ResultCache
	processor *language.Processor
	validate  *validator.Validate
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewSearchService 创建检索服务
func NewSearchService(engine *knowledge.HybridSearchEngine, resultCache *cache.ResultCache, processor *language.Processor, m *metrics.Metrics) *SearchService {
	if processor == nil {
		processor = language.NewProcessor()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &SearchService{
		engine:    engine,
		cache:     resultCache,
		processor: processor,
		validate:  validator.New(),
		metrics:   m,
		log:       logger.Named("search_service"),
	}
}

// Search 执行一次检索请求
// 无效请求同步拒绝，不做静默修正
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = models.ModeHybrid
	}
	// 缓存键基于规范化后的查询串，大小写与空白差异共享同一条目
	req.Query = s.processor.Normalize(req.Query, req.Language)

	start := time.Now()
	computed := false
	resp, err := s.cache.Get(ctx, req, func(computeCtx context.Context) (*models.SearchResponse, error) {
		computed = true
		return s.engine.Search(computeCtx, req)
	})

	mode := string(req.Mode)
	if err != nil {
		s.metrics.SearchRequests.WithLabelValues(mode, "error").Inc()
		return nil, err
	}
	if computed {
		s.metrics.CacheMisses.Inc()
	} else {
		s.metrics.CacheHits.Inc()
	}
	s.metrics.SearchRequests.WithLabelValues(mode, "ok").Inc()
	s.metrics.SearchLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return resp, nil
}

// Suggest 前缀补全
func (s *SearchService) Suggest(ctx context.Context, lang models.Language, prefix string) ([]string, error) {
	if !lang.Valid() {
		return nil, errors.NewInvalidInputError("language", "must be ko or en")
	}
	return s.engine.Suggest(ctx, lang, prefix)
}

// HandleInvalidation 处理缓存失效信号
func (s *SearchService) HandleInvalidation(ctx context.Context, signal models.InvalidationSignal) {
	s.cache.Invalidate(ctx, signal)
	s.log.Debug("invalidation applied",
		zap.String("document_id", signal.DocumentID),
		zap.Uint64("generation", signal.Generation))
}

func (s *SearchService) validateRequest(req models.SearchRequest) error {
	if err := s.validate.Struct(req); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok && len(fieldErrors) > 0 {
			fe := fieldErrors[0]
			return errors.NewInvalidInputError(fe.Field(), "failed '"+fe.Tag()+"' constraint")
		}
		return errors.NewValidationError("malformed search request")
	}
	if !req.Language.Valid() {
		return errors.NewInvalidInputError("language", "must be ko or en")
	}
	if req.Mode != "" && req.Mode != models.ModeLexical && req.Mode != models.ModeVector && req.Mode != models.ModeHybrid {
		return errors.NewInvalidInputError("mode", "must be lexical, vector or hybrid")
	}
	return nil
}
