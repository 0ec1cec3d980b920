package models

// EventType 内容库变更事件类型
type EventType string

const (
	EventDocumentPublished EventType = "document.published"
	EventDocumentUpdated   EventType = "document.updated"
	EventDocumentRemoved   EventType = "document.removed"
)

// ChangeEvent 内容库推送的文档变更事件
// 投递语义为at-least-once，可能重复、可能乱序，由revision检查兜底
type ChangeEvent struct {
	Type     EventType `json:"type"`
	Document Document  `json:"document"`
}

// InvalidationSignal 索引变更后发出的缓存失效信号
// Generation 单调递增，用于判定缓存条目是否早于最近一次相关变更
// CategoryIDs/Tags 是变更前后取值的并集：文档从标签x改为y时，
// 命中x和命中y的缓存都必须失效
type InvalidationSignal struct {
	DocumentID  string   `json:"document_id"`
	Generation  uint64   `json:"generation"`
	CategoryIDs []string `json:"category_ids"`
	Tags        []string `json:"tags"`
}
