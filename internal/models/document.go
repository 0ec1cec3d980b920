package models

import "time"

// Language 支持的内容语言
type Language string

const (
	LanguageKorean  Language = "ko"
	LanguageEnglish Language = "en"
)

// Languages 所有已支持的语言
var Languages = []Language{LanguageKorean, LanguageEnglish}

// Valid 检查语言标签是否受支持
func (l Language) Valid() bool {
	return l == LanguageKorean || l == LanguageEnglish
}

// DocumentStatus 文档生命周期状态
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPublished DocumentStatus = "published"
	StatusArchived  DocumentStatus = "archived"
)

// LanguageVariant 单语言的文档内容
type LanguageVariant struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body"`
}

// Empty 判断该语言变体是否没有可索引内容
func (v *LanguageVariant) Empty() bool {
	return v == nil || (v.Title == "" && v.Body == "")
}

// Document 内容库中的知识文档（对本核心只读）
// 两种语言至少有一种存在，另一种可能尚未翻译
type Document struct {
	ID          string           `json:"id"`
	Revision    int64            `json:"revision"`
	Status      DocumentStatus   `json:"status"`
	CategoryID  string           `json:"category_id"`
	Tags        []string         `json:"tags"`
	ContentType string           `json:"content_type"`
	KO          *LanguageVariant `json:"ko,omitempty"`
	EN          *LanguageVariant `json:"en,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Variant 返回指定语言的内容变体，不存在时返回nil
func (d *Document) Variant(lang Language) *LanguageVariant {
	switch lang {
	case LanguageKorean:
		return d.KO
	case LanguageEnglish:
		return d.EN
	}
	return nil
}

// Indexable 判断文档是否符合索引条件（仅published）
func (d *Document) Indexable() bool {
	return d.Status == StatusPublished && (!d.KO.Empty() || !d.EN.Empty())
}

// EmbeddingVector 单个分块的稠密向量
// Values 必须是L2归一化后的单位向量，余弦相似度退化为点积
type EmbeddingVector struct {
	ChunkIndex  int       `json:"chunk_index"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Language    Language  `json:"language"`
	Values      []float32 `json:"values"`
}

// IndexEntry 某文档在单一语言下的索引条目
type IndexEntry struct {
	DocumentID       string            `json:"document_id"`
	Language         Language          `json:"language"`
	Text             string            `json:"text"`
	Tokens           []string          `json:"tokens"`
	Vectors          []EmbeddingVector `json:"vectors,omitempty"`
	CategoryID       string            `json:"category_id"`
	Tags             []string          `json:"tags"`
	ContentType      string            `json:"content_type"`
	Revision         int64             `json:"revision"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Published        bool              `json:"published"`
	Tombstoned       bool              `json:"tombstoned"`
	PendingEmbedding bool              `json:"pending_embedding"`
}
