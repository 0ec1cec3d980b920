package language

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/knowhub/search-go/internal/models"
)

// josaParticles 韩语助词表，分词时从词尾剥离
// 按长度降序排列，保证最长匹配优先
var josaParticles = []string{
	"으로부터", "에서부터",
	"께서", "에서", "에게", "한테", "부터", "까지", "으로", "처럼", "보다", "마다", "조차", "밖에",
	"은", "는", "이", "가", "을", "를", "에", "의", "로", "와", "과", "도", "만",
}

// englishStopwords 英语停用词，仅用于词法索引
var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "it": {}, "its": {},
	"this": {}, "that": {}, "these": {}, "those": {},
}

// diacriticFolder 去除变音符号：NFD分解后移除组合符号再重组
var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Processor 语言处理器，负责规范化与分词
// 所有方法均为纯函数：索引与查询两侧依赖完全一致的输出
type Processor struct{}

// NewProcessor 创建语言处理器
func NewProcessor() *Processor {
	return &Processor{}
}

// Normalize 将文本规范化为匹配用的标准形式
// 未知语言标签走语言无关的基础规范化，不会报错
func (p *Processor) Normalize(text string, lang models.Language) string {
	text = norm.NFC.String(text)
	text = strings.ToLower(text)

	if lang == models.LanguageEnglish {
		if folded, _, err := transform.String(diacriticFolder, text); err == nil {
			text = folded
		}
	}

	return collapseWhitespace(text)
}

// Tokenize 将文本切分为词法token序列
// 韩语在切分后剥离助词，英语丢弃停用词，未知语言仅按空白/标点切分
func (p *Processor) Tokenize(text string, lang models.Language) []string {
	normalized := p.Normalize(text, lang)
	if normalized == "" {
		return nil
	}

	raw := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		switch lang {
		case models.LanguageKorean:
			tok = stripJosa(tok)
		case models.LanguageEnglish:
			if _, stop := englishStopwords[tok]; stop {
				continue
			}
		}
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	return tokens
}

// stripJosa 剥离词尾助词，最长匹配且仅剥离一次
// 剥离后必须至少保留一个音节，否则视为独立词保留原样
func stripJosa(token string) string {
	if !containsHangul(token) {
		return token
	}
	for _, particle := range josaParticles {
		if strings.HasSuffix(token, particle) {
			remainder := strings.TrimSuffix(token, particle)
			if len([]rune(remainder)) >= 1 {
				return remainder
			}
		}
	}
	return token
}

func containsHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	var prevSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			builder.WriteRune(' ')
			prevSpace = true
			continue
		}
		builder.WriteRune(r)
		prevSpace = false
	}

	return strings.TrimSpace(builder.String())
}
