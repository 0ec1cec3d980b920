package language

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knowhub/search-go/internal/models"
)

func TestNormalizeEnglish(t *testing.T) {
	p := NewProcessor()

	assert.Equal(t, "cafe resume", p.Normalize("Café   Résumé", models.LanguageEnglish))
	assert.Equal(t, "hello world", p.Normalize("  Hello \n World  ", models.LanguageEnglish))
}

func TestNormalizeKorean(t *testing.T) {
	p := NewProcessor()

	// NFC规范化：分解形式的한글必须与合成形式一致
	decomposed := "한" // 한 的分解形式
	assert.Equal(t, "한", p.Normalize(decomposed, models.LanguageKorean))
}

func TestTokenizeEnglish(t *testing.T) {
	p := NewProcessor()

	tokens := p.Tokenize("The quick brown fox, and the lazy dog!", models.LanguageEnglish)
	assert.Equal(t, []string{"quick", "brown", "fox", "lazy", "dog"}, tokens)
}

func TestTokenizeKoreanStripsJosa(t *testing.T) {
	p := NewProcessor()

	tokens := p.Tokenize("회사에서 문서를 검색했다", models.LanguageKorean)
	assert.Contains(t, tokens, "회사")
	assert.Contains(t, tokens, "문서")
	assert.NotContains(t, tokens, "회사에서")
	assert.NotContains(t, tokens, "문서를")
}

func TestTokenizeKoreanKeepsSingleSyllable(t *testing.T) {
	p := NewProcessor()

	// 剥离后不足一个音节时保留原词
	tokens := p.Tokenize("은", models.LanguageKorean)
	assert.Equal(t, []string{"은"}, tokens)
}

func TestTokenizeUnknownLanguageFallback(t *testing.T) {
	p := NewProcessor()

	// 未知语言标签不报错，退化为空白/标点切分
	tokens := p.Tokenize("alpha, beta; gamma", models.Language("xx"))
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, tokens)
}

func TestTokenizeDeterministic(t *testing.T) {
	p := NewProcessor()

	input := "검색 엔진은 한국어와 English를 모두 지원한다"
	first := p.Tokenize(input, models.LanguageKorean)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Tokenize(input, models.LanguageKorean))
	}
}

func TestTokenizeEmpty(t *testing.T) {
	p := NewProcessor()

	assert.Nil(t, p.Tokenize("", models.LanguageKorean))
	assert.Empty(t, p.Tokenize("   \n\t  ", models.LanguageEnglish))
}
