// Package detect 为不提供检测接口的后端做本地语言检测
package detect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// MinLetters 少于该字母数的文本不做检测
const MinLetters = 3

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// Detect 返回 ISO 639-1 语言代码和置信度
func Detect(provider, text string) (*providers.Detection, error) {
	sample := strings.TrimSpace(text)
	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < MinLetters {
		return nil, providers.NewError(provider, providers.KindInvalidRequest, "text too short for language detection")
	}

	values := getDetector().ComputeLanguageConfidenceValues(sample)
	if len(values) == 0 {
		return nil, providers.NewError(provider, providers.KindUnknown, "language could not be detected")
	}
	top := values[0]
	code := strings.ToLower(top.Language().IsoCode639_1().String())
	if len(code) != 2 {
		return nil, providers.NewError(provider, providers.KindUnknown, "language could not be detected")
	}
	return &providers.Detection{Language: code, Confidence: top.Value()}, nil
}
