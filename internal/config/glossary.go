package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nerdneilsfield/go-translator-hub/pkg/translation"
)

// Glossary 术语表文件
//
//	source_lang = "en"
//	target_lang = "zh-CN"
//	[terms]
//	"Kubernetes" = "Kubernetes"
//	"pod" = "容器组"
type Glossary struct {
	SourceLang string            `toml:"source_lang"`
	TargetLang string            `toml:"target_lang"`
	Terms      map[string]string `toml:"terms"`

	// Translations 旧文件格式的字段名，加载时合并到 Terms
	Translations map[string]string `toml:"translations"`
}

// LoadGlossary 加载 TOML 术语表
func LoadGlossary(path string) (*Glossary, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("glossary file not found: %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary file: %w", err)
	}
	g := &Glossary{}
	if err := toml.Unmarshal(content, g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal glossary: %w", err)
	}
	if g.TargetLang == "" {
		return nil, fmt.Errorf("glossary file is missing target_lang")
	}
	if g.Terms == nil {
		g.Terms = make(map[string]string, len(g.Translations))
	}
	for k, v := range g.Translations {
		if _, ok := g.Terms[k]; !ok {
			g.Terms[k] = v
		}
	}
	g.Translations = nil
	return g, nil
}

// Applies 术语表是否适用于该语言对，源语言为空或 auto 时只比较目标语言
func (g *Glossary) Applies(source, target string) bool {
	if translation.CanonicalLanguage(g.TargetLang) != translation.CanonicalLanguage(target) {
		return false
	}
	src := translation.CanonicalLanguage(g.SourceLang)
	return src == translation.AutoDetect ||
		translation.CanonicalLanguage(source) == translation.AutoDetect ||
		src == translation.CanonicalLanguage(source)
}
