package rag

import (
	"regexp"
	"strconv"
	"strings"
)

// citationPattern 匹配 [Source: <file>, Page: <n>]，字段名大小写敏感
var citationPattern = regexp.MustCompile(`\[Source:\s*(?P<file>[^,\]]+),\s*Page:\s*(?P<page>\d+)\s*\]`)

// ExtractCitations 从生成文本中解析引用标记，按 (文件, 页码) 去重并保持首次出现的顺序
func ExtractCitations(text string) []Citation {
	out := []Citation{}
	seen := make(map[Citation]struct{})
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		c := Citation{Source: strings.TrimSpace(m[1]), Page: page}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
