package vectorstore

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pageBreak 分隔页面；pdftotext 等工具导出的文本以换页符分页
const pageBreak = "\f"

// SupportedExt 报告文件扩展名是否可以入库
func SupportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".html", ".htm":
		return true
	}
	return false
}

// ListSources 递归列出目录下可入库的文件，按路径排序。root 为单个文件时直接返回它。
func ListSources(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat data path: %w", err)
	}
	if !info.IsDir() {
		if !SupportedExt(root) {
			return nil, fmt.Errorf("unsupported file type: %s", root)
		}
		return []string{root}, nil
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !SupportedExt(path) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data path: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// LoadPages 读取一个源文件并按页拆分。HTML 文件视为单页，只保留正文文本。
func LoadPages(path string) ([]Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)

	var texts []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err := htmlText(raw)
		if err != nil {
			return nil, fmt.Errorf("parse html %s: %w", path, err)
		}
		texts = []string{text}
	default:
		texts = strings.Split(string(raw), pageBreak)
	}

	pages := make([]Page, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		pages = append(pages, Page{SourceFile: name, PageNumber: i + 1, Text: t})
	}
	return pages, nil
}

func htmlText(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(parts, "\n"), nil
}
