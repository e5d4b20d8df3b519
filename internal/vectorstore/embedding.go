package vectorstore

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
)

// EmbeddingConfig 描述 OpenAI 兼容的向量化接口（Ark 的 /embeddings 即可）
type EmbeddingConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	CacheSize int
}

// NewEmbeddingFunc 创建带 LRU 缓存的向量化函数
func NewEmbeddingFunc(cfg EmbeddingConfig) (chromem.EmbeddingFunc, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("embedding api key and model are required")
	}
	// Ark 返回的向量未保证归一化，交给 chromem 处理
	normalized := false
	base := chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, &normalized)
	return CachedEmbeddingFunc(base, cfg.CacheSize)
}

// CachedEmbeddingFunc 用 LRU 缓存包装任意向量化函数，相同文本只请求一次。
// size <= 0 时使用 10000。
func CachedEmbeddingFunc(fn chromem.EmbeddingFunc, size int) (chromem.EmbeddingFunc, error) {
	if fn == nil {
		return nil, errors.New("embedding func is nil")
	}
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := cache.Get(text); ok {
			return v, nil
		}
		v, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, v)
		return v, nil
	}, nil
}
