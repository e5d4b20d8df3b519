package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/srilekha18-11/RAG/internal/rag"
	"go.uber.org/zap"
)

// StoreConfig 描述向量库。PersistPath 为空时只在内存中保存。
type StoreConfig struct {
	PersistPath string
	Collection  string
	Compress    bool
}

// Store 基于 chromem-go 的文档段落向量库，实现 rag.Retriever
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// Open 打开（或创建）向量库与集合
func Open(cfg StoreConfig, embed chromem.EmbeddingFunc, logger *zap.Logger) (*Store, error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	if embed == nil {
		return nil, errors.New("embedding func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", cfg.Collection, err)
	}

	logger = logger.With(zap.String("component", "vectorstore"), zap.String("collection", cfg.Collection))
	logger.Info("vector store ready", zap.Int("documents", collection.Count()))
	return &Store{db: db, collection: collection, logger: logger}, nil
}

// Count 返回集合中的段落数
func (s *Store) Count() int {
	if s == nil || s.collection == nil {
		return 0
	}
	return s.collection.Count()
}

// Query 按相似度返回至多 topK 个段落，Distance 越小越相关。
// filter 的每个取值各查询一次，合并后按距离排序截断。
func (s *Store) Query(ctx context.Context, text string, topK int, filter *rag.Filter) ([]rag.Passage, error) {
	if s == nil || s.collection == nil {
		return nil, errors.New("vector store not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("query text is empty")
	}
	if topK <= 0 {
		return []rag.Passage{}, nil
	}

	var wheres []map[string]string
	if filter == nil {
		wheres = []map[string]string{nil}
	} else {
		if filter.Field == "" || len(filter.In) == 0 {
			return nil, fmt.Errorf("invalid filter: field=%q values=%d", filter.Field, len(filter.In))
		}
		for _, v := range filter.In {
			wheres = append(wheres, map[string]string{filter.Field: v})
		}
	}

	out := []rag.Passage{}
	seen := make(map[string]struct{})
	for _, where := range wheres {
		n := topK
		if total := s.collection.Count(); n > total {
			n = total
		}
		if n == 0 {
			break
		}
		results, err := s.collection.Query(ctx, text, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query collection: %w", err)
		}
		for _, r := range results {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, rag.Passage{
				Content:  r.Content,
				Metadata: r.Metadata,
				Distance: 1 - float64(r.Similarity),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	s.logger.Debug("vector query", zap.String("query", text), zap.Int("results", len(out)), zap.Int("filters", len(wheres)))
	return out, nil
}

// Add 写入一批段落，向量化并发度与 CPU 数一致
func (s *Store) Add(ctx context.Context, chunks []Chunk) error {
	if s == nil || s.collection == nil {
		return errors.New("vector store not initialized")
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:       c.ID,
			Content:  c.Text,
			Metadata: c.Metadata,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add %d documents: %w", len(docs), err)
	}
	return nil
}

// DeleteSource 删除某个源文件的全部段落，用于重新入库。sourcePath 为入库时相对数据目录的路径。
func (s *Store) DeleteSource(ctx context.Context, sourcePath string) error {
	if s == nil || s.collection == nil {
		return errors.New("vector store not initialized")
	}
	where := map[string]string{SourcePathField: sourcePath}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete source %q: %w", sourcePath, err)
	}
	return nil
}

// NormalizeFilename 生成写入 normalized_filter_filename 的值，与检索过滤条件的规则一致
func NormalizeFilename(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
