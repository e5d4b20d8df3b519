package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IngestConfig 控制批量入库
type IngestConfig struct {
	BatchSize int
	// Workers 为并发读取与切分文件的数量
	Workers int
}

// IngestReport 汇总一次入库的结果
type IngestReport struct {
	Files  int
	Pages  int
	Chunks int
	// Skipped 为没有任何文本的文件
	Skipped []string
}

// Ingester 把源文件切分后写入向量库
type Ingester struct {
	store   *Store
	chunker *Chunker
	config  IngestConfig
	logger  *zap.Logger
	// onBatch 在每批写入成功后调用，参数为本批段落数
	onBatch func(n int)
}

func NewIngester(store *Store, chunker *Chunker, config IngestConfig, logger *zap.Logger) *Ingester {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: store, chunker: chunker, config: config, logger: logger.With(zap.String("component", "ingest"))}
}

// OnBatch 注册批次写入回调，用于进度展示与指标
func (in *Ingester) OnBatch(fn func(n int)) {
	in.onBatch = fn
}

// Run 入库 root 下的全部文件。同一路径文件的旧段落会先被删除，重复执行结果一致。
func (in *Ingester) Run(ctx context.Context, root string) (IngestReport, error) {
	var report IngestReport
	if in.store == nil || in.chunker == nil {
		return report, errors.New("ingester not initialized")
	}

	paths, err := ListSources(root)
	if err != nil {
		return report, err
	}
	report.Files = len(paths)
	if len(paths) == 0 {
		in.logger.Warn("no supported files found", zap.String("path", root))
		return report, nil
	}

	type fileChunks struct {
		name   string
		pages  int
		chunks []Chunk
	}
	results := make([]fileChunks, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.config.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pages, err := LoadPages(path)
			if err != nil {
				return err
			}
			conference := conferenceOf(root, path)
			sourcePath := sourcePathOf(root, path)
			var chunks []Chunk
			for _, p := range pages {
				p.Conference = conference
				p.SourcePath = sourcePath
				chunks = append(chunks, in.chunker.ChunkPage(p)...)
			}
			results[i] = fileChunks{name: sourcePath, pages: len(pages), chunks: chunks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("load sources: %w", err)
	}

	for i, r := range results {
		if len(r.chunks) == 0 {
			report.Skipped = append(report.Skipped, paths[i])
			continue
		}
		if err := in.store.DeleteSource(ctx, r.name); err != nil {
			return report, err
		}
		for start := 0; start < len(r.chunks); start += in.config.BatchSize {
			end := start + in.config.BatchSize
			if end > len(r.chunks) {
				end = len(r.chunks)
			}
			if err := in.store.Add(ctx, r.chunks[start:end]); err != nil {
				return report, fmt.Errorf("ingest %s: %w", r.name, err)
			}
			report.Chunks += end - start
			if in.onBatch != nil {
				in.onBatch(end - start)
			}
		}
		report.Pages += r.pages
		in.logger.Info("ingested file", zap.String("file", r.name), zap.Int("pages", r.pages), zap.Int("chunks", len(r.chunks)))
	}
	return report, nil
}

// sourcePathOf 返回相对 root 的路径（斜杠分隔）；root 本身是文件时返回文件名
func sourcePathOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// conferenceOf 取 root 下第一级子目录名作为会议名，直接位于 root 下的文件返回空
func conferenceOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}
