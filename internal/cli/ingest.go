package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srilekha18-11/RAG/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	ingestPath    string
	ingestWorkers int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "切分文档并写入向量库",
	Long: `读取数据目录下已抽取的页面文本（.txt/.md 以换页符分页，.html 视为单页），
按 token 切分后写入向量库。同名文件会先删除旧段落再写入，可以重复执行。
数据目录下的第一级子目录名作为会议名写入元数据。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger := newLogger(false)
		defer func() { _ = logger.Sync() }()
		_, recorder := newRecorder()

		store, err := openVectorStore(logger)
		if err != nil {
			return fmt.Errorf("打开向量库失败: %w", err)
		}
		chunker, err := vectorstore.NewChunker(vectorstore.ChunkerConfig{
			ChunkSize:      cfg.Ingest.ChunkSize,
			ChunkOverlap:   cfg.Ingest.ChunkOverlap,
			ConferenceName: cfg.Ingest.ConferenceName,
		})
		if err != nil {
			return fmt.Errorf("创建切分器失败: %w", err)
		}

		path := cfg.Ingest.DataPath
		if ingestPath != "" {
			path = ingestPath
		}

		out := cmd.OutOrStdout()
		in := vectorstore.NewIngester(store, chunker, vectorstore.IngestConfig{
			BatchSize: cfg.Ingest.BatchSize,
			Workers:   ingestWorkers,
		}, logger)
		total := 0
		in.OnBatch(func(n int) {
			total += n
			recorder.AddIngestedChunks(n)
			fmt.Fprintf(out, "\rAdded %d chunks...", total)
		})

		start := time.Now()
		fmt.Fprintf(out, "Ingesting %s into collection %q\n", path, cfg.Retrieval.Collection)
		report, err := in.Run(ctx, path)
		if total > 0 {
			fmt.Fprintln(out)
		}
		if err != nil {
			return fmt.Errorf("入库失败: %w", err)
		}

		for _, f := range report.Skipped {
			fmt.Fprintf(out, "Skipped (no text): %s\n", f)
		}
		fmt.Fprintf(out, "Done in %s. Files: %d, pages: %d, chunks: %d, collection size: %d\n",
			time.Since(start).Round(time.Millisecond), report.Files, report.Pages, report.Chunks, store.Count())
		logger.Info("ingest finished",
			zap.Int("files", report.Files), zap.Int("chunks", report.Chunks), zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestPath, "path", "", "数据目录或单个文件（默认 ingest.data_path）")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 4, "并发读取与切分文件的数量")
}
