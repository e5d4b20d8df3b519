package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srilekha18-11/RAG/internal/llm"
	"github.com/srilekha18-11/RAG/internal/logging"
	"github.com/srilekha18-11/RAG/internal/metrics"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/session"
	"github.com/srilekha18-11/RAG/internal/storage"
	"github.com/srilekha18-11/RAG/internal/vectorstore"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// app 持有一次命令执行期间共享的组件
type app struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder

	vectors      *vectorstore.Store
	store        *storage.Storage
	orchestrator *rag.Orchestrator
}

func newLogger(quiet bool) *zap.Logger {
	return logging.New(cfg.Log, logging.Options{Quiet: quiet})
}

func newRecorder() (*prometheus.Registry, *metrics.Recorder) {
	reg := prometheus.NewRegistry()
	return reg, metrics.New(reg)
}

func openVectorStore(logger *zap.Logger) (*vectorstore.Store, error) {
	if err := cfg.RequireEmbedding(); err != nil {
		return nil, err
	}
	embed, err := vectorstore.NewEmbeddingFunc(vectorstore.EmbeddingConfig{
		BaseURL:   cfg.Ark.BaseURL,
		APIKey:    cfg.Ark.APIKey,
		Model:     cfg.Ark.EmbeddingModel,
		CacheSize: cfg.Retrieval.EmbeddingCacheSize,
	})
	if err != nil {
		return nil, err
	}
	return vectorstore.Open(vectorstore.StoreConfig{
		PersistPath: cfg.Retrieval.PersistPath,
		Collection:  cfg.Retrieval.Collection,
		Compress:    cfg.Retrieval.Compress,
	}, embed, logger)
}

func openStorage(ctx context.Context) (*storage.Storage, error) {
	sc := cfg.Storage
	sc.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	return storage.Open(ctx, sc)
}

// buildApp 组装问答所需的组件。向量库不可用时仍可运行，检索阶段会按失败降级。
func buildApp(ctx context.Context, quiet bool) (*app, error) {
	if err := cfg.RequireArk(); err != nil {
		return nil, err
	}

	a := &app{logger: newLogger(quiet)}
	a.registry, a.recorder = newRecorder()

	gen, err := llm.NewArkGenerator(ctx, cfg.Ark, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化语言模型失败: %w", err)
	}

	var retriever rag.Retriever
	vectors, err := openVectorStore(a.logger)
	if err != nil {
		a.logger.Warn("vector store unavailable, document retrieval disabled", zap.Error(err))
	} else {
		a.vectors = vectors
		retriever = vectors
	}

	a.orchestrator, err = rag.New(ctx, retriever, gen, rag.Options{
		TopK:         cfg.Retrieval.TopK,
		HistoryTurns: cfg.History.PromptTurns,
		Logger:       a.logger,
		Recorder:     a.recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("构建问答流程失败: %w", err)
	}

	if cfg.History.Persist {
		a.store, err = openStorage(ctx)
		if err != nil {
			return nil, fmt.Errorf("打开存储失败: %w", err)
		}
		a.applyRetention(ctx)
	}
	return a, nil
}

// applyRetention 按配置清理一次旧历史，失败只记录日志
func (a *app) applyRetention(ctx context.Context) {
	policy := cfg.History.Retention
	if !policy.Enabled() {
		return
	}
	res, err := a.store.Prune(ctx, policy, time.Now())
	if err != nil {
		a.logger.Warn("history retention failed", zap.Error(err))
		return
	}
	a.logger.Info("history retention applied",
		zap.Int64("query_records", res.QueryRecords), zap.Int64("chat_turns", res.ChatTurns))
}

// newSession 创建会话；id 非空且开启持久化时恢复该会话的历史
func (a *app) newSession(ctx context.Context, id string) (*session.Session, error) {
	opts := session.Options{
		ID:           id,
		DisplayTurns: cfg.History.DisplayTurns,
		Recorder:     a.recorder,
		Logger:       a.logger,
	}
	if a.store != nil {
		opts.Store = a.store
	}
	s, err := session.New(a.orchestrator, opts)
	if err != nil {
		return nil, err
	}
	if id != "" && a.store != nil {
		limit := max(cfg.History.DisplayTurns, cfg.History.PromptTurns*2)
		if err := s.Load(ctx, limit); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// serveMetrics 在配置了 metrics.addr 时暴露 /metrics，ctx 结束后关闭
func (a *app) serveMetrics(ctx context.Context) {
	if cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func (a *app) close() {
	if a == nil {
		return
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logger.Sync()
}
