package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/srilekha18-11/RAG/internal/storage"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
	// Temperature 为 nil 时使用模型默认值，0 表示确定性输出
	Temperature *float32 `mapstructure:"temperature"`
	// EmbeddingModel 为向量化模型，走 OpenAI 兼容的 /embeddings 接口
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// RetrievalConfig 描述向量库与检索参数
type RetrievalConfig struct {
	TopK               int    `mapstructure:"top_k"`
	Collection         string `mapstructure:"collection"`
	PersistPath        string `mapstructure:"persist_path"`
	Compress           bool   `mapstructure:"compress"`
	EmbeddingCacheSize int    `mapstructure:"embedding_cache_size"`
}

// IngestConfig 描述文档入库时的切分参数，单位为 token
type IngestConfig struct {
	DataPath       string `mapstructure:"data_path"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	BatchSize      int    `mapstructure:"batch_size"`
	ConferenceName string `mapstructure:"conference_name"`
}

// HistoryConfig 控制界面展示与提示词中使用的历史轮数
type HistoryConfig struct {
	DisplayTurns int  `mapstructure:"display_turns"`
	PromptTurns  int  `mapstructure:"prompt_turns"`
	Persist      bool `mapstructure:"persist"`
	// Retention 在 chat 启动时执行一次，零值表示不清理
	Retention storage.RetentionPolicy `mapstructure:"retention"`
}

type MetricsConfig struct {
	// Addr 非空时在该地址暴露 /metrics
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File 非空时日志写入文件并按大小滚动
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Ark       ArkConfig       `mapstructure:"ark"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	History   HistoryConfig   `mapstructure:"history"`
	Storage   storage.Config  `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Load 读取配置：默认值 < 配置文件 < 环境变量。
// 当前目录下的 .env 会先被加载进进程环境，已存在的环境变量不会被覆盖。
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ragcli")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RAGCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只认识来自配置文件、默认值或显式绑定的 key，
	// 所以每个 key 都要在 setDefaults 里出现一次，环境变量才能覆盖它。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 只检查所有命令都依赖的配置；模型凭据由需要它的命令自行检查
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Collection == "" {
		return fmt.Errorf("retrieval.collection is required")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.History.DisplayTurns < 0 || c.History.PromptTurns < 0 {
		return fmt.Errorf("history turns must not be negative")
	}
	if t := c.Ark.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("ark.temperature must be in [0, 2], got %g", *t)
	}
	if c.History.Retention.KeepRecords < 0 || c.History.Retention.MaxAge < 0 {
		return fmt.Errorf("history.retention values must not be negative")
	}
	return nil
}

// RequireArk 检查调用语言模型所需的配置
func (c *Config) RequireArk() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	return nil
}

// RequireEmbedding 检查向量化所需的配置
func (c *Config) RequireEmbedding() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.EmbeddingModel == "" {
		return fmt.Errorf("ark.embedding_model is required (or set ARK_EMBEDDING_MODEL env var)")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Log
	// -------------------------------------------------------------------------
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	// -------------------------------------------------------------------------
	// Retrieval / Ingest
	// -------------------------------------------------------------------------
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.collection", d.Retrieval.Collection)
	v.SetDefault("retrieval.persist_path", d.Retrieval.PersistPath)
	v.SetDefault("retrieval.compress", d.Retrieval.Compress)
	v.SetDefault("retrieval.embedding_cache_size", d.Retrieval.EmbeddingCacheSize)

	v.SetDefault("ingest.data_path", d.Ingest.DataPath)
	v.SetDefault("ingest.chunk_size", d.Ingest.ChunkSize)
	v.SetDefault("ingest.chunk_overlap", d.Ingest.ChunkOverlap)
	v.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	v.SetDefault("ingest.conference_name", d.Ingest.ConferenceName)

	// -------------------------------------------------------------------------
	// History / Storage / Metrics
	// -------------------------------------------------------------------------
	v.SetDefault("history.display_turns", d.History.DisplayTurns)
	v.SetDefault("history.prompt_turns", d.History.PromptTurns)
	v.SetDefault("history.persist", d.History.Persist)
	v.SetDefault("history.retention.keep_records", d.History.Retention.KeepRecords)
	v.SetDefault("history.retention.max_age", d.History.Retention.MaxAge)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	// -------------------------------------------------------------------------
	// Ark
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)
	v.SetDefault("ark.temperature", *d.Ark.Temperature)
	v.SetDefault("ark.embedding_model", "")

	_ = v.BindEnv("ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("ark.base_url", "ARK_BASE_URL")
	_ = v.BindEnv("ark.embedding_model", "ARK_EMBEDDING_MODEL")
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Ark: ArkConfig{
			BaseURL:     "https://ark.cn-beijing.volces.com/api/v3",
			Temperature: ptr(float32(0.3)),
		},
		Retrieval: RetrievalConfig{
			TopK:               10,
			Collection:         "civil_eng_papers",
			PersistPath:        "./chroma_db_data",
			EmbeddingCacheSize: 10000,
		},
		Ingest: IngestConfig{
			DataPath:       "./data",
			ChunkSize:      1000,
			ChunkOverlap:   150,
			BatchSize:      100,
			ConferenceName: "Unknown Conference",
		},
		History: HistoryConfig{
			DisplayTurns: 10,
			PromptTurns:  5,
			Persist:      true,
		},
		Storage: storage.Config{
			Path:        "ragcli.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
	}
}

func ptr[T any](v T) *T { return &v }
