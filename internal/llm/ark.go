package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/srilekha18-11/RAG/internal/config"
	"go.uber.org/zap"
)

// NewChatModel 初始化 Ark ChatModel
func NewChatModel(ctx context.Context, arkConfig config.ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	chatModel, err := ark.NewChatModel(ctx, chatModelConfig(arkConfig))
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

func chatModelConfig(arkConfig config.ArkConfig) *ark.ChatModelConfig {
	cfg := &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	}
	if arkConfig.Temperature != nil {
		temp := *arkConfig.Temperature
		cfg.Temperature = &temp
	}
	return cfg
}

// Generator 把 eino ChatModel 适配为“提示词进、文本出”的语言模型网关
type Generator struct {
	model  model.BaseChatModel
	logger *zap.Logger
}

// NewGenerator 包装任意 ChatModel，logger 为 nil 时不输出日志
func NewGenerator(cm model.BaseChatModel, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: cm, logger: logger.With(zap.String("component", "llm"))}
}

// NewArkGenerator 按配置创建 Ark 模型并包装为 Generator
func NewArkGenerator(ctx context.Context, arkConfig config.ArkConfig, logger *zap.Logger) (*Generator, error) {
	cm, err := NewChatModel(ctx, arkConfig)
	if err != nil {
		return nil, fmt.Errorf("init chat model failed: %w", err)
	}
	return NewGenerator(cm, logger), nil
}

// Generate 将提示词作为单条用户消息发送，返回回复的文本内容
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.model == nil {
		return "", errors.New("chat model not initialized")
	}
	msg, err := g.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		g.logger.Warn("chat model call failed", zap.Error(err))
		return "", fmt.Errorf("chat model generate: %w", err)
	}
	if msg == nil {
		return "", errors.New("chat model returned no message")
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		g.logger.Debug("chat model usage",
			zap.Int("prompt_tokens", msg.ResponseMeta.Usage.PromptTokens),
			zap.Int("completion_tokens", msg.ResponseMeta.Usage.CompletionTokens))
	}
	return msg.Content, nil
}
