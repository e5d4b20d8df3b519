package rag

import (
	"context"
	"time"
)

// Retriever 是检索网关：按查询文本返回按相关度排序的段落。
// filter 为 nil 时检索整个语料库。
type Retriever interface {
	Query(ctx context.Context, text string, topK int, filter *Filter) ([]Passage, error)
}

// Generator 是语言模型网关：输入提示词，返回生成的文本
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Recorder 收集流程指标，由 metrics 包实现
type Recorder interface {
	ObserveStage(stage string, start time.Time)
	ObserveGatewayCall(gateway, stage string, start time.Time, err error)
	IncRoute(target string)
	IncDegraded(stage string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Time)                      {}
func (nopRecorder) ObserveGatewayCall(string, string, time.Time, error) {}
func (nopRecorder) IncRoute(string)                                     {}
func (nopRecorder) IncDegraded(string)                                  {}
