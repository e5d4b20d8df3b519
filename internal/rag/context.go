package rag

import (
	"context"
)

type traceIDKey struct{}
type observerKey struct{}

// StageObserver 在每个阶段执行完成后被调用，用于界面展示进度
type StageObserver func(stage Stage, state State)

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithStageObserver 注册阶段完成回调
func WithStageObserver(ctx context.Context, fn StageObserver) context.Context {
	return context.WithValue(ctx, observerKey{}, fn)
}

// StageObserverFrom 取出已注册的回调，没有则为 nil
func StageObserverFrom(ctx context.Context) StageObserver {
	if fn, ok := ctx.Value(observerKey{}).(StageObserver); ok {
		return fn
	}
	return nil
}
