package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTopK         = 10
	DefaultHistoryTurns = 5

	tracerName = "github.com/srilekha18-11/RAG/internal/rag"
)

// ErrEmptyQuery 表示输入为空白，调用方应在进入流程前过滤
var ErrEmptyQuery = errors.New("query is empty")

// Options 配置 Orchestrator
type Options struct {
	// 检索返回的段落数，<=0 时使用 DefaultTopK
	TopK int
	// 写入提示词的最近对话轮数，<=0 时使用 DefaultHistoryTurns
	HistoryTurns int
	Logger       *zap.Logger
	Recorder     Recorder
	// 为 nil 时使用全局 TracerProvider
	TracerProvider trace.TracerProvider
}

// Orchestrator 持有两个网关，并把各阶段编排成 eino Graph
type Orchestrator struct {
	retriever Retriever
	generator Generator
	prompts   promptSet

	topK         int
	historyTurns int

	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer

	runnable compose.Runnable[State, State]
}

// New 创建并编译问答流程。retriever 为 nil 时所有检索都按失败处理。
func New(ctx context.Context, retriever Retriever, generator Generator, opts Options) (*Orchestrator, error) {
	if generator == nil {
		return nil, errors.New("rag: generator is required")
	}
	o := &Orchestrator{
		retriever:    retriever,
		generator:    generator,
		prompts:      newPromptSet(),
		topK:         opts.TopK,
		historyTurns: opts.HistoryTurns,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
	}
	if opts.TracerProvider != nil {
		o.tracer = opts.TracerProvider.Tracer(tracerName)
	} else {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	if o.historyTurns <= 0 {
		o.historyTurns = DefaultHistoryTurns
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", "rag"))
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}

	r, err := o.BuildGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("build answer graph failed: %w", err)
	}
	o.runnable = r
	return o, nil
}

// BuildGraph 构建问答流程图：
//
//	START -> preprocess -> retrieve -> doc answer -> route
//	route -> knowledge | format | handle_error
//	knowledge -> synthesize | format
//	synthesize -> format -> END, handle_error -> END
func (o *Orchestrator) BuildGraph(ctx context.Context) (compose.Runnable[State, State], error) {
	g := compose.NewGraph[State, State]()

	nodes := []struct {
		stage Stage
		fn    func(context.Context, State) State
	}{
		{StagePreprocess, o.preprocess},
		{StageRetrieve, o.retrieve},
		{StageDocAnswer, o.answerFromDocs},
		{StageRoute, o.route},
		{StageKnowledge, o.answerFromKnowledge},
		{StageSynthesize, o.synthesize},
		{StageFormat, o.format},
		{StageHandleError, o.handleError},
	}
	for _, n := range nodes {
		if err := g.AddLambdaNode(n.stage.String(), compose.InvokableLambda(o.node(n.stage, n.fn))); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{compose.START, StagePreprocess.String()},
		{StagePreprocess.String(), StageRetrieve.String()},
		{StageRetrieve.String(), StageDocAnswer.String()},
		{StageDocAnswer.String(), StageRoute.String()},
		{StageSynthesize.String(), StageFormat.String()},
		{StageFormat.String(), compose.END},
		{StageHandleError.String(), compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	// 路由节点把决定写进 State.Next，分支只读这个信号
	err := g.AddBranch(StageRoute.String(), compose.NewGraphBranch(func(ctx context.Context, s State) (string, error) {
		switch s.Next {
		case StageKnowledge, StageFormat, StageHandleError:
			return s.Next.String(), nil
		}
		return "", fmt.Errorf("route produced unexpected next stage %q", s.Next)
	}, map[string]bool{
		StageKnowledge.String():   true,
		StageFormat.String():      true,
		StageHandleError.String(): true,
	}))
	if err != nil {
		return nil, err
	}

	// 通用知识阶段之后：需要比较且有文档答案时合并，否则直接格式化。
	// 通用知识已失败时合并没有意义，错误会在格式化阶段呈现。
	err = g.AddBranch(StageKnowledge.String(), compose.NewGraphBranch(func(ctx context.Context, s State) (string, error) {
		if s.ShouldCompare && s.DocAnswer != nil && !s.HasError() {
			return StageSynthesize.String(), nil
		}
		return StageFormat.String(), nil
	}, map[string]bool{
		StageSynthesize.String(): true,
		StageFormat.String():     true,
	}))
	if err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("rag_answer"))
}

// Answer 对一条用户输入执行完整的问答流程。history 只读，调用方在流程结束后自行追加本轮对话。
func (o *Orchestrator) Answer(ctx context.Context, query string, history []Turn) (State, error) {
	if strings.TrimSpace(query) == "" {
		return State{}, ErrEmptyQuery
	}
	in := NewState(query, history)
	out, err := o.runnable.Invoke(ctx, in)
	if err != nil {
		return in, fmt.Errorf("run answer graph: %w", err)
	}
	return out, nil
}

func (o *Orchestrator) route(ctx context.Context, s State) State {
	s, next := o.decideRoute(ctx, s)
	s.Next = next
	o.recorder.IncRoute(next.String())
	return s
}

// node 为阶段函数加上 tracing、指标、日志与进度回调
func (o *Orchestrator) node(stage Stage, fn func(context.Context, State) State) func(context.Context, State) (State, error) {
	return func(ctx context.Context, s State) (State, error) {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		ctx, span := o.tracer.Start(ctx, stage.String(),
			trace.WithAttributes(attribute.String("rag.trace_id", GetTraceID(ctx))))
		defer span.End()

		start := time.Now()
		hadError := s.HasError()
		out := fn(ctx, s)

		trail := make([]Stage, 0, len(s.Trail)+1)
		trail = append(trail, s.Trail...)
		out.Trail = append(trail, stage)

		o.recorder.ObserveStage(stage.String(), start)
		if !hadError && out.HasError() {
			span.SetStatus(codes.Error, out.ErrorMessage())
		}
		o.logger.Debug("stage finished",
			zap.String("stage", stage.String()),
			zap.String("trace_id", GetTraceID(ctx)),
			zap.Duration("elapsed", time.Since(start)))

		if obs := StageObserverFrom(ctx); obs != nil {
			obs(stage, out)
		}
		return out, nil
	}
}
