package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errEmptyGeneration      = errors.New("language model returned empty text")
	errRetrieverUnavailable = errors.New("retrieval gateway not configured")
)

// preprocess 调用一次语言模型，得到检索语句、外部知识限制、显式文件名与数值查询意图。
// 失败时退回原始问题并记录错误，流程继续。
func (o *Orchestrator) preprocess(ctx context.Context, s State) State {
	log := o.log(ctx, StagePreprocess)

	s.ProcessedQuery = s.OriginalQuery
	s.RequiresDocSearch = PreprocessFallbackRequiresDocSearch
	s.KnowledgeRestricted = PreprocessFallbackKnowledgeRestricted

	text, err := render(ctx, o.prompts.preprocess, map[string]any{
		"chat_history": FormatChatHistory(s.ChatHistory, o.historyTurns),
		"user_query":   s.OriginalQuery,
	})
	if err == nil {
		text, err = o.generate(ctx, StagePreprocess, text)
	}
	var d PreprocessDecision
	if err == nil {
		d, err = ParsePreprocessDecision(text)
	}
	if err != nil {
		log.Error("preprocess failed, falling back to original query", zap.Error(err))
		o.recorder.IncDegraded(StagePreprocess.String())
		return s.withError(errPrefixPreprocess, err)
	}

	if q := strings.TrimSpace(d.RetrievalQuery); q != "" {
		s.ProcessedQuery = q
	}
	s.KnowledgeRestricted = d.ExternalKnowledgeForbidden

	files := make([]string, 0, len(d.ExplicitFilenames))
	for _, f := range d.ExplicitFilenames {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		s.ExplicitTargetFiles = files
		s.RetrievalFilter = filenameFilter(files)
	} else {
		s.ExplicitTargetFiles = nil
		// 没有点名文件的数值查询检索全库
		s.RetrievalFilter = nil
	}
	s.RequiresDocSearch = len(files) > 0 || d.ValueQueryIntent.IsValueQuery

	log.Info("query preprocessed",
		zap.String("processed_query", s.ProcessedQuery),
		zap.Strings("explicit_files", s.ExplicitTargetFiles),
		zap.Bool("value_query", d.ValueQueryIntent.IsValueQuery),
		zap.Bool("knowledge_restricted", s.KnowledgeRestricted),
		zap.Bool("requires_doc_search", s.RequiresDocSearch))
	return s
}

// retrieve 至多检索一次。点名了文件时无论意图如何都会检索。
func (o *Orchestrator) retrieve(ctx context.Context, s State) State {
	log := o.log(ctx, StageRetrieve)

	if !s.docSearchExpected() {
		log.Info("skipping document retrieval, not required by query type or file mentions")
		s.RetrievedPassages = []Passage{}
		s.DocSearchPerformed = false
		return s
	}

	if len(s.ExplicitTargetFiles) > 0 && s.RetrievalFilter == nil {
		s.RetrievalFilter = filenameFilter(s.ExplicitTargetFiles)
		log.Info("rebuilt retrieval filter from explicit files", zap.Any("filter", s.RetrievalFilter))
	}

	query := s.ProcessedQuery
	if query == "" {
		query = s.OriginalQuery
	}

	passages, err := o.query(ctx, query, s.RetrievalFilter)
	if err != nil {
		log.Error("document retrieval failed", zap.Error(err))
		o.recorder.IncDegraded(StageRetrieve.String())
		s.RetrievedPassages = []Passage{}
		s.DocSearchPerformed = false
		return s.withError(errPrefixRetrieve, err)
	}
	if passages == nil {
		passages = []Passage{}
	}
	s.RetrievedPassages = passages
	s.DocSearchPerformed = true

	log.Info("documents retrieved", zap.Int("count", len(passages)), zap.Any("filter", s.RetrievalFilter))
	for i, p := range passages {
		log.Debug("retrieved passage",
			zap.Int("rank", i+1),
			zap.String("source_file", p.Metadata["source_file"]),
			zap.String("page_number", p.Metadata["page_number"]),
			zap.String("chunk_type", p.Metadata["chunk_type"]),
			zap.Float64("distance", p.Distance),
			zap.String("preview", preview(p.Content, 200)))
	}
	if len(passages) == 0 && s.RetrievalFilter != nil {
		log.Warn("no documents matched the filter; check that stored filenames match the normalised query filenames")
	}
	return s
}

// answerFromDocs 基于全部检索段落生成文档答案，并抽取引用
func (o *Orchestrator) answerFromDocs(ctx context.Context, s State) State {
	log := o.log(ctx, StageDocAnswer)

	if len(s.RetrievedPassages) == 0 {
		if s.DocSearchPerformed && s.docSearchExpected() {
			log.Warn("document search performed but returned nothing")
			s.DocAnswer = strPtr(MsgNoRelevantDocuments)
		} else {
			s.DocAnswer = nil
		}
		return s.withCitations(nil)
	}

	text, err := render(ctx, o.prompts.docAnswer, map[string]any{
		"user_query":   s.OriginalQuery,
		"chat_history": FormatChatHistory(s.ChatHistory, o.historyTurns),
		"documents":    FormatPassages(s.RetrievedPassages),
	})
	if err == nil {
		text, err = o.generate(ctx, StageDocAnswer, text)
	}
	if err != nil {
		log.Error("generate answer from documents failed", zap.Error(err))
		o.recorder.IncDegraded(StageDocAnswer.String())
		s.DocAnswer = strPtr(MsgDocAnswerFailed)
		return s.withCitations(nil).withError(errPrefixDocAnswer, err)
	}

	s.DocAnswer = strPtr(text)
	s = s.withCitations(ExtractCitations(text))
	log.Info("generated answer from documents", zap.Int("citations", len(s.Citations)))
	return s
}

// answerFromKnowledge 只使用历史和原始问题，不带文档上下文
func (o *Orchestrator) answerFromKnowledge(ctx context.Context, s State) State {
	log := o.log(ctx, StageKnowledge)

	text, err := render(ctx, o.prompts.knowledge, map[string]any{
		"chat_history": FormatChatHistory(s.ChatHistory, o.historyTurns),
		"user_query":   s.OriginalQuery,
	})
	if err == nil {
		text, err = o.generate(ctx, StageKnowledge, text)
	}
	if err != nil {
		log.Error("generate general knowledge answer failed", zap.Error(err))
		o.recorder.IncDegraded(StageKnowledge.String())
		s.KnowledgeAnswer = strPtr(MsgKnowledgeFailed)
		return s.withError(errPrefixKnowledge, err)
	}
	s.KnowledgeAnswer = strPtr(text)
	log.Info("generated general knowledge answer", zap.Bool("should_compare", s.ShouldCompare))
	return s
}

// synthesize 在需要比较且两份答案都存在时合并，否则退化为选择策略
func (o *Orchestrator) synthesize(ctx context.Context, s State) State {
	log := o.log(ctx, StageSynthesize)

	if !s.ShouldCompare || s.DocAnswer == nil || s.KnowledgeAnswer == nil {
		return selectAnswer(s)
	}

	text, err := render(ctx, o.prompts.synthesize, map[string]any{
		"user_query":       s.OriginalQuery,
		"doc_answer":       *s.DocAnswer,
		"citations":        formatCitations(s.Citations),
		"knowledge_answer": *s.KnowledgeAnswer,
	})
	if err == nil {
		text, err = o.generate(ctx, StageSynthesize, text)
	}
	if err != nil {
		log.Error("synthesize answers failed", zap.Error(err))
		o.recorder.IncDegraded(StageSynthesize.String())
		s.FinalAnswer = synthesisFallback(s.DocAnswer, s.KnowledgeAnswer)
		return s.withError(errPrefixSynthesize, err)
	}
	// 引用沿用文档答案的列表
	s.SynthesizedAnswer = strPtr(text)
	s.FinalAnswer = text
	log.Info("synthesized answers", zap.Int("citations", len(s.Citations)))
	return s
}

func selectAnswer(s State) State {
	switch {
	case IsConclusive(s.DocAnswer):
		s.FinalAnswer = *s.DocAnswer
	case s.KnowledgeAnswer != nil:
		s.FinalAnswer = *s.KnowledgeAnswer
		s = s.withCitations(nil)
	case s.FinalAnswer != "":
	default:
		s.FinalAnswer = MsgNoConclusiveAnswer
		s = s.withCitations(nil)
	}
	return s
}

// format 是正常路径的终点，保证 FinalAnswer 非空且引用与答案来源一致
func (o *Orchestrator) format(ctx context.Context, s State) State {
	log := o.log(ctx, StageFormat)

	if s.HasError() && !readsAsError(s.FinalAnswer) {
		s.FinalAnswer = formatErrorAnswer(*s.Error)
		s = s.withCitations(nil)
	} else if strings.TrimSpace(s.FinalAnswer) == "" {
		switch {
		case s.SynthesizedAnswer != nil:
			s.FinalAnswer = *s.SynthesizedAnswer
		case IsConclusive(s.DocAnswer):
			s.FinalAnswer = *s.DocAnswer
		case s.KnowledgeAnswer != nil:
			s.FinalAnswer = *s.KnowledgeAnswer
			s = s.withCitations(nil)
		case s.DocAnswer != nil:
			s.FinalAnswer = *s.DocAnswer
		}
	}
	if strings.TrimSpace(s.FinalAnswer) == "" {
		s.FinalAnswer = MsgUnableToProcess
		s = s.withCitations(nil)
	}

	log.Info("final response ready",
		zap.String("answer", preview(s.FinalAnswer, 200)),
		zap.Any("citations", s.Citations))
	return s
}

// handleError 不做任何外部调用，不会失败
func (o *Orchestrator) handleError(ctx context.Context, s State) State {
	msg := s.ErrorMessage()
	if msg == "" {
		msg = "An unknown error occurred during processing."
	}
	o.log(ctx, StageHandleError).Error("pass terminated by error handler", zap.String("error", msg))
	s.FinalAnswer = apologyAnswer(msg)
	return s.withCitations(nil)
}

func (o *Orchestrator) generate(ctx context.Context, stage Stage, prompt string) (string, error) {
	start := time.Now()
	out, err := o.generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errEmptyGeneration
	}
	o.recorder.ObserveGatewayCall("llm", stage.String(), start, err)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) query(ctx context.Context, text string, filter *Filter) ([]Passage, error) {
	if o.retriever == nil {
		return nil, errRetrieverUnavailable
	}
	start := time.Now()
	out, err := o.retriever.Query(ctx, text, o.topK, filter)
	o.recorder.ObserveGatewayCall("retrieval", StageRetrieve.String(), start, err)
	return out, err
}

func (o *Orchestrator) log(ctx context.Context, stage Stage) *zap.Logger {
	return o.logger.With(zap.String("stage", stage.String()), zap.String("trace_id", GetTraceID(ctx)))
}

func preview(s string, n int) string {
	if cut, ok := truncateRunes(s, n); ok {
		return cut + "..."
	}
	return s
}
