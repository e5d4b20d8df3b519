package rag

import (
	"context"

	"go.uber.org/zap"
)

// decideRoute 按优先级决定文档问答之后的去向。
// 只写 ShouldCompare 与 FinalAnswer，必要性检查失败时不记录错误。
func (o *Orchestrator) decideRoute(ctx context.Context, s State) (State, Stage) {
	log := o.log(ctx, StageRoute)

	if s.HasError() {
		log.Warn("error recorded earlier in the pass, routing to error handler", zap.String("error", s.ErrorMessage()))
		return s, StageHandleError
	}

	if s.KnowledgeRestricted {
		if s.DocAnswer != nil {
			s.FinalAnswer = *s.DocAnswer
		} else {
			s.FinalAnswer = MsgRestrictedCannotAnswer
			s = s.withCitations(nil)
		}
		log.Info("external knowledge forbidden, answering from documents only")
		return s, StageFormat
	}

	conclusive := IsConclusive(s.DocAnswer)

	if s.DocSearchPerformed && s.docSearchExpected() && !conclusive {
		log.Info("document answer inconclusive, falling back to general knowledge")
		s.ShouldCompare = false
		return s, StageKnowledge
	}

	if !s.DocSearchPerformed && s.DocAnswer == nil {
		log.Info("no document search performed, using general knowledge")
		s.ShouldCompare = false
		return s, StageKnowledge
	}

	if conclusive {
		needs := o.checkNecessity(ctx, s)
		if needs {
			log.Info("document answer could be enriched, comparing with general knowledge")
			s.ShouldCompare = true
			return s, StageKnowledge
		}
		log.Info("document answer sufficient")
		s.FinalAnswer = *s.DocAnswer
		return s, StageFormat
	}

	if s.DocAnswer != nil {
		s.FinalAnswer = *s.DocAnswer
		return s, StageFormat
	}

	s.ShouldCompare = false
	return s, StageKnowledge
}

// checkNecessity 询问模型文档答案是否需要通用知识补充，任何失败都按 NecessityFallbackNeedsKnowledge 处理
func (o *Orchestrator) checkNecessity(ctx context.Context, s State) bool {
	log := o.log(ctx, StageRoute)

	text, err := render(ctx, o.prompts.necessity, map[string]any{
		"user_query": s.OriginalQuery,
		"doc_answer": *s.DocAnswer,
	})
	if err == nil {
		text, err = o.generate(ctx, StageRoute, text)
	}
	var d NecessityDecision
	if err == nil {
		d, err = ParseNecessityDecision(text)
	}
	if err != nil {
		log.Warn("necessity check failed, defaulting", zap.Bool("needs_general_knowledge", NecessityFallbackNeedsKnowledge), zap.Error(err))
		o.recorder.IncDegraded(StageRoute.String())
		return NecessityFallbackNeedsKnowledge
	}
	log.Debug("necessity check", zap.Bool("needs_general_knowledge", d.NeedsGeneralKnowledge), zap.String("reason", d.Reason))
	return d.NeedsGeneralKnowledge
}
