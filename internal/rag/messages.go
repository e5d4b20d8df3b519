package rag

import (
	"fmt"
	"strings"
)

// 各阶段降级时写入的固定文案
const (
	MsgNoRelevantDocuments    = "No relevant documents were found to answer your query based on the specified criteria."
	MsgDocAnswerFailed        = "Sorry, an error occurred while generating the answer from documents."
	MsgKnowledgeFailed        = "Sorry, an error occurred while trying to answer from general knowledge."
	MsgRestrictedCannotAnswer = "I cannot answer this query with the current restrictions as no relevant documents were found or searched."
	MsgNoConclusiveAnswer     = "I could not find a conclusive answer from available sources."
	MsgUnableToProcess        = "I'm sorry, I was unable to process your request fully or find a conclusive answer."
)

// 错误前缀，写入 State.Error
const (
	errPrefixPreprocess = "Error during query preprocessing"
	errPrefixRetrieve   = "Error retrieving documents"
	errPrefixDocAnswer  = "Error generating answer from docs"
	errPrefixKnowledge  = "Error generating general knowledge"
	errPrefixSynthesize = "Error synthesizing answers"

	errorDetailLimit = 100
)

// failurePhrases 出现在文档答案中即视为“未得出结论”。
// 这些短语与文档问答提示词的措辞耦合，改提示词时需要同步。
var failurePhrases = []string{
	"cannot answer",
	"not contain sufficient information",
	"no relevant documents",
	"couldn't find relevant information",
}

// IsConclusive 判断文档答案是否给出了结论
func IsConclusive(answer *string) bool {
	if answer == nil {
		return false
	}
	lower := strings.ToLower(*answer)
	for _, p := range failurePhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

func formatErrorAnswer(errMsg string) string {
	return fmt.Sprintf("An error occurred: %s", errMsg)
}

func apologyAnswer(errMsg string) string {
	return fmt.Sprintf("I apologize, an error occurred: %s", errMsg)
}

// readsAsError 判断最终答案是否已经是错误提示
func readsAsError(answer string) bool {
	lower := strings.ToLower(answer)
	return strings.HasPrefix(lower, "an error occurred") || strings.HasPrefix(lower, "i apologize")
}

func synthesisFallback(docAnswer, knowledgeAnswer *string) string {
	return fmt.Sprintf("Sorry, an error occurred while combining information. From documents: %s. From general knowledge: %s.",
		orNA(docAnswer), orNA(knowledgeAnswer))
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}
