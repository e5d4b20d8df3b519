package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// 模板使用 FString 语法，JSON 中的花括号需要写成 {{ }}
const preprocessTemplate = `Given the user's latest query and the chat history, analyse the query.

1. List filenames (e.g. "paper1.pdf") explicitly mentioned in the LATEST query. Complete a partial name only when it is unambiguous.
2. If the query names a specific table or figure (e.g. "Table A.1"), extract that identifier, otherwise null.
3. Decide whether the query explicitly forbids external or general knowledge (e.g. "only from the PDF").
4. Rewrite the query into a concise statement optimised for semantic search over document chunks. Keep any table identifier verbatim and use chat history to resolve references.
5. Decide whether the query asks for a specific value, range, data points, or a table explanation.

Chat History:
{chat_history}

User's Latest Query: {user_query}

Respond with a JSON object only:
{{
    "explicit_filenames": ["filename1.pdf"] | null,
    "target_table_identifier": "Table 3" | null,
    "external_knowledge_forbidden": boolean,
    "retrieval_query": "rephrased query",
    "value_query_intent": {{
        "is_value_query": boolean,
        "type": "specific_value" | "table_explanation" | "data_points" | "none",
        "details": "short explanation"
    }}
}}`

const docAnswerTemplate = `You are a helpful assistant for engineering research.
Answer the user's query using ONLY the document context below. Do not use general knowledge.

User Query: {user_query}

Chat History:
{chat_history}

---BEGIN DOCUMENT CONTEXT---
{documents}
---END DOCUMENT CONTEXT---

Instructions:
- If the query names a table, find the chunk containing it and explain its columns, rows and data. If it is absent, say "The specific table '<name>' was not found in the retrieved document sections."
- For values or ranges, quote exact numbers with units and say when they come from a table.
- Every fact taken from the documents MUST carry a citation of the form [Source: <source_file>, Page: <page_number>].
- If the context cannot answer the query, respond with "The provided documents do not contain sufficient information to answer this query."

Answer:`

const necessityTemplate = `User Query: {user_query}
Answer derived from documents: {doc_answer}

Is the document answer sufficient, or would general knowledge significantly improve it by adding broader context or filling gaps the documents do not cover?

Respond with a JSON object only:
{{
    "needs_general_knowledge": boolean,
    "reason": "short explanation"
}}`

const knowledgeTemplate = `Chat History (for context, if any):
{chat_history}

User Query: {user_query}

Based on your general knowledge, please provide an answer to the user's query.`

const synthesizeTemplate = `You are combining two answers to the same query into one response.
User's Original Query: {user_query}

1. Answer based ONLY on documents:
"{doc_answer}"
Citations for this answer: {citations}

2. Answer based on general knowledge:
"{knowledge_answer}"

Guidelines:
- Prefer the document answer when it addresses the query, and keep all of its citations inline.
- Integrate general knowledge only where it adds relevant information, and label it as general knowledge.
- If both agree, keep the document answer with citations and note that general knowledge concurs.
- If they contradict each other, present both and point out the discrepancy.
- Do not invent citations.

Synthesized Answer:`

type promptSet struct {
	preprocess prompt.ChatTemplate
	docAnswer  prompt.ChatTemplate
	necessity  prompt.ChatTemplate
	knowledge  prompt.ChatTemplate
	synthesize prompt.ChatTemplate
}

func newPromptSet() promptSet {
	tpl := func(text string) prompt.ChatTemplate {
		return prompt.FromMessages(schema.FString, schema.UserMessage(text))
	}
	return promptSet{
		preprocess: tpl(preprocessTemplate),
		docAnswer:  tpl(docAnswerTemplate),
		necessity:  tpl(necessityTemplate),
		knowledge:  tpl(knowledgeTemplate),
		synthesize: tpl(synthesizeTemplate),
	}
}

// render 将模板渲染为发送给语言模型网关的纯文本
func render(ctx context.Context, t prompt.ChatTemplate, vars map[string]any) (string, error) {
	msgs, err := t.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// FormatChatHistory 取最近 maxTurns 轮对话渲染为 "User:"/"AI:" 行
func FormatChatHistory(history []Turn, maxTurns int) string {
	if len(history) == 0 {
		return "No chat history available."
	}
	recent := history
	if maxTurns > 0 && len(recent) > maxTurns*2 {
		recent = recent[len(recent)-maxTurns*2:]
	}
	lines := make([]string, 0, len(recent))
	for _, t := range recent {
		switch t.Role {
		case RoleUser:
			lines = append(lines, "User: "+t.Text)
		case RoleAssistant:
			lines = append(lines, "AI: "+t.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// FormatPassages 把检索结果完整地放进提示词，不做截断
func FormatPassages(passages []Passage) string {
	if len(passages) == 0 {
		return "No documents retrieved to format."
	}
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "Document %d (Source: %s, Page: %s, Type: %s):\n%s\n---END DOCUMENT %d---\n\n",
			i+1, metaOr(p.Metadata, "source_file", "N/A"), metaOr(p.Metadata, "page_number", "N/A"),
			metaOr(p.Metadata, "chunk_type", "text"), p.Content, i+1)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCitations(c []Citation) string {
	if len(c) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func metaOr(m map[string]string, key, def string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return def
}
