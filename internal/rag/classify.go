package rag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// 两个分类调用解析失败时采用的兜底策略
const (
	// 预处理失败：不要求检索、不限制外部知识，检索语句退回原始问题
	PreprocessFallbackRequiresDocSearch   = false
	PreprocessFallbackKnowledgeRestricted = false
	// 必要性检查失败：倾向于补充通用知识
	NecessityFallbackNeedsKnowledge = true
)

// ClassificationError 表示模型返回的半结构化结果无法按约定的 schema 解析
type ClassificationError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: parse structured output: %v", e.Stage, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// ValueQueryIntent 描述问题是否在查询具体数值或表格
type ValueQueryIntent struct {
	IsValueQuery bool   `json:"is_value_query"`
	Type         string `json:"type"`
	Details      string `json:"details"`
}

// PreprocessDecision 是预处理调用返回的结构化结果
type PreprocessDecision struct {
	RetrievalQuery             string           `json:"retrieval_query"`
	ExternalKnowledgeForbidden bool             `json:"external_knowledge_forbidden"`
	ExplicitFilenames          []string         `json:"explicit_filenames"`
	TargetTableIdentifier      *string          `json:"target_table_identifier"`
	ValueQueryIntent           ValueQueryIntent `json:"value_query_intent"`
}

// NecessityDecision 是“是否需要通用知识补充”检查的结构化结果
type NecessityDecision struct {
	NeedsGeneralKnowledge bool   `json:"needs_general_knowledge"`
	Reason                string `json:"reason"`
}

// ParsePreprocessDecision 解析预处理调用的输出
func ParsePreprocessDecision(raw string) (PreprocessDecision, error) {
	var d PreprocessDecision
	if err := parseStructured(raw, &d); err != nil {
		return PreprocessDecision{}, &ClassificationError{Stage: StagePreprocess.String(), Raw: raw, Err: err}
	}
	return d, nil
}

// ParseNecessityDecision 解析必要性检查的输出
func ParseNecessityDecision(raw string) (NecessityDecision, error) {
	var d NecessityDecision
	if err := parseStructured(raw, &d); err != nil {
		return NecessityDecision{}, &ClassificationError{Stage: StageRoute.String(), Raw: raw, Err: err}
	}
	return d, nil
}

// parseStructured 去掉可能存在的 ``` 代码块包裹后按 JSON 解析，失败时尝试修复一次
func parseStructured(raw string, v any) error {
	body := stripCodeFence(raw)
	if body == "" {
		return fmt.Errorf("empty output")
	}
	err := json.Unmarshal([]byte(body), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(body)
	if repairErr != nil {
		return err
	}
	if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
		return err
	}
	return nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
