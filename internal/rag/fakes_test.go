package rag

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

var errGatewayDown = errors.New("gateway unavailable")

// reply 是伪造模型针对某一阶段的回复，err 非空时该阶段调用失败
type reply struct {
	text string
	err  error
}

// fakeGenerator 根据提示词中的固定标记识别阶段，并记录每个阶段的调用次数
type fakeGenerator struct {
	mu      sync.Mutex
	replies map[Stage]reply
	calls   map[Stage]int
	prompts map[Stage][]string
}

func newFakeGenerator(replies map[Stage]reply) *fakeGenerator {
	return &fakeGenerator{
		replies: replies,
		calls:   map[Stage]int{},
		prompts: map[Stage][]string{},
	}
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	stage := stageOfPrompt(prompt)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[stage]++
	f.prompts[stage] = append(f.prompts[stage], prompt)
	r, ok := f.replies[stage]
	if !ok {
		return "", errGatewayDown
	}
	return r.text, r.err
}

func (f *fakeGenerator) count(stage Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeGenerator) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func stageOfPrompt(prompt string) Stage {
	switch {
	case strings.Contains(prompt, "Synthesized Answer:"):
		return StageSynthesize
	case strings.Contains(prompt, "needs_general_knowledge"):
		return StageRoute
	case strings.Contains(prompt, "---BEGIN DOCUMENT CONTEXT---"):
		return StageDocAnswer
	case strings.Contains(prompt, "User's Latest Query:"):
		return StagePreprocess
	case strings.Contains(prompt, "Based on your general knowledge"):
		return StageKnowledge
	}
	return StageNone
}

type fakeRetriever struct {
	mu       sync.Mutex
	passages []Passage
	err      error
	calls    int
	filters  []*Filter
	queries  []string
	topKs    []int
}

func (f *fakeRetriever) Query(_ context.Context, text string, topK int, filter *Filter) ([]Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, filter)
	f.queries = append(f.queries, text)
	f.topKs = append(f.topKs, topK)
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

func passage(file string, page int, content string) Passage {
	return Passage{
		Content: content,
		Metadata: map[string]string{
			"source_file":       file,
			FilenameFilterField: strings.ToLower(file),
			"page_number":       strconv.Itoa(page),
			"chunk_type":        "text",
		},
		Distance: 0.1,
	}
}

const (
	preprocessPaperJSON   = `{"explicit_filenames": ["paper1.pdf"], "target_table_identifier": null, "external_knowledge_forbidden": false, "retrieval_query": "tensile strength", "value_query_intent": {"is_value_query": true, "type": "specific_value", "details": "strength value"}}`
	preprocessGeneralJSON = `{"explicit_filenames": null, "target_table_identifier": null, "external_knowledge_forbidden": false, "retrieval_query": "what is concrete", "value_query_intent": {"is_value_query": false, "type": "none", "details": ""}}`
	necessityNoJSON       = `{"needs_general_knowledge": false, "reason": "documents suffice"}`
	necessityYesJSON      = `{"needs_general_knowledge": true, "reason": "add context"}`
)
