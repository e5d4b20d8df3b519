package rag

import "strings"

// Role 标识一条对话记录的发言方
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 是 chat history 中的一条记录
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Filter 是检索时的元数据过滤条件：Field 的取值属于 In 中任一值即命中。
// nil 表示检索整个语料库。
type Filter struct {
	Field string   `json:"field"`
	In    []string `json:"in"`
}

// FilenameFilterField 是入库时写入的小写文件名元数据字段
const FilenameFilterField = "normalized_filter_filename"

// Passage 是检索网关返回的一条结果，Distance 越小越相关
type Passage struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Citation 对应生成文本中的一个 [Source: <file>, Page: <n>] 标记
type Citation struct {
	Source string `json:"source_file"`
	Page   int    `json:"page_number"`
}

// State 是一次问答流程中在 Graph 里流转的状态。
// 每个阶段接收上一阶段的 State 值并返回新的值，切片字段只整体替换、不原地修改。
type State struct {
	OriginalQuery  string `json:"original_query"`
	ProcessedQuery string `json:"processed_query"`

	// 调用方拷贝进来的历史，流程内只读
	ChatHistory []Turn `json:"chat_history"`

	ExplicitTargetFiles []string `json:"explicit_target_files,omitempty"`
	RetrievalFilter     *Filter  `json:"retrieval_filter,omitempty"`

	RetrievedPassages []Passage `json:"retrieved_passages"`

	RequiresDocSearch   bool `json:"requires_doc_search"`
	DocSearchPerformed  bool `json:"doc_search_performed"`
	KnowledgeRestricted bool `json:"knowledge_restricted"`
	ShouldCompare       bool `json:"should_compare"`

	DocAnswer         *string `json:"doc_answer,omitempty"`
	KnowledgeAnswer   *string `json:"knowledge_answer,omitempty"`
	SynthesizedAnswer *string `json:"synthesized_answer,omitempty"`

	FinalAnswer string     `json:"final_answer"`
	Citations   []Citation `json:"citations"`

	Error *string `json:"error,omitempty"`

	// 显式信号字段，由路由节点写入，供 Graph 分支判断
	Next Stage `json:"next"`
	// 已执行的阶段，按执行顺序
	Trail []Stage `json:"trail"`
}

// NewState 为一轮用户输入构造全新的状态，history 会被拷贝
func NewState(query string, history []Turn) State {
	h := make([]Turn, len(history))
	copy(h, history)
	return State{
		OriginalQuery:     query,
		ChatHistory:       h,
		RetrievedPassages: []Passage{},
		Citations:         []Citation{},
	}
}

// HasError 报告流程中是否已记录错误
func (s State) HasError() bool {
	return s.Error != nil
}

// ErrorMessage 返回已记录的错误，没有则为空串
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// withError 记录错误，只保留第一次写入的值
func (s State) withError(prefix string, err error) State {
	if s.Error != nil || err == nil {
		return s
	}
	msg, _ := truncateRunes(err.Error(), errorDetailLimit)
	full := prefix + ": " + msg
	s.Error = &full
	return s
}

// truncateRunes 按字符截断到最多 n 个，第二个返回值表示是否发生了截断
func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

// docSearchExpected 为真表示本轮理应检索文档：意图要求或用户点名了文件
func (s State) docSearchExpected() bool {
	return s.RequiresDocSearch || len(s.ExplicitTargetFiles) > 0
}

func (s State) withCitations(c []Citation) State {
	if c == nil {
		c = []Citation{}
	}
	s.Citations = c
	return s
}

// filenameFilter 由显式文件名构造过滤条件，文件名统一转为小写并去重
func filenameFilter(files []string) *Filter {
	seen := make(map[string]struct{}, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		n := strings.ToLower(strings.TrimSpace(f))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil
	}
	return &Filter{Field: FilenameFilterField, In: names}
}

func strPtr(s string) *string {
	return &s
}
