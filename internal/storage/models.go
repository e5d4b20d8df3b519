package storage

import "time"

// ChatTurn 是会话历史中的一条记录（用户输入或助手回答）。
//
// 一轮问答完成后，用户与助手两条记录在同一事务中写入，
// 因此同一会话内 Seq 严格递增且不会出现只有提问没有回答的半轮。
type ChatTurn struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// SessionID 标识一个对话会话；与 Seq 组成联合唯一索引。
	SessionID string `gorm:"size:64;not null;uniqueIndex:idx_chat_turns_session_seq,priority:1"`
	// Seq 为会话内的顺序号，从 1 开始。
	Seq int `gorm:"not null;uniqueIndex:idx_chat_turns_session_seq,priority:2"`
	// Role 为 user 或 assistant。
	Role string `gorm:"size:16;not null"`
	Text string `gorm:"type:text;not null"`
	// TraceID 关联产生这条记录的那次问答。
	TraceID   string    `gorm:"size:64;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// QueryRecord 记录一次问答流程的输入、路由结果与最终答案，用于追溯与统计。
type QueryRecord struct {
	// ID 为自增主键（内部使用）。
	ID        uint64 `gorm:"primaryKey"`
	TraceID   string `gorm:"size:64;index"`
	SessionID string `gorm:"size:64;index"`
	// Query 为用户原始输入，ProcessedQuery 为预处理后用于检索的语句。
	Query          string `gorm:"type:text;not null"`
	ProcessedQuery string `gorm:"type:text"`
	// Trail 为实际经过的阶段，逗号分隔。
	Trail               string `gorm:"size:512"`
	DocSearchPerformed  bool
	KnowledgeRestricted bool
	// PassageCount 为检索到的段落数。
	PassageCount int
	FinalAnswer  string `gorm:"type:text"`
	// CitationsJSON 为引用列表的 JSON 表示。
	CitationsJSON string `gorm:"type:text"`
	// Status 为 success 或 failed（流程中记录了错误）。
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SessionSummary 是按会话聚合后的概况
type SessionSummary struct {
	SessionID string
	Turns     int64
	LastAt    time.Time
}
