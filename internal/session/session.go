package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srilekha18-11/RAG/internal/rag"
	"github.com/srilekha18-11/RAG/internal/storage"
	"go.uber.org/zap"
)

// 一轮问答的结果分类，用于指标
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeCritical = "critical"
)

const criticalPrefix = "Sorry, a critical error occurred: "

// Answerer 执行一次问答流程，*rag.Orchestrator 实现了它
type Answerer interface {
	Answer(ctx context.Context, query string, history []rag.Turn) (rag.State, error)
}

// Store 持久化会话历史与问答记录，*storage.Storage 实现了它
type Store interface {
	AppendTurns(ctx context.Context, sessionID string, turns []storage.ChatTurn) error
	ListTurns(ctx context.Context, q storage.TurnQuery) ([]storage.ChatTurn, error)
	InsertQueryRecord(ctx context.Context, rec *storage.QueryRecord) error
}

// AnswerRecorder 统计问答结果
type AnswerRecorder interface {
	IncAnswer(outcome string)
}

type Options struct {
	// ID 为空时生成新的会话 ID
	ID string
	// DisplayTurns 为界面展示的最近消息条数，<=0 时为 10
	DisplayTurns int
	// Store 为 nil 时不持久化
	Store    Store
	Recorder AnswerRecorder
	Logger   *zap.Logger
}

// Result 是一轮问答交给界面的结果
type Result struct {
	TraceID   string
	Answer    string
	Citations []rag.Citation
	State     rag.State
	// Critical 非 nil 表示流程本身失败，Answer 为兜底文案
	Critical error
}

// Session 持有一个对话的历史。
// 每轮问答拷贝一份历史交给流程，流程结束后才追加本轮的提问与回答。
type Session struct {
	id           string
	answerer     Answerer
	store        Store
	recorder     AnswerRecorder
	logger       *zap.Logger
	displayTurns int

	mu      sync.Mutex
	history []rag.Turn
}

func New(answerer Answerer, opts Options) (*Session, error) {
	if answerer == nil {
		return nil, errors.New("session: answerer is required")
	}
	s := &Session{
		id:           opts.ID,
		answerer:     answerer,
		store:        opts.Store,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		displayTurns: opts.DisplayTurns,
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.displayTurns <= 0 {
		s.displayTurns = 10
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("component", "session"), zap.String("session_id", s.id))
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Load 从存储恢复最近 limit 条历史，覆盖内存中的历史
func (s *Session) Load(ctx context.Context, limit int) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.ListTurns(ctx, storage.TurnQuery{SessionID: s.id, Limit: limit})
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}
	history := make([]rag.Turn, 0, len(rows))
	for _, r := range rows {
		history = append(history, rag.Turn{Role: rag.Role(r.Role), Text: r.Text})
	}

	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
	s.logger.Info("session history loaded", zap.Int("turns", len(history)))
	return nil
}

// History 返回完整历史的拷贝
func (s *Session) History() []rag.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rag.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Display 返回界面需要展示的最近 DisplayTurns 条消息
func (s *Session) Display() []rag.Turn {
	h := s.History()
	if len(h) > s.displayTurns {
		h = h[len(h)-s.displayTurns:]
	}
	return h
}

// Clear 清空内存中的历史，已持久化的记录保留
func (s *Session) Clear() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	s.logger.Info("session history cleared")
}

// Ask 执行一轮问答。流程失败不会返回 error，而是以兜底回答写入历史，
// 只有空输入会直接返回 rag.ErrEmptyQuery。
func (s *Session) Ask(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, rag.ErrEmptyQuery
	}

	traceID := uuid.New().String()
	ctx = rag.WithTraceID(ctx, traceID)
	started := time.Now().UTC()

	state, err := s.answerer.Answer(ctx, query, s.History())
	finished := time.Now().UTC()

	res := Result{TraceID: traceID, State: state}
	outcome := OutcomeSuccess
	if err != nil {
		s.logger.Error("answer pass failed", zap.String("trace_id", traceID), zap.Error(err))
		res.Critical = err
		res.Answer = criticalPrefix + err.Error()
		res.Citations = []rag.Citation{}
		outcome = OutcomeCritical
	} else {
		res.Answer = state.FinalAnswer
		res.Citations = state.Citations
		if res.Citations == nil {
			res.Citations = []rag.Citation{}
		}
		if state.HasError() {
			outcome = OutcomeDegraded
		}
	}

	s.mu.Lock()
	s.history = append(s.history,
		rag.Turn{Role: rag.RoleUser, Text: query},
		rag.Turn{Role: rag.RoleAssistant, Text: res.Answer},
	)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.IncAnswer(outcome)
	}
	s.persist(ctx, query, res, started, finished)
	return res, nil
}

// persist 写入失败只记录日志，不影响本轮回答
func (s *Session) persist(ctx context.Context, query string, res Result, started, finished time.Time) {
	if s.store == nil {
		return
	}
	// 界面退出时 ctx 可能已取消，写入仍需完成
	ctx = context.WithoutCancel(ctx)

	turns := []storage.ChatTurn{
		{Role: string(rag.RoleUser), Text: query, TraceID: res.TraceID},
		{Role: string(rag.RoleAssistant), Text: res.Answer, TraceID: res.TraceID},
	}
	if err := s.store.AppendTurns(ctx, s.id, turns); err != nil {
		s.logger.Warn("persist chat turns failed", zap.String("trace_id", res.TraceID), zap.Error(err))
	}

	if err := s.store.InsertQueryRecord(ctx, buildRecord(s.id, query, res, started, finished)); err != nil {
		s.logger.Warn("persist query record failed", zap.String("trace_id", res.TraceID), zap.Error(err))
	}
}

func buildRecord(sessionID, query string, res Result, started, finished time.Time) *storage.QueryRecord {
	st := res.State
	trail := make([]string, 0, len(st.Trail))
	for _, stage := range st.Trail {
		trail = append(trail, stage.String())
	}
	citations, err := json.Marshal(res.Citations)
	if err != nil {
		citations = []byte("[]")
	}

	rec := &storage.QueryRecord{
		TraceID:             res.TraceID,
		SessionID:           sessionID,
		Query:               query,
		ProcessedQuery:      st.ProcessedQuery,
		Trail:               strings.Join(trail, ","),
		DocSearchPerformed:  st.DocSearchPerformed,
		KnowledgeRestricted: st.KnowledgeRestricted,
		PassageCount:        len(st.RetrievedPassages),
		FinalAnswer:         res.Answer,
		CitationsJSON:       string(citations),
		Status:              storage.StatusSuccess,
		StartedAt:           started,
		FinishedAt:          finished,
	}
	switch {
	case res.Critical != nil:
		rec.Status = storage.StatusFailed
		rec.ErrorMessage = res.Critical.Error()
	case st.HasError():
		rec.Status = storage.StatusFailed
		rec.ErrorMessage = st.ErrorMessage()
	}
	return rec
}
