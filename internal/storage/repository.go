package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

// AppendTurns 在同一事务中追加一轮或多轮对话，Seq 接着会话内已有的最大值递增
func (s *Storage) AppendTurns(ctx context.Context, sessionID string, turns []ChatTurn) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if sessionID == "" {
		return errors.New("session id is empty")
	}
	if len(turns) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&ChatTurn{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("select max seq: %w", err)
		}

		now := time.Now().UTC()
		for i := range turns {
			turns[i].SessionID = sessionID
			maxSeq++
			turns[i].Seq = maxSeq
			if turns[i].CreatedAt.IsZero() {
				turns[i].CreatedAt = now
			}
		}
		if err := tx.Create(&turns).Error; err != nil {
			return fmt.Errorf("insert chat turns: %w", err)
		}
		return nil
	})
}

type TurnQuery struct {
	// SessionID 为必填的会话标识。
	SessionID string
	// Limit 限制返回条数；<=0 使用默认值。返回的总是最近的 Limit 条，按 Seq 升序排列。
	Limit int
}

// ListTurns 返回会话中最近的若干条记录，按时间先后排列
func (s *Storage) ListTurns(ctx context.Context, q TurnQuery) ([]ChatTurn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	if q.SessionID == "" {
		return nil, errors.New("session id is empty")
	}

	var out []ChatTurn
	err := s.db.WithContext(ctx).
		Where("session_id = ?", q.SessionID).
		Order("seq DESC").
		Limit(normalizeLimit(q.Limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListSessions 按最近活动时间倒序列出会话
func (s *Storage) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	type row struct {
		SessionID string
		Turns     int64
		LastAt    string
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&ChatTurn{}).
		Select("session_id, COUNT(*) AS turns, MAX(created_at) AS last_at").
		Group("session_id").
		Order("last_at DESC").
		Limit(normalizeLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionSummary{SessionID: r.SessionID, Turns: r.Turns, LastAt: parseSQLiteTime(r.LastAt)})
	}
	return out, nil
}

// DeleteSession 删除会话的全部历史，问答记录保留
func (s *Storage) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&ChatTurn{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete session: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountChatTurns(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&ChatTurn{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chat turns: %w", err)
	}
	return n, nil
}

func (s *Storage) DeleteChatTurnsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&ChatTurn{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat turns: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) InsertQueryRecord(ctx context.Context, rec *QueryRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("query record is nil")
	}
	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = now
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert query record: %w", err)
	}
	return nil
}

type RecordQuery struct {
	// SessionID/TraceID/Status 为可选过滤条件，均为精确匹配。
	SessionID string
	TraceID   string
	Status    string
	// From/To 过滤 StartedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 StartedAt 倒序返回。
	Desc bool
}

func (s *Storage) QueryRecords(ctx context.Context, q RecordQuery) ([]QueryRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&QueryRecord{})
	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("started_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("started_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("started_at DESC").Order("id DESC")
	} else {
		db = db.Order("started_at ASC").Order("id ASC")
	}

	var out []QueryRecord
	if err := db.Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}

func (s *Storage) CountQueryRecords(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&QueryRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count query records: %w", err)
	}
	return n, nil
}

func (s *Storage) DeleteQueryRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&QueryRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete query records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteQueryRecordsKeepLatest 只保留最近 keep 条记录，分批删除更早的部分
func (s *Storage) DeleteQueryRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	if keep < 0 {
		return 0, fmt.Errorf("keep must be >= 0, got %d", keep)
	}

	var cutoff []uint64
	if err := s.db.WithContext(ctx).Model(&QueryRecord{}).
		Select("id").
		Order("id DESC").
		Offset(keep).
		Limit(1).
		Find(&cutoff).Error; err != nil {
		return 0, fmt.Errorf("select cutoff id: %w", err)
	}
	if len(cutoff) == 0 {
		return 0, nil
	}

	var total int64
	for {
		var ids []uint64
		if err := s.db.WithContext(ctx).Model(&QueryRecord{}).
			Select("id").
			Where("id <= ?", cutoff[0]).
			Order("id ASC").
			Limit(normalizeDeleteLimit(0)).
			Find(&ids).Error; err != nil {
			return total, fmt.Errorf("select query record ids: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&QueryRecord{})
		if res.Error != nil {
			return total, fmt.Errorf("delete query records: %w", res.Error)
		}
		total += res.RowsAffected
	}
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

// parseSQLiteTime 解析聚合查询返回的时间文本，无法识别时返回零值
func parseSQLiteTime(v string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
