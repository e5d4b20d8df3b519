package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetentionPolicy 描述历史数据的保留策略，字段为零值时不按该维度清理
type RetentionPolicy struct {
	// KeepRecords 只保留最近的 N 条问答记录
	KeepRecords int `mapstructure:"keep_records"`
	// MaxAge 删除早于 now-MaxAge 的问答记录与对话
	MaxAge time.Duration `mapstructure:"max_age"`
}

// Enabled 报告策略是否会删除任何数据
func (p RetentionPolicy) Enabled() bool {
	return p.KeepRecords > 0 || p.MaxAge > 0
}

// PruneResult 汇总一次清理删除的行数
type PruneResult struct {
	QueryRecords int64
	ChatTurns    int64
}

// Prune 按策略清理一次。先按条数再按时间，两步各自独立生效。
func (s *Storage) Prune(ctx context.Context, p RetentionPolicy, now time.Time) (PruneResult, error) {
	var res PruneResult
	if s == nil || s.db == nil {
		return res, errors.New("storage not initialized")
	}
	if p.KeepRecords < 0 || p.MaxAge < 0 {
		return res, fmt.Errorf("invalid retention policy: keep=%d max_age=%s", p.KeepRecords, p.MaxAge)
	}

	if p.KeepRecords > 0 {
		n, err := s.DeleteQueryRecordsKeepLatest(ctx, p.KeepRecords)
		if err != nil {
			return res, err
		}
		res.QueryRecords += n
	}

	if p.MaxAge > 0 {
		before := now.UTC().Add(-p.MaxAge)
		n, err := s.DeleteQueryRecordsBefore(ctx, before)
		if err != nil {
			return res, err
		}
		res.QueryRecords += n

		n, err = s.DeleteChatTurnsBefore(ctx, before)
		if err != nil {
			return res, err
		}
		res.ChatTurns += n
	}
	return res, nil
}
