package repository

import (
	"context"

	"github.com/weibaohui/voicechef/backend/internal/model"
	"gorm.io/gorm"
)

// TurnStats 对话结果统计
type TurnStats struct {
	TotalCount       int64            `json:"total_count"`
	CompletedCount   int64            `json:"completed_count"`
	FailedCount      int64            `json:"failed_count"`
	SuggestionCount  int64            `json:"suggestion_count"`
	AvgDispatchMs    float64          `json:"avg_dispatch_ms"`
	CountByOutcome   map[string]int64 `json:"count_by_outcome"`
	CountByAssistant map[string]int64 `json:"count_by_assistant"`
}

// TurnRecordRepository 对话审计仓储接口
type TurnRecordRepository interface {
	// Create 写入一条记录
	Create(ctx context.Context, record *model.TurnRecord) error

	// ListRecent 按结束时间倒序列出最近的记录，sessionID 为空时不过滤
	ListRecent(ctx context.Context, sessionID string, limit int) ([]*model.TurnRecord, error)

	// Stats 汇总统计
	Stats(ctx context.Context) (*TurnStats, error)
}

type turnRecordRepository struct {
	db *gorm.DB
}

// NewTurnRecordRepository 创建对话审计仓储
func NewTurnRecordRepository(db *gorm.DB) TurnRecordRepository {
	return &turnRecordRepository{db: db}
}

func (r *turnRecordRepository) Create(ctx context.Context, record *model.TurnRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *turnRecordRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]*model.TurnRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&model.TurnRecord{})
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	var records []*model.TurnRecord
	err := query.Order("finished_at DESC, id DESC").Limit(limit).Find(&records).Error
	return records, err
}

func (r *turnRecordRepository) Stats(ctx context.Context) (*TurnStats, error) {
	type summary struct {
		TotalCount      int64
		CompletedCount  int64
		FailedCount     int64
		SuggestionCount int64
		AvgDispatchMs   float64
	}

	var result summary
	err := r.db.WithContext(ctx).
		Model(&model.TurnRecord{}).
		Select(`
			COUNT(*) as total_count,
			COALESCE(SUM(CASE WHEN outcome = 'completed' THEN 1 ELSE 0 END), 0) as completed_count,
			COALESCE(SUM(CASE WHEN outcome LIKE '%_failed' THEN 1 ELSE 0 END), 0) as failed_count,
			COALESCE(SUM(CASE WHEN has_suggestion THEN 1 ELSE 0 END), 0) as suggestion_count,
			COALESCE(AVG(CASE WHEN dispatch_millis > 0 THEN dispatch_millis END), 0) as avg_dispatch_ms
		`).
		Scan(&result).Error
	if err != nil {
		return nil, err
	}

	stats := &TurnStats{
		TotalCount:      result.TotalCount,
		CompletedCount:  result.CompletedCount,
		FailedCount:     result.FailedCount,
		SuggestionCount: result.SuggestionCount,
		AvgDispatchMs:   result.AvgDispatchMs,
	}
	if stats.CountByOutcome, err = r.countBy(ctx, "outcome"); err != nil {
		return nil, err
	}
	if stats.CountByAssistant, err = r.countBy(ctx, "assistant"); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *turnRecordRepository) countBy(ctx context.Context, column string) (map[string]int64, error) {
	type row struct {
		GroupKey string
		Count    int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.TurnRecord{}).
		Select(column + " as group_key, COUNT(*) as count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, item := range rows {
		counts[item.GroupKey] = item.Count
	}
	return counts, nil
}
