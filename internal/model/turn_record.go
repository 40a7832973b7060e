package model

import (
	"time"

	"gorm.io/gorm"
)

// TurnRecord 一轮语音对话的审计记录，只保存统计信息，不保存对话内容
type TurnRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	SessionID      string    `json:"session_id" gorm:"size:64;index:idx_turn_records_session;not null"`
	Turn           uint64    `json:"turn" gorm:"not null"`
	Assistant      string    `json:"assistant" gorm:"size:20;index:idx_turn_records_assistant;not null"`
	Outcome        string    `json:"outcome" gorm:"size:32;index:idx_turn_records_outcome;not null"` // completed/interrupted/empty/...
	ErrorKind      string    `json:"error_kind" gorm:"size:64"`
	UtteranceChars int       `json:"utterance_chars" gorm:"default:0"`
	ResponseChars  int       `json:"response_chars" gorm:"default:0"`
	HasSuggestion  bool      `json:"has_suggestion" gorm:"default:false"`
	DispatchMillis int64     `json:"dispatch_ms" gorm:"default:0"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at" gorm:"index:idx_turn_records_finished"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName 指定表名
func (TurnRecord) TableName() string {
	return "turn_records"
}

// Duration 一轮对话的总耗时
func (r *TurnRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BeforeCreate GORM 钩子：补齐结束时间
func (r *TurnRecord) BeforeCreate(tx *gorm.DB) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	return nil
}
