package subscriber

import (
	"context"
	"fmt"

	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/model"
	"k8s.io/klog/v2"
)

type turnRecordWriter interface {
	Create(ctx context.Context, record *model.TurnRecord) error
}

// TurnAuditSubscriber 把每轮对话的结果写入审计表
type TurnAuditSubscriber struct {
	repo turnRecordWriter
}

func NewTurnAuditSubscriber(repo turnRecordWriter) *TurnAuditSubscriber {
	return &TurnAuditSubscriber{repo: repo}
}

func (s *TurnAuditSubscriber) Register(bus *eventbus.SessionEventBus) func() {
	if bus == nil {
		return func() {}
	}
	return bus.Subscribe(eventbus.SessionEventTurnFinished, s.handleTurnFinished)
}

func (s *TurnAuditSubscriber) handleTurnFinished(ctx context.Context, event eventbus.SessionEvent) error {
	if event.Outcome == nil {
		return fmt.Errorf("对话结果为空")
	}
	outcome := event.Outcome
	record := &model.TurnRecord{
		SessionID:      outcome.SessionID,
		Turn:           outcome.Turn,
		Assistant:      string(outcome.Assistant),
		Outcome:        string(outcome.Outcome),
		ErrorKind:      outcome.ErrorKind,
		UtteranceChars: outcome.UtteranceChars,
		ResponseChars:  outcome.ResponseChars,
		HasSuggestion:  outcome.HasSuggestion,
		DispatchMillis: outcome.DispatchTime.Milliseconds(),
		StartedAt:      outcome.StartedAt,
		FinishedAt:     outcome.FinishedAt,
	}
	// 审计写入不随会话取消
	if err := s.repo.Create(context.WithoutCancel(ctx), record); err != nil {
		klog.Errorf("写入对话审计失败: sessionID=%s, turn=%d, error=%v", outcome.SessionID, outcome.Turn, err)
		return err
	}
	klog.V(6).Infof("写入对话审计成功: sessionID=%s, turn=%d, outcome=%s", outcome.SessionID, outcome.Turn, outcome.Outcome)
	return nil
}
