package orchestrator

import (
	"time"

	"github.com/weibaohui/voicechef/backend/internal/domain"
)

// turnTracker 记录一轮对话的统计信息，不保存对话内容
type turnTracker struct {
	number         uint64
	assistant      domain.AssistantIdentity
	startedAt      time.Time
	utteranceChars int
	responseChars  int
	hasSuggestion  bool
	dispatchStart  time.Time
	dispatchTime   time.Duration
}

func newTurnTracker(number uint64, identity domain.AssistantIdentity) *turnTracker {
	return &turnTracker{
		number:    number,
		assistant: identity,
		startedAt: time.Now(),
	}
}

func (t *turnTracker) dispatched() {
	t.dispatchStart = time.Now()
}

func (t *turnTracker) dispatchDone() {
	if !t.dispatchStart.IsZero() && t.dispatchTime == 0 {
		t.dispatchTime = time.Since(t.dispatchStart)
	}
}

func (t *turnTracker) replied(text string, suggestion *domain.Suggestion) {
	t.dispatchDone()
	t.responseChars = len([]rune(text))
	t.hasSuggestion = suggestion != nil
}

func (t *turnTracker) outcome(sessionID string, kind domain.TurnOutcomeKind, errorKind string) domain.TurnOutcome {
	return domain.TurnOutcome{
		SessionID:      sessionID,
		Turn:           t.number,
		Assistant:      t.assistant,
		Outcome:        kind,
		ErrorKind:      errorKind,
		UtteranceChars: t.utteranceChars,
		ResponseChars:  t.responseChars,
		HasSuggestion:  t.hasSuggestion,
		StartedAt:      t.startedAt,
		FinishedAt:     time.Now(),
		DispatchTime:   t.dispatchTime,
	}
}
