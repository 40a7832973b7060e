package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// SessionState 定义语音会话的所有可能状态
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"       // 空闲，可以开始新一轮或切换助手
	SessionStateListening  SessionState = "listening"  // 正在采集语音
	SessionStateProcessing SessionState = "processing" // 等待对话后端返回
	SessionStateSpeaking   SessionState = "speaking"   // 正在播放助手回复
)

// SessionTransition 定义会话状态迁移
type SessionTransition struct {
	From SessionState
	To   SessionState
}

// SessionStateMachine 语音会话状态机
type SessionStateMachine struct {
	// 定义所有合法的状态迁移
	allowedTransitions map[SessionTransition]bool
}

// NewSessionStateMachine 创建新的会话状态机
func NewSessionStateMachine() *SessionStateMachine {
	sm := &SessionStateMachine{
		allowedTransitions: make(map[SessionTransition]bool),
	}

	// 定义合法的状态迁移路径
	// idle -> listening -> processing -> speaking -> idle
	// 任何错误、取消都直接回到 idle
	transitions := []SessionTransition{
		// 正常一轮对话
		{SessionStateIdle, SessionStateListening},
		{SessionStateListening, SessionStateProcessing},
		{SessionStateProcessing, SessionStateSpeaking},
		{SessionStateSpeaking, SessionStateIdle},

		// 提前结束
		{SessionStateListening, SessionStateIdle},  // 空识别结果/识别错误/取消
		{SessionStateProcessing, SessionStateIdle}, // 后端失败/关闭对话框
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *SessionStateMachine) CanTransition(from, to SessionState) bool {
	if from == to {
		return false // 不允许状态不变
	}
	return sm.allowedTransitions[SessionTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *SessionStateMachine) ValidateTransition(from, to SessionState) error {
	if !sm.CanTransition(from, to) {
		return &InvalidSessionStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *SessionStateMachine) Transition(from, to SessionState, sessionID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("会话状态迁移被拒绝: sessionID=%s, %s -> %s, error=%v",
			sessionID, from, to, err)
		return err
	}

	klog.V(6).Infof("会话状态迁移成功: sessionID=%s, %s -> %s", sessionID, from, to)
	return nil
}

// InvalidSessionStateTransitionError 无效的会话状态迁移错误
type InvalidSessionStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidSessionStateTransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s", e.From, e.To)
}

// IsBusy 判断会话是否处于一轮对话中（listening/processing/speaking）
func IsBusy(state SessionState) bool {
	return state != SessionStateIdle
}
