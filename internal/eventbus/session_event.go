package eventbus

import "github.com/weibaohui/voicechef/backend/internal/domain"

type SessionEventType string

const (
	SessionEventSnapshot        SessionEventType = "Snapshot"        // 状态迁移后的快照
	SessionEventNotice          SessionEventType = "Notice"          // 用户提示
	SessionEventMessageAppended SessionEventType = "MessageAppended" // 会话新增消息
	SessionEventTurnFinished    SessionEventType = "TurnFinished"    // 一轮对话结束

	// 以下事件由桥接引擎发布，通知外部（浏览器/终端）开始或停止识别、播放
	SessionEventCaptureRequested  SessionEventType = "CaptureRequested"
	SessionEventCaptureStopped    SessionEventType = "CaptureStopRequested"
	SessionEventPlaybackRequested SessionEventType = "PlaybackRequested"
	SessionEventPlaybackCancelled SessionEventType = "PlaybackCancelled"
)

type SessionEvent struct {
	Type     SessionEventType
	Snapshot *domain.Snapshot
	Notice   *domain.Notice
	Message  *domain.Message
	Outcome  *domain.TurnOutcome

	// 桥接引擎使用：识别/播放会话 ID 以及要播放的文本
	MediaSession string
	Text         string
	Language     string
}

func (e SessionEvent) EventType() SessionEventType {
	return e.Type
}

type SessionEventHandler = Handler[SessionEvent]
type SessionEventBus = Bus[SessionEventType, SessionEvent]

func NewSessionEventBus() *SessionEventBus {
	return NewBus[SessionEventType, SessionEvent]()
}
