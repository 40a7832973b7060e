package domain

import (
	"time"

	"github.com/weibaohui/voicechef/backend/internal/service/statemachine"
)

// PermissionStatus 麦克风权限状态
type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// Snapshot 每次状态迁移后交给渲染端的只读快照
type Snapshot struct {
	SessionID     string                    `json:"session_id"`
	State         statemachine.SessionState `json:"state"`
	Assistant     AssistantIdentity         `json:"assistant"`
	Transcript    []Message                 `json:"transcript"`
	LiveDraft     string                    `json:"live_draft"`
	MicPermission PermissionStatus          `json:"mic_permission"`
	Turn          uint64                    `json:"turn"`
}

type NoticeKind string

const (
	NoticePermission  NoticeKind = "permission"
	NoticeUnsupported NoticeKind = "unsupported"
	NoticeCapture     NoticeKind = "capture"
	NoticeBusy        NoticeKind = "busy"
	NoticeBackendAuth NoticeKind = "backend_auth"
	NoticeBackend     NoticeKind = "backend"
	NoticePlayback    NoticeKind = "playback"
)

// Notice 提示给用户的通知（相当于前端的 toast）
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Destructive bool       `json:"destructive"`
}

type TurnOutcomeKind string

const (
	TurnCompleted         TurnOutcomeKind = "completed"
	TurnInterrupted       TurnOutcomeKind = "interrupted" // 用户打断播放
	TurnEmpty             TurnOutcomeKind = "empty"       // 没有识别到内容
	TurnCaptureFailed     TurnOutcomeKind = "capture_failed"
	TurnBackendFailed     TurnOutcomeKind = "backend_failed"
	TurnBackendAuthFailed TurnOutcomeKind = "backend_auth_failed"
	TurnPlaybackFailed    TurnOutcomeKind = "playback_failed"
	TurnCancelled         TurnOutcomeKind = "cancelled" // 关闭对话框
)

// TurnOutcome 一轮对话结束时的汇总，不包含对话内容
type TurnOutcome struct {
	SessionID      string
	Turn           uint64
	Assistant      AssistantIdentity
	Outcome        TurnOutcomeKind
	ErrorKind      string
	UtteranceChars int
	ResponseChars  int
	HasSuggestion  bool
	StartedAt      time.Time
	FinishedAt     time.Time
	DispatchTime   time.Duration
}
