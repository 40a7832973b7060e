package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/model"
	"github.com/weibaohui/voicechef/backend/internal/repository"
	"github.com/weibaohui/voicechef/backend/internal/service/orchestrator"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
	"k8s.io/klog/v2"
)

// VoiceSession 语音会话的用户意图
type VoiceSession interface {
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	StopSpeaking(ctx context.Context) error
	SwitchAssistant(ctx context.Context, identity domain.AssistantIdentity) error
	Close(ctx context.Context) error
	Snapshot() domain.Snapshot
}

// CaptureBridge 浏览器回填识别结果
type CaptureBridge interface {
	Partial(sessionID, text string) error
	Final(sessionID, text string) error
	Fail(sessionID string, kind speech.CaptureErrorKind) error
	End(sessionID string) error
}

// PlaybackBridge 浏览器回填播放进度
type PlaybackBridge interface {
	Started(sessionID string) error
	Ended(sessionID string) error
	Failed(sessionID string, cause error) error
}

type PermissionReporter interface {
	Report(granted, supported bool) bool
}

type TurnQuery interface {
	ListRecent(ctx context.Context, sessionID string, limit int) ([]*model.TurnRecord, error)
	Stats(ctx context.Context) (*repository.TurnStats, error)
}

// VoiceDeps VoiceHandler 的依赖，Capture/Playback/Permission 为空时不注册对应的桥接路由
type VoiceDeps struct {
	Session    VoiceSession
	Events     *eventbus.SessionEventBus
	Capture    CaptureBridge
	Playback   PlaybackBridge
	Permission PermissionReporter
	Turns      TurnQuery
}

// VoiceHandler 语音会话处理器
type VoiceHandler struct {
	deps      VoiceDeps
	heartbeat time.Duration
}

// NewVoiceHandler 创建语音会话处理器
func NewVoiceHandler(deps VoiceDeps) *VoiceHandler {
	return &VoiceHandler{deps: deps, heartbeat: 15 * time.Second}
}

// RegisterRoutes 注册路由
func (h *VoiceHandler) RegisterRoutes(router *gin.RouterGroup) {
	voice := router.Group("/voice")
	voice.GET("/snapshot", h.GetSnapshot)
	voice.GET("/events", h.Events)
	voice.POST("/start", h.Start)
	voice.POST("/stop", h.Stop)
	voice.POST("/stop-speaking", h.StopSpeaking)
	voice.POST("/close", h.Close)
	voice.POST("/switch", h.Switch)

	if h.deps.Capture != nil {
		voice.POST("/capture/partial", h.CapturePartial)
		voice.POST("/capture/final", h.CaptureFinal)
		voice.POST("/capture/error", h.CaptureError)
		voice.POST("/capture/end", h.CaptureEnd)
	}
	if h.deps.Playback != nil {
		voice.POST("/playback/started", h.PlaybackStarted)
		voice.POST("/playback/ended", h.PlaybackEnded)
		voice.POST("/playback/error", h.PlaybackError)
	}
	if h.deps.Permission != nil {
		voice.POST("/permission", h.ReportPermission)
	}
	if h.deps.Turns != nil {
		voice.GET("/turns", h.ListTurns)
		voice.GET("/turns/stats", h.GetTurnStats)
	}
}

// SwitchRequest 切换助手请求
type SwitchRequest struct {
	Assistant string `json:"assistant" binding:"required"` // chef/coach
}

// BridgeRequest 识别/播放桥接请求，session 为空表示当前会话
type BridgeRequest struct {
	Session string `json:"session"`
	Text    string `json:"text"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// PermissionRequest 浏览器上报麦克风权限
type PermissionRequest struct {
	Granted   bool `json:"granted"`
	Supported bool `json:"supported"`
}

func (h *VoiceHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

func (h *VoiceHandler) Start(c *gin.Context) {
	h.runIntent(c, "start", h.deps.Session.StartListening)
}

func (h *VoiceHandler) Stop(c *gin.Context) {
	h.runIntent(c, "stop", h.deps.Session.StopListening)
}

func (h *VoiceHandler) StopSpeaking(c *gin.Context) {
	h.runIntent(c, "stop-speaking", h.deps.Session.StopSpeaking)
}

func (h *VoiceHandler) Close(c *gin.Context) {
	h.runIntent(c, "close", h.deps.Session.Close)
}

func (h *VoiceHandler) Switch(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity, err := domain.ParseAssistantIdentity(req.Assistant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.runIntent(c, "switch", func(ctx context.Context) error {
		return h.deps.Session.SwitchAssistant(ctx, identity)
	})
}

func (h *VoiceHandler) runIntent(c *gin.Context, name string, intent func(ctx context.Context) error) {
	if err := intent(c.Request.Context()); err != nil {
		klog.Warningf("语音意图被拒绝: intent=%s, error=%v", name, err)
		respondVoiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

// Events 以 SSE 推送会话事件，连接建立时先推送一次快照
func (h *VoiceHandler) Events(c *gin.Context) {
	if h.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	events := make(chan eventbus.SessionEvent, 64)
	unsubscribe := h.deps.Events.SubscribeAll(func(ctx context.Context, event eventbus.SessionEvent) error {
		select {
		case events <- event:
		default:
			klog.Warningf("SSE 客户端消费过慢，丢弃事件: type=%s", event.Type)
		}
		return nil
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	snapshot := h.deps.Session.Snapshot()
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			klog.V(6).Infof("SSE 客户端断开")
			return
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			c.Writer.Flush()
		case event := <-events:
			name, payload := sseEvent(event)
			if name == "" {
				continue
			}
			c.SSEvent(name, payload)
			c.Writer.Flush()
		}
	}
}

// sseEvent 会话事件到 SSE 事件名与数据的映射
func sseEvent(event eventbus.SessionEvent) (string, any) {
	switch event.Type {
	case eventbus.SessionEventSnapshot:
		if event.Snapshot == nil {
			return "", nil
		}
		return "snapshot", event.Snapshot
	case eventbus.SessionEventNotice:
		if event.Notice == nil {
			return "", nil
		}
		return "notice", event.Notice
	case eventbus.SessionEventMessageAppended:
		if event.Message == nil {
			return "", nil
		}
		return "message", event.Message
	case eventbus.SessionEventTurnFinished:
		if event.Outcome == nil {
			return "", nil
		}
		return "turn", gin.H{
			"turn":      event.Outcome.Turn,
			"assistant": event.Outcome.Assistant,
			"outcome":   event.Outcome.Outcome,
		}
	case eventbus.SessionEventCaptureRequested:
		return "listen", gin.H{"session": event.MediaSession, "language": event.Language}
	case eventbus.SessionEventCaptureStopped:
		return "listen-stop", gin.H{"session": event.MediaSession}
	case eventbus.SessionEventPlaybackRequested:
		return "speak", gin.H{"session": event.MediaSession, "text": event.Text, "language": event.Language}
	case eventbus.SessionEventPlaybackCancelled:
		return "speak-cancel", gin.H{"session": event.MediaSession}
	}
	return "", nil
}

// -----------------------------
// 识别/播放桥接
// -----------------------------

func (h *VoiceHandler) CapturePartial(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Capture.Partial(req.Session, req.Text)
	})
}

func (h *VoiceHandler) CaptureFinal(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Capture.Final(req.Session, req.Text)
	})
}

func (h *VoiceHandler) CaptureError(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Capture.Fail(req.Session, speech.ParseCaptureErrorKind(req.Kind))
	})
}

func (h *VoiceHandler) CaptureEnd(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Capture.End(req.Session)
	})
}

func (h *VoiceHandler) PlaybackStarted(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Playback.Started(req.Session)
	})
}

func (h *VoiceHandler) PlaybackEnded(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		return h.deps.Playback.Ended(req.Session)
	})
}

func (h *VoiceHandler) PlaybackError(c *gin.Context) {
	h.bridge(c, func(req BridgeRequest) error {
		cause := req.Error
		if cause == "" {
			cause = "playback failed"
		}
		return h.deps.Playback.Failed(req.Session, errors.New(cause))
	})
}

func (h *VoiceHandler) bridge(c *gin.Context, fn func(req BridgeRequest) error) {
	var req BridgeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := fn(req); err != nil {
		klog.V(6).Infof("桥接回调失败: path=%s, session=%s, error=%v", c.FullPath(), req.Session, err)
		respondVoiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (h *VoiceHandler) ReportPermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted := h.deps.Permission.Report(req.Granted, req.Supported)
	if !accepted {
		klog.V(6).Infof("权限结果已上报过，忽略: granted=%v, supported=%v", req.Granted, req.Supported)
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// -----------------------------
// 审计查询
// -----------------------------

func (h *VoiceHandler) ListTurns(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.deps.Turns.ListRecent(c.Request.Context(), c.Query("session"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *VoiceHandler) GetTurnStats(c *gin.Context) {
	stats, err := h.deps.Turns.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// respondVoiceError 错误到 HTTP 状态码的映射
func respondVoiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrNotIdle),
		errors.Is(err, speech.ErrAlreadyCapturing),
		errors.Is(err, speech.ErrSpeakerBusy):
		status = http.StatusConflict
	case errors.Is(err, permission.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownAssistant):
		status = http.StatusBadRequest
	case errors.Is(err, speech.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrOrchestratorStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
