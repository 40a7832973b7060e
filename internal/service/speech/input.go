package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"k8s.io/klog/v2"
)

var (
	ErrPermissionDenied = permission.ErrPermissionDenied
	ErrAlreadyCapturing = errors.New("capture already in progress")
	ErrSpeakerBusy      = errors.New("speaker is busy")
)

type CaptureErrorKind string

const (
	CaptureErrPermissionRevoked CaptureErrorKind = "permission-revoked"
	CaptureErrNoSpeech          CaptureErrorKind = "no-speech-detected"
	CaptureErrNetwork           CaptureErrorKind = "network-failure"
	CaptureErrAborted           CaptureErrorKind = "aborted"
)

// ParseCaptureErrorKind 解析引擎上报的错误类型，兼容浏览器 SpeechRecognition 的错误码
func ParseCaptureErrorKind(s string) CaptureErrorKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permission-revoked", "not-allowed", "service-not-allowed":
		return CaptureErrPermissionRevoked
	case "no-speech-detected", "no-speech":
		return CaptureErrNoSpeech
	case "network-failure", "network":
		return CaptureErrNetwork
	default:
		return CaptureErrAborted
	}
}

type CaptureEventType string

const (
	CapturePartial CaptureEventType = "partial"
	CaptureFinal   CaptureEventType = "final"
	CaptureError   CaptureEventType = "error"
)

type CaptureEvent struct {
	Type CaptureEventType
	Text string
	Kind CaptureErrorKind
}

func (e CaptureEvent) Terminal() bool {
	return e.Type != CapturePartial
}

// RecognitionSink 识别引擎向会话回报结果
type RecognitionSink interface {
	OnPartial(text string)
	OnFinal(text string)
	OnError(kind CaptureErrorKind)
	OnEnd()
}

// CaptureEngine 语音识别能力
// Stop 只是请求引擎提前结束，结果仍通过 sink 回报
type CaptureEngine interface {
	Start(ctx context.Context, sessionID, language string, sink RecognitionSink) error
	Stop(sessionID string)
}

// PermissionSource 麦克风权限来源
type PermissionSource interface {
	Status() domain.PermissionStatus
	MarkDenied()
}

type InputOptions struct {
	Language           string
	FinalizeTimeout    time.Duration
	MaxCaptureDuration time.Duration
}

// InputController 管理唯一的识别会话
type InputController struct {
	engine     CaptureEngine
	permission PermissionSource
	options    InputOptions

	mutex  sync.Mutex
	busy   func() bool
	active *CaptureSession
}

func NewInputController(engine CaptureEngine, permission PermissionSource, options InputOptions) *InputController {
	if options.FinalizeTimeout <= 0 {
		options.FinalizeTimeout = 3 * time.Second
	}
	if options.MaxCaptureDuration <= 0 {
		options.MaxCaptureDuration = 30 * time.Second
	}
	return &InputController{
		engine:     engine,
		permission: permission,
		options:    options,
	}
}

// SetBusyProbe 设置扬声器占用检查
func (c *InputController) SetBusyProbe(fn func() bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.busy = fn
}

func (c *InputController) Capturing() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active != nil
}

// StartCapture 开始一次识别；失败时没有任何副作用
func (c *InputController) StartCapture(ctx context.Context) (*CaptureSession, error) {
	if c.permission.Status() != domain.PermissionGranted {
		return nil, ErrPermissionDenied
	}

	c.mutex.Lock()
	if c.active != nil {
		c.mutex.Unlock()
		return nil, ErrAlreadyCapturing
	}
	if c.busy != nil && c.busy() {
		c.mutex.Unlock()
		return nil, ErrSpeakerBusy
	}
	session := newCaptureSession(c)
	c.active = session
	c.mutex.Unlock()

	if err := c.engine.Start(ctx, session.id, c.options.Language, captureSink{session}); err != nil {
		c.release(session)
		klog.Errorf("启动语音识别失败: session=%s, err=%v", session.id, err)
		return nil, fmt.Errorf("start capture: %w", err)
	}

	session.armMaxDuration(c.options.MaxCaptureDuration)
	klog.V(6).Infof("语音识别已启动: session=%s, lang=%s", session.id, c.options.Language)
	return session, nil
}

// StopCapture 停止当前识别会话，可重复调用
func (c *InputController) StopCapture() {
	c.mutex.Lock()
	session := c.active
	c.mutex.Unlock()
	if session != nil {
		session.Stop()
	}
}

// AbortCapture 立即以 aborted 结束当前会话，不等待引擎
func (c *InputController) AbortCapture() {
	c.mutex.Lock()
	session := c.active
	c.mutex.Unlock()
	if session != nil {
		session.abort()
	}
}

func (c *InputController) release(session *CaptureSession) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.active == session {
		c.active = nil
	}
}

// CaptureSession 一次识别会话
// Events 先输出零或多个 Partial，最后输出且仅输出一个终止事件，然后关闭
type CaptureSession struct {
	id         string
	controller *InputController
	events     chan CaptureEvent

	mutex         sync.Mutex
	lastPartial   string
	stopped       bool
	done          bool
	finalizeTimer *time.Timer
	maxTimer      *time.Timer
}

func newCaptureSession(c *InputController) *CaptureSession {
	return &CaptureSession{
		id:         uuid.NewString(),
		controller: c,
		events:     make(chan CaptureEvent, 16),
	}
}

func (s *CaptureSession) ID() string {
	return s.id
}

func (s *CaptureSession) Events() <-chan CaptureEvent {
	return s.events
}

// Stop 请求提前结束；超过 FinalizeTimeout 引擎仍未结束时由会话自行收尾
func (s *CaptureSession) Stop() {
	s.mutex.Lock()
	if s.done || s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true
	s.finalizeTimer = time.AfterFunc(s.controller.options.FinalizeTimeout, s.forceFinalize)
	s.mutex.Unlock()

	klog.V(6).Infof("请求停止语音识别: session=%s", s.id)
	s.controller.engine.Stop(s.id)
}

func (s *CaptureSession) armMaxDuration(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done {
		return
	}
	s.maxTimer = time.AfterFunc(d, func() {
		klog.Warningf("语音识别超过最长时长，自动停止: session=%s, max=%v", s.id, d)
		s.Stop()
	})
}

func (s *CaptureSession) forceFinalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done {
		return
	}
	klog.Warningf("识别引擎未在超时内结束，自行收尾: session=%s", s.id)
	s.finishLocked(s.fallbackLocked())
	go s.controller.engine.Stop(s.id)
}

func (s *CaptureSession) abort() {
	s.mutex.Lock()
	if s.done {
		s.mutex.Unlock()
		return
	}
	s.finishLocked(CaptureEvent{Type: CaptureError, Kind: CaptureErrAborted})
	s.mutex.Unlock()

	klog.V(6).Infof("语音识别被中止: session=%s", s.id)
	s.controller.engine.Stop(s.id)
}

// fallbackLocked 已有识别内容则作为最终结果，否则视为中止
func (s *CaptureSession) fallbackLocked() CaptureEvent {
	if strings.TrimSpace(s.lastPartial) != "" {
		return CaptureEvent{Type: CaptureFinal, Text: s.lastPartial}
	}
	return CaptureEvent{Type: CaptureError, Kind: CaptureErrAborted}
}

func (s *CaptureSession) partial(text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done {
		return
	}
	s.lastPartial = text
	select {
	case s.events <- CaptureEvent{Type: CapturePartial, Text: text}:
	default:
		// 缓冲已满，后续 Partial 会覆盖
	}
}

func (s *CaptureSession) final(text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.finishLocked(CaptureEvent{Type: CaptureFinal, Text: text})
}

func (s *CaptureSession) fail(kind CaptureErrorKind) {
	if kind == CaptureErrPermissionRevoked {
		s.controller.permission.MarkDenied()
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if kind == CaptureErrAborted && s.stopped {
		s.finishLocked(s.fallbackLocked())
		return
	}
	s.finishLocked(CaptureEvent{Type: CaptureError, Kind: kind})
}

func (s *CaptureSession) end() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done {
		return
	}
	event := s.fallbackLocked()
	if event.Type == CaptureError && !s.stopped {
		event.Kind = CaptureErrNoSpeech
	}
	s.finishLocked(event)
}

func (s *CaptureSession) finishLocked(event CaptureEvent) {
	if s.done {
		return
	}
	s.done = true
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
	}
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	for {
		select {
		case s.events <- event:
			close(s.events)
			s.controller.release(s)
			klog.V(6).Infof("语音识别结束: session=%s, type=%s, kind=%s", s.id, event.Type, event.Kind)
			return
		default:
			// 丢弃一个过期的 Partial 给终止事件腾出位置
			select {
			case <-s.events:
			default:
			}
		}
	}
}

// captureSink 把引擎回调转交给会话
type captureSink struct {
	session *CaptureSession
}

func (k captureSink) OnPartial(text string)         { k.session.partial(text) }
func (k captureSink) OnFinal(text string)           { k.session.final(text) }
func (k captureSink) OnError(kind CaptureErrorKind) { k.session.fail(kind) }
func (k captureSink) OnEnd()                        { k.session.end() }

// Finished 会话是否已输出终止事件
func (k captureSink) Finished() bool {
	k.session.mutex.Lock()
	defer k.session.mutex.Unlock()
	return k.session.done
}
