package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/service/assistant"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
	"github.com/weibaohui/voicechef/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

// -----------------------------
// 依赖接口
// -----------------------------
type BackendRouter interface {
	Dispatch(ctx context.Context, identity domain.AssistantIdentity, history []domain.Message, latest string) (*assistant.Reply, error)
}

type PermissionGate interface {
	RequestMicrophoneAccess(ctx context.Context) (domain.PermissionStatus, error)
	Status() domain.PermissionStatus
	Unsupported() bool
}

type SpeechInput interface {
	StartCapture(ctx context.Context) (*speech.CaptureSession, error)
	StopCapture()
	AbortCapture()
}

type SpeechOutput interface {
	Speak(ctx context.Context, text string) (*speech.PlaybackSession, error)
	Stop()
	Speaking() bool
}

type EventPublisher interface {
	Publish(ctx context.Context, event eventbus.SessionEvent) error
}

type Dependencies struct {
	Permission PermissionGate
	Input      SpeechInput
	Output     SpeechOutput
	Router     BackendRouter
	Publisher  EventPublisher
}

type Options struct {
	DefaultAssistant domain.AssistantIdentity
	DispatchTimeout  time.Duration
	DispatchWorkers  int
}

// -----------------------------
// 错误定义
// -----------------------------
var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrBusy                = errors.New("assistant is busy")
	ErrNotIdle             = errors.New("session is not idle")
)

// -----------------------------
// Orchestrator
// -----------------------------
// Orchestrator 语音会话状态机
// 所有状态只在 loop 协程内读写；识别、后端调用、播放在其他协程执行，结果投递回 mailbox
type Orchestrator struct {
	permission PermissionGate
	input      SpeechInput
	output     SpeechOutput
	router     BackendRouter
	publisher  EventPublisher
	options    Options

	pool    *ants.Pool
	machine *statemachine.SessionStateMachine
	mailbox chan func()

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	// 以下字段只在 loop 内访问
	sessionID      string
	state          statemachine.SessionState
	assistant      domain.AssistantIdentity
	transcript     []domain.Message
	draft          string
	turn           uint64
	tracker        *turnTracker
	capture        *speech.CaptureSession
	playback       *speech.PlaybackSession
	dispatchCancel context.CancelFunc
	token          resourceToken

	snapshotMutex sync.RWMutex
	snapshot      domain.Snapshot
}

// -----------------------------
// 构造函数
// -----------------------------
func New(deps Dependencies, options Options) (*Orchestrator, error) {
	if !options.DefaultAssistant.Valid() {
		options.DefaultAssistant = domain.AssistantCoach
	}
	if options.DispatchTimeout <= 0 {
		options.DispatchTimeout = 60 * time.Second
	}
	if options.DispatchWorkers <= 0 {
		options.DispatchWorkers = 2
	}

	pool, err := ants.NewPool(options.DispatchWorkers,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		permission: deps.Permission,
		input:      deps.Input,
		output:     deps.Output,
		router:     deps.Router,
		publisher:  deps.Publisher,
		options:    options,
		pool:       pool,
		machine:    statemachine.NewSessionStateMachine(),
		mailbox:    make(chan func(), 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sessionID:  uuid.NewString(),
		state:      statemachine.SessionStateIdle,
		assistant:  options.DefaultAssistant,
	}
	o.transcript = domain.GreetingTranscript(o.assistant)
	o.storeSnapshot()
	return o, nil
}

// -----------------------------
// 启动与停止
// -----------------------------
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.started.Store(true)
		go o.loop()
		_ = o.post(o.ctx, o.publishSnapshot)
		klog.V(6).Infof("Orchestrator started: sessionID=%s, assistant=%s", o.sessionID, o.assistant)
	})
}

// Shutdown 中止当前一轮对话并停止事件循环
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("Orchestrator stopping...")
		if o.started.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := o.call(ctx, func() error {
				o.abortTurn(domain.TurnCancelled)
				return nil
			}); err != nil {
				klog.Warningf("停止前中止当前对话失败: %v", err)
			}
			cancel()
		}

		o.cancel()
		if o.started.Load() {
			<-o.done
		}
		if err := o.pool.ReleaseTimeout(5 * time.Second); err != nil {
			klog.Warningf("等待后端调用结束超时: %v", err)
		}
		klog.V(6).Infof("Orchestrator stopped completely")
	})
}

// -----------------------------
// 用户意图
// -----------------------------

// StartListening 按下麦克风：先确认权限，再从 Idle 进入 Listening
func (o *Orchestrator) StartListening(ctx context.Context) error {
	if _, err := o.permission.RequestMicrophoneAccess(ctx); err != nil {
		klog.Warningf("麦克风权限未确定: %v", err)
		if ctx.Err() != nil {
			return err
		}
	}
	return o.call(ctx, o.beginCapture)
}

// StopListening 松开麦克风：请求识别提前结束，由终止事件决定进入 Processing 还是 Idle
func (o *Orchestrator) StopListening(ctx context.Context) error {
	return o.call(ctx, func() error {
		if o.state != statemachine.SessionStateListening || o.capture == nil {
			klog.V(6).Infof("StopListening 忽略: state=%s", o.state)
			return nil
		}
		o.input.StopCapture()
		return nil
	})
}

// StopSpeaking 打断播放，立即回到 Idle
func (o *Orchestrator) StopSpeaking(ctx context.Context) error {
	return o.call(ctx, func() error {
		if o.state != statemachine.SessionStateSpeaking || o.playback == nil {
			klog.V(6).Infof("StopSpeaking 忽略: state=%s", o.state)
			return nil
		}
		o.output.Stop()
		o.endPlayback(domain.TurnInterrupted, "")
		return nil
	})
}

// SwitchAssistant 切换助手，只允许在 Idle 时进行；切换后会话重置为新助手的问候语
func (o *Orchestrator) SwitchAssistant(ctx context.Context, identity domain.AssistantIdentity) error {
	if !identity.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAssistant, identity)
	}
	return o.call(ctx, func() error {
		if o.state != statemachine.SessionStateIdle {
			klog.Warningf("非空闲状态下拒绝切换助手: state=%s, target=%s", o.state, identity)
			o.notify(busyNotice("Cannot switch assistants while active."))
			return ErrNotIdle
		}
		klog.V(6).Infof("切换助手: %s -> %s", o.assistant, identity)
		o.assistant = identity
		o.resetTranscript()
		o.publishSnapshot()
		return nil
	})
}

// Close 关闭对话框：停止识别与播放，丢弃进行中的后端调用，重置会话
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.call(ctx, func() error {
		o.abortTurn(domain.TurnCancelled)
		o.resetTranscript()
		o.publishSnapshot()
		return nil
	})
}

// Snapshot 最近一次状态迁移后的快照
func (o *Orchestrator) Snapshot() domain.Snapshot {
	o.snapshotMutex.RLock()
	defer o.snapshotMutex.RUnlock()
	snapshot := o.snapshot
	snapshot.Transcript = domain.CloneMessages(o.snapshot.Transcript)
	return snapshot
}

// -----------------------------
// 事件循环
// -----------------------------
func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case fn := <-o.mailbox:
			o.run(fn)
		}
	}
}

func (o *Orchestrator) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("事件处理 panic recovered: %v", r)
		}
	}()
	fn()
}

func (o *Orchestrator) post(ctx context.Context, fn func()) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}
	select {
	case o.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	}
}

// call 在 loop 内执行 fn 并等待结果
func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	err := o.post(ctx, func() {
		var result error
		defer func() {
			if r := recover(); r != nil {
				klog.Errorf("intent panic recovered: %v", r)
				result = fmt.Errorf("intent panic: %v", r)
			}
			reply <- result
		}()
		result = fn()
	})
	if err != nil {
		return err
	}
	select {
	case result := <-reply:
		return result
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrOrchestratorStopped
	}
}

// -----------------------------
// Listening
// -----------------------------
func (o *Orchestrator) beginCapture() error {
	if o.state != statemachine.SessionStateIdle {
		klog.Warningf("非空闲状态下拒绝开始识别: state=%s", o.state)
		if o.state == statemachine.SessionStateSpeaking {
			o.notify(busyNotice("Assistant is currently speaking."))
		} else {
			o.notify(busyNotice("Assistant is currently busy."))
		}
		return ErrBusy
	}
	if o.permission.Status() != domain.PermissionGranted {
		klog.Warningf("麦克风权限未授予，拒绝开始识别: status=%s", o.permission.Status())
		o.notify(permissionNotice(o.permission.Unsupported()))
		o.publishSnapshot()
		return permission.ErrPermissionDenied
	}

	o.token.acquire(resourceMic, o.input.AbortCapture)
	session, err := o.input.StartCapture(o.ctx)
	if err != nil {
		o.token.releaseIf(resourceMic)
		if errors.Is(err, permission.ErrPermissionDenied) {
			o.notify(permissionNotice(o.permission.Unsupported()))
		} else {
			o.notify(captureStartNotice())
		}
		return err
	}

	o.turn++
	o.tracker = newTurnTracker(o.turn, o.assistant)
	o.capture = session
	o.draft = ""
	o.setState(statemachine.SessionStateListening)
	go o.watchCapture(session)
	return nil
}

func (o *Orchestrator) watchCapture(session *speech.CaptureSession) {
	for event := range session.Events() {
		event := event
		if err := o.post(o.ctx, func() { o.onCaptureEvent(session, event) }); err != nil {
			return
		}
	}
}

func (o *Orchestrator) onCaptureEvent(session *speech.CaptureSession, event speech.CaptureEvent) {
	if o.capture != session {
		klog.V(6).Infof("丢弃过期的识别事件: session=%s, type=%s", session.ID(), event.Type)
		return
	}

	switch event.Type {
	case speech.CapturePartial:
		o.draft = event.Text
		o.publishSnapshot()
	case speech.CaptureFinal:
		o.capture = nil
		o.token.releaseIf(resourceMic)
		o.draft = ""
		text := strings.TrimSpace(event.Text)
		if text == "" {
			klog.V(6).Infof("识别结果为空，回到空闲: turn=%d", o.turn)
			o.finishTurn(domain.TurnEmpty, "")
			o.setState(statemachine.SessionStateIdle)
			return
		}
		o.acceptUtterance(text)
	case speech.CaptureError:
		o.capture = nil
		o.token.releaseIf(resourceMic)
		o.draft = ""
		notice, outcome := captureFailure(event.Kind)
		if notice != nil {
			o.notify(*notice)
		}
		o.finishTurn(outcome, string(event.Kind))
		o.setState(statemachine.SessionStateIdle)
	}
}

// -----------------------------
// Processing
// -----------------------------
func (o *Orchestrator) acceptUtterance(text string) {
	history := domain.CloneMessages(o.transcript)
	o.appendMessage(domain.NewUserMessage(text))
	o.tracker.utteranceChars = len([]rune(text))
	o.setState(statemachine.SessionStateProcessing)
	o.dispatch(history, text)
}

func (o *Orchestrator) dispatch(history []domain.Message, latest string) {
	turn := o.turn
	identity := o.assistant
	ctx, cancel := context.WithTimeout(o.ctx, o.options.DispatchTimeout)
	o.dispatchCancel = cancel
	o.tracker.dispatched()

	err := o.pool.Submit(func() {
		defer cancel()
		reply, err := o.router.Dispatch(ctx, identity, history, latest)
		if postErr := o.post(o.ctx, func() { o.onDispatchResult(turn, reply, err) }); postErr != nil {
			klog.V(6).Infof("对话结果未送达: turn=%d, err=%v", turn, postErr)
		}
	})
	if err != nil {
		klog.Errorf("提交对话任务到协程池失败: turn=%d, err=%v", turn, err)
		o.onDispatchResult(turn, nil, fmt.Errorf("submit dispatch: %w", err))
	}
}

func (o *Orchestrator) onDispatchResult(turn uint64, reply *assistant.Reply, err error) {
	if turn != o.turn || o.state != statemachine.SessionStateProcessing {
		klog.V(6).Infof("丢弃过期的对话结果: turn=%d, current=%d, state=%s", turn, o.turn, o.state)
		return
	}
	if o.dispatchCancel != nil {
		o.dispatchCancel()
		o.dispatchCancel = nil
	}

	if err != nil {
		o.tracker.dispatchDone()
		apology, notice, outcome := backendFailure(err)
		klog.Errorf("对话后端失败: turn=%d, outcome=%s, err=%v", turn, outcome, err)
		o.appendMessage(domain.NewAssistantMessage(apology, nil))
		o.notify(notice)
		o.finishTurn(outcome, errorKind(err))
		o.setState(statemachine.SessionStateIdle)
		return
	}

	text := replyText(reply)
	var suggestion *domain.Suggestion
	if reply != nil {
		suggestion = reply.Suggestion
	}
	o.tracker.replied(text, suggestion)
	o.appendMessage(domain.NewAssistantMessage(text, suggestion))
	o.beginPlayback(text)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case assistant.IsAuthError(err):
		return "auth"
	default:
		return "backend"
	}
}

// -----------------------------
// Speaking
// -----------------------------
func (o *Orchestrator) beginPlayback(text string) {
	o.token.acquire(resourceSpeaker, o.output.Stop)
	session, err := o.output.Speak(o.ctx, text)
	if err != nil {
		o.token.releaseIf(resourceSpeaker)
		o.notify(playbackNotice())
		o.finishTurn(domain.TurnPlaybackFailed, "start")
		o.setState(statemachine.SessionStateIdle)
		return
	}
	o.playback = session
	o.setState(statemachine.SessionStateSpeaking)
	go o.watchPlayback(session)
}

func (o *Orchestrator) watchPlayback(session *speech.PlaybackSession) {
	for event := range session.Events() {
		event := event
		if err := o.post(o.ctx, func() { o.onPlaybackEvent(session, event) }); err != nil {
			return
		}
	}
}

func (o *Orchestrator) onPlaybackEvent(session *speech.PlaybackSession, event speech.PlaybackEvent) {
	if o.playback != session {
		klog.V(6).Infof("丢弃过期的播放事件: session=%s, type=%s", session.ID(), event.Type)
		return
	}

	switch event.Type {
	case speech.PlaybackStarted:
		klog.V(6).Infof("开始播放: turn=%d", o.turn)
	case speech.PlaybackEnded:
		if event.Interrupted {
			o.endPlayback(domain.TurnInterrupted, "")
			return
		}
		o.endPlayback(domain.TurnCompleted, "")
	case speech.PlaybackError:
		o.notify(playbackNotice())
		errKind := "synthesis"
		if errors.Is(event.Err, speech.ErrPlaybackTimeout) {
			errKind = "timeout"
		}
		o.endPlayback(domain.TurnPlaybackFailed, errKind)
	}
}

func (o *Orchestrator) endPlayback(kind domain.TurnOutcomeKind, errKind string) {
	o.playback = nil
	o.token.releaseIf(resourceSpeaker)
	o.finishTurn(kind, errKind)
	o.setState(statemachine.SessionStateIdle)
}

// -----------------------------
// 公共辅助
// -----------------------------

// abortTurn 中止进行中的一轮对话，迟到的识别、后端、播放结果都会被丢弃
func (o *Orchestrator) abortTurn(kind domain.TurnOutcomeKind) {
	if o.capture != nil {
		o.capture = nil
		o.input.AbortCapture()
	}
	if o.dispatchCancel != nil {
		o.dispatchCancel()
		o.dispatchCancel = nil
	}
	if o.playback != nil {
		o.playback = nil
		o.output.Stop()
	}
	o.token.releaseIf(resourceMic)
	o.token.releaseIf(resourceSpeaker)
	o.draft = ""
	if o.state != statemachine.SessionStateIdle {
		o.finishTurn(kind, "")
		o.setState(statemachine.SessionStateIdle)
	}
}

func (o *Orchestrator) setState(to statemachine.SessionState) {
	if o.state != to {
		if err := o.machine.Transition(o.state, to, o.sessionID); err != nil {
			klog.Errorf("会话状态迁移失败: %v", err)
			return
		}
		o.state = to
	}
	if to == statemachine.SessionStateIdle {
		o.draft = ""
	}
	o.publishSnapshot()
}

func (o *Orchestrator) resetTranscript() {
	o.transcript = domain.GreetingTranscript(o.assistant)
	o.draft = ""
}

func (o *Orchestrator) appendMessage(message domain.Message) {
	o.transcript = append(o.transcript, message)
	copied := domain.CloneMessages([]domain.Message{message})[0]
	o.publish(eventbus.SessionEvent{Type: eventbus.SessionEventMessageAppended, Message: &copied})
}

func (o *Orchestrator) finishTurn(kind domain.TurnOutcomeKind, errKind string) {
	if o.tracker == nil {
		return
	}
	outcome := o.tracker.outcome(o.sessionID, kind, errKind)
	o.tracker = nil
	klog.V(6).Infof("一轮对话结束: turn=%d, outcome=%s, errorKind=%s", outcome.Turn, outcome.Outcome, outcome.ErrorKind)
	o.publish(eventbus.SessionEvent{Type: eventbus.SessionEventTurnFinished, Outcome: &outcome})
}

func (o *Orchestrator) notify(notice domain.Notice) {
	klog.V(6).Infof("通知: kind=%s, title=%s, description=%s", notice.Kind, notice.Title, notice.Description)
	o.publish(eventbus.SessionEvent{Type: eventbus.SessionEventNotice, Notice: &notice})
}

func (o *Orchestrator) storeSnapshot() domain.Snapshot {
	snapshot := domain.Snapshot{
		SessionID:     o.sessionID,
		State:         o.state,
		Assistant:     o.assistant,
		Transcript:    domain.CloneMessages(o.transcript),
		LiveDraft:     o.draft,
		MicPermission: o.permission.Status(),
		Turn:          o.turn,
	}
	o.snapshotMutex.Lock()
	o.snapshot = snapshot
	o.snapshotMutex.Unlock()
	return snapshot
}

func (o *Orchestrator) publishSnapshot() {
	snapshot := o.storeSnapshot()
	snapshot.Transcript = domain.CloneMessages(snapshot.Transcript)
	o.publish(eventbus.SessionEvent{Type: eventbus.SessionEventSnapshot, Snapshot: &snapshot})
}

func (o *Orchestrator) publish(event eventbus.SessionEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(o.ctx, event); err != nil {
		klog.Warningf("发布会话事件失败: type=%s, err=%v", event.Type, err)
	}
}
