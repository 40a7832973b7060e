package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// PlaybackSink 播放引擎回报播放进度
type PlaybackSink interface {
	OnStart()
	OnEnd()
	OnError(err error)
}

// PlaybackEngine 语音合成能力
type PlaybackEngine interface {
	Play(ctx context.Context, sessionID, text, language string, sink PlaybackSink) error
	Cancel(sessionID string)
}

type PlaybackEventType string

const (
	PlaybackStarted PlaybackEventType = "started"
	PlaybackEnded   PlaybackEventType = "ended"
	PlaybackError   PlaybackEventType = "error"
)

// ErrPlaybackTimeout 引擎未在时限内开始或结束播放
var ErrPlaybackTimeout = errors.New("playback timed out")

type OutputOptions struct {
	Language string
	// StartTimeout 提交播放后等待引擎开始的时间
	StartTimeout time.Duration
	// MaxPlaybackDuration 开始播放后的最长时长
	MaxPlaybackDuration time.Duration
}

type PlaybackEvent struct {
	Type        PlaybackEventType
	Interrupted bool
	Err         error
}

// OutputController 同一时刻最多一个播放会话
type OutputController struct {
	engine  PlaybackEngine
	options OutputOptions

	mutex   sync.Mutex
	preempt func()
	active  *PlaybackSession
}

func NewOutputController(engine PlaybackEngine, options OutputOptions) *OutputController {
	if options.StartTimeout <= 0 {
		options.StartTimeout = 10 * time.Second
	}
	if options.MaxPlaybackDuration <= 0 {
		options.MaxPlaybackDuration = 2 * time.Minute
	}
	return &OutputController{engine: engine, options: options}
}

// SetCapturePreempt 设置开始播放前中止识别的回调，麦克风与扬声器互斥
func (c *OutputController) SetCapturePreempt(fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.preempt = fn
}

// Speaking 是否正在播放；Stop 返回后立即为 false
func (c *OutputController) Speaking() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active != nil
}

// Speak 播放文本，先打断正在进行的播放
// 空文本直接返回已结束的会话，不产生 Started
func (c *OutputController) Speak(ctx context.Context, text string) (*PlaybackSession, error) {
	session := newPlaybackSession(c)

	if strings.TrimSpace(text) == "" {
		c.Stop()
		session.finish(PlaybackEvent{Type: PlaybackEnded})
		return session, nil
	}

	c.mutex.Lock()
	previous := c.active
	c.active = session
	preempt := c.preempt
	c.mutex.Unlock()
	if previous != nil {
		klog.V(6).Infof("新的播放打断旧播放: previous=%s, next=%s", previous.id, session.id)
		c.interrupt(previous)
	}
	if preempt != nil {
		preempt()
	}

	session.arm(c.options.StartTimeout, "start")
	if err := c.engine.Play(ctx, session.id, text, c.options.Language, playbackSink{session}); err != nil {
		session.disarm()
		c.release(session)
		klog.Errorf("启动语音播放失败: session=%s, err=%v", session.id, err)
		return nil, fmt.Errorf("start playback: %w", err)
	}
	klog.V(6).Infof("语音播放已提交: session=%s, chars=%d", session.id, len(text))
	return session, nil
}

// Stop 停止当前播放，可重复调用
func (c *OutputController) Stop() {
	c.mutex.Lock()
	session := c.active
	c.active = nil
	c.mutex.Unlock()
	if session != nil {
		c.interrupt(session)
	}
}

func (c *OutputController) interrupt(session *PlaybackSession) {
	session.finish(PlaybackEvent{Type: PlaybackEnded, Interrupted: true})
	c.engine.Cancel(session.id)
}

func (c *OutputController) release(session *PlaybackSession) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.active == session {
		c.active = nil
	}
}

// PlaybackSession 一次播放会话
// Events 输出可选的 Started，然后是唯一的 Ended 或 Error，随后关闭
type PlaybackSession struct {
	id         string
	controller *OutputController
	events     chan PlaybackEvent

	mutex   sync.Mutex
	started bool
	done    bool
	timer   *time.Timer
}

func newPlaybackSession(c *OutputController) *PlaybackSession {
	return &PlaybackSession{
		id:         uuid.NewString(),
		controller: c,
		events:     make(chan PlaybackEvent, 2),
	}
}

func (s *PlaybackSession) ID() string {
	return s.id
}

func (s *PlaybackSession) Events() <-chan PlaybackEvent {
	return s.events
}

// arm 到期仍未推进时以 ErrPlaybackTimeout 结束会话并取消引擎
func (s *PlaybackSession) arm(d time.Duration, phase string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.armLocked(d, phase)
}

func (s *PlaybackSession) armLocked(d time.Duration, phase string) {
	if s.done {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() { s.expire(phase, d) })
}

func (s *PlaybackSession) disarm() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *PlaybackSession) expire(phase string, d time.Duration) {
	s.mutex.Lock()
	done := s.done
	s.mutex.Unlock()
	if done {
		return
	}
	klog.Warningf("语音播放超时: session=%s, phase=%s, timeout=%v", s.id, phase, d)
	s.finish(PlaybackEvent{Type: PlaybackError, Err: fmt.Errorf("%w: %s after %v", ErrPlaybackTimeout, phase, d)})
	s.controller.engine.Cancel(s.id)
}

func (s *PlaybackSession) start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done || s.started {
		return
	}
	s.started = true
	s.events <- PlaybackEvent{Type: PlaybackStarted}
	s.armLocked(s.controller.options.MaxPlaybackDuration, "duration")
}

func (s *PlaybackSession) finish(event PlaybackEvent) {
	s.mutex.Lock()
	if s.done {
		s.mutex.Unlock()
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.events <- event
	close(s.events)
	s.mutex.Unlock()

	s.controller.release(s)
	if event.Type == PlaybackError {
		klog.Errorf("语音播放失败: session=%s, err=%v", s.id, event.Err)
		return
	}
	klog.V(6).Infof("语音播放结束: session=%s, interrupted=%v", s.id, event.Interrupted)
}

type playbackSink struct {
	session *PlaybackSession
}

func (k playbackSink) OnStart() { k.session.start() }
func (k playbackSink) OnEnd()   { k.session.finish(PlaybackEvent{Type: PlaybackEnded}) }
func (k playbackSink) OnError(err error) {
	if err == nil {
		err = fmt.Errorf("playback failed")
	}
	k.session.finish(PlaybackEvent{Type: PlaybackError, Err: err})
}
