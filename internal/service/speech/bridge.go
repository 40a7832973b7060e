package speech

import (
	"context"
	"errors"
	"sync"

	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"k8s.io/klog/v2"
)

var ErrUnknownSession = errors.New("unknown media session")

// EventPublisher 发布桥接事件
type EventPublisher interface {
	Publish(ctx context.Context, event eventbus.SessionEvent) error
}

// BridgeCaptureEngine 由外部（浏览器或终端）完成识别，结果通过 Partial/Final/Fail/End 回填
type BridgeCaptureEngine struct {
	publisher EventPublisher

	mutex   sync.Mutex
	sinks   map[string]RecognitionSink
	current string
}

func NewBridgeCaptureEngine(publisher EventPublisher) *BridgeCaptureEngine {
	return &BridgeCaptureEngine{
		publisher: publisher,
		sinks:     make(map[string]RecognitionSink),
	}
}

func (e *BridgeCaptureEngine) Start(ctx context.Context, sessionID, language string, sink RecognitionSink) error {
	e.mutex.Lock()
	e.sinks[sessionID] = sink
	e.current = sessionID
	e.mutex.Unlock()

	if err := e.publisher.Publish(ctx, eventbus.SessionEvent{
		Type:         eventbus.SessionEventCaptureRequested,
		MediaSession: sessionID,
		Language:     language,
	}); err != nil {
		klog.Warningf("发布识别请求事件失败: session=%s, err=%v", sessionID, err)
	}
	return nil
}

// Stop 通知外部停止识别；会话已结束（中止或超时收尾）时同时移除回填入口
func (e *BridgeCaptureEngine) Stop(sessionID string) {
	e.mutex.Lock()
	sink, ok := e.sinks[sessionID]
	e.mutex.Unlock()
	if !ok {
		return
	}
	if finished(sink) {
		e.forget(sessionID, sink)
	}
	if err := e.publisher.Publish(context.Background(), eventbus.SessionEvent{
		Type:         eventbus.SessionEventCaptureStopped,
		MediaSession: sessionID,
	}); err != nil {
		klog.Warningf("发布停止识别事件失败: session=%s, err=%v", sessionID, err)
	}
}

// Current 最近一次开始且尚未结束的识别会话
func (e *BridgeCaptureEngine) Current() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.current
}

func (e *BridgeCaptureEngine) Partial(sessionID, text string) error {
	sink, err := e.lookup(sessionID, false)
	if err != nil {
		return err
	}
	sink.OnPartial(text)
	return nil
}

func (e *BridgeCaptureEngine) Final(sessionID, text string) error {
	sink, err := e.lookup(sessionID, true)
	if err != nil {
		return err
	}
	sink.OnFinal(text)
	return nil
}

func (e *BridgeCaptureEngine) Fail(sessionID string, kind CaptureErrorKind) error {
	sink, err := e.lookup(sessionID, true)
	if err != nil {
		return err
	}
	sink.OnError(kind)
	return nil
}

func (e *BridgeCaptureEngine) End(sessionID string) error {
	sink, err := e.lookup(sessionID, true)
	if err != nil {
		return err
	}
	sink.OnEnd()
	return nil
}

func (e *BridgeCaptureEngine) forget(sessionID string, sink RecognitionSink) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.sinks[sessionID] != sink {
		return
	}
	delete(e.sinks, sessionID)
	if e.current == sessionID {
		e.current = ""
	}
	klog.V(6).Infof("识别会话已结束，移除回填入口: session=%s", sessionID)
}

func finished(sink RecognitionSink) bool {
	f, ok := sink.(interface{ Finished() bool })
	return ok && f.Finished()
}

// lookup 空 sessionID 表示当前会话；terminal 为 true 时同时移除
func (e *BridgeCaptureEngine) lookup(sessionID string, terminal bool) (RecognitionSink, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if sessionID == "" {
		sessionID = e.current
	}
	sink, ok := e.sinks[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	if terminal {
		delete(e.sinks, sessionID)
		if e.current == sessionID {
			e.current = ""
		}
	}
	return sink, nil
}

// BridgePlaybackEngine 由外部完成语音合成，播放进度通过 Started/Ended/Failed 回填
type BridgePlaybackEngine struct {
	publisher EventPublisher

	mutex   sync.Mutex
	sinks   map[string]PlaybackSink
	current string
}

func NewBridgePlaybackEngine(publisher EventPublisher) *BridgePlaybackEngine {
	return &BridgePlaybackEngine{
		publisher: publisher,
		sinks:     make(map[string]PlaybackSink),
	}
}

func (e *BridgePlaybackEngine) Play(ctx context.Context, sessionID, text, language string, sink PlaybackSink) error {
	e.mutex.Lock()
	e.sinks[sessionID] = sink
	e.current = sessionID
	e.mutex.Unlock()

	if err := e.publisher.Publish(ctx, eventbus.SessionEvent{
		Type:         eventbus.SessionEventPlaybackRequested,
		MediaSession: sessionID,
		Text:         text,
		Language:     language,
	}); err != nil {
		klog.Warningf("发布播放请求事件失败: session=%s, err=%v", sessionID, err)
	}
	return nil
}

func (e *BridgePlaybackEngine) Cancel(sessionID string) {
	e.mutex.Lock()
	_, ok := e.sinks[sessionID]
	delete(e.sinks, sessionID)
	if e.current == sessionID {
		e.current = ""
	}
	e.mutex.Unlock()
	if !ok {
		return
	}
	if err := e.publisher.Publish(context.Background(), eventbus.SessionEvent{
		Type:         eventbus.SessionEventPlaybackCancelled,
		MediaSession: sessionID,
	}); err != nil {
		klog.Warningf("发布取消播放事件失败: session=%s, err=%v", sessionID, err)
	}
}

func (e *BridgePlaybackEngine) Current() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.current
}

func (e *BridgePlaybackEngine) Started(sessionID string) error {
	sink, err := e.lookup(sessionID, false)
	if err != nil {
		return err
	}
	sink.OnStart()
	return nil
}

func (e *BridgePlaybackEngine) Ended(sessionID string) error {
	sink, err := e.lookup(sessionID, true)
	if err != nil {
		return err
	}
	sink.OnEnd()
	return nil
}

func (e *BridgePlaybackEngine) Failed(sessionID string, cause error) error {
	sink, err := e.lookup(sessionID, true)
	if err != nil {
		return err
	}
	sink.OnError(cause)
	return nil
}

func (e *BridgePlaybackEngine) lookup(sessionID string, terminal bool) (PlaybackSink, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if sessionID == "" {
		sessionID = e.current
	}
	sink, ok := e.sinks[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	if terminal {
		delete(e.sinks, sessionID)
		if e.current == sessionID {
			e.current = ""
		}
	}
	return sink, nil
}
