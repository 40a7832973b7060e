package speech

import "context"

// NoOpPlaybackEngine 不发声，立即结束；用于没有配置 TTS 的终端模式
type NoOpPlaybackEngine struct{}

func (NoOpPlaybackEngine) Play(ctx context.Context, sessionID, text, language string, sink PlaybackSink) error {
	sink.OnStart()
	sink.OnEnd()
	return nil
}

func (NoOpPlaybackEngine) Cancel(sessionID string) {}
