package speech

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"k8s.io/klog/v2"
)

// CommandPlaybackEngine 调用本地 TTS 命令播放，文本作为最后一个参数
// 例如 say、espeak、edge-playback --text
type CommandPlaybackEngine struct {
	command string
	args    []string

	mutex   sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCommandPlaybackEngine(command string, args []string) (*CommandPlaybackEngine, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("tts command %q not found: %w", command, err)
	}
	return &CommandPlaybackEngine{
		command: path,
		args:    args,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

func (e *CommandPlaybackEngine) Play(ctx context.Context, sessionID, text, language string, sink PlaybackSink) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	args := append(append([]string{}, e.args...), text)
	cmd := exec.CommandContext(runCtx, e.command, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}

	e.mutex.Lock()
	e.cancels[sessionID] = cancel
	e.mutex.Unlock()
	sink.OnStart()

	go func() {
		err := cmd.Wait()
		e.mutex.Lock()
		delete(e.cancels, sessionID)
		e.mutex.Unlock()
		cancelled := runCtx.Err() != nil
		cancel()

		switch {
		case cancelled:
			klog.V(6).Infof("TTS 命令已取消: session=%s", sessionID)
			sink.OnEnd()
		case err != nil:
			sink.OnError(fmt.Errorf("tts command failed: %w", err))
		default:
			sink.OnEnd()
		}
	}()
	return nil
}

func (e *CommandPlaybackEngine) Cancel(sessionID string) {
	e.mutex.Lock()
	cancel, ok := e.cancels[sessionID]
	e.mutex.Unlock()
	if ok {
		cancel()
	}
}
