package permission

import (
	"context"
	"errors"
	"sync"

	"github.com/weibaohui/voicechef/backend/internal/domain"
	"k8s.io/klog/v2"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrUnsupported      = errors.New("speech recognition is not supported")
)

// Prober 探测平台的麦克风能力
// 返回 ErrUnsupported 表示当前平台不支持语音识别
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Gate 麦克风权限闸门
// 状态一旦确定（granted/denied）便不再探测；并发调用共享同一次探测
type Gate struct {
	prober Prober

	mutex       sync.Mutex
	status      domain.PermissionStatus
	unsupported bool
	inflight    chan struct{}
	lastErr     error
}

func NewGate(prober Prober) *Gate {
	return &Gate{
		prober: prober,
		status: domain.PermissionUnknown,
	}
}

// Status 读取当前状态，不触发探测
func (g *Gate) Status() domain.PermissionStatus {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.status
}

// Unsupported 平台是否不支持语音识别
func (g *Gate) Unsupported() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.unsupported
}

// MarkDenied 识别过程中权限被收回时调用
func (g *Gate) MarkDenied() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.status != domain.PermissionDenied {
		klog.Warningf("麦克风权限被收回: from=%s", g.status)
	}
	g.status = domain.PermissionDenied
}

// RequestMicrophoneAccess 请求麦克风权限
// 状态未知时探测一次；探测失败（非 unsupported）保持 unknown，下次调用会重新探测
func (g *Gate) RequestMicrophoneAccess(ctx context.Context) (domain.PermissionStatus, error) {
	g.mutex.Lock()
	if g.status != domain.PermissionUnknown {
		status := g.status
		g.mutex.Unlock()
		return status, nil
	}
	done := g.inflight
	if done == nil {
		done = make(chan struct{})
		g.inflight = done
		// 探测不随单个调用方的 ctx 取消，其他等待者仍需要结果
		go g.probe(context.WithoutCancel(ctx), done)
	}
	g.mutex.Unlock()

	select {
	case <-ctx.Done():
		return domain.PermissionUnknown, ctx.Err()
	case <-done:
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.status == domain.PermissionUnknown {
		return g.status, g.lastErr
	}
	return g.status, nil
}

func (g *Gate) probe(ctx context.Context, done chan struct{}) {
	granted, err := g.prober.Probe(ctx)

	g.mutex.Lock()
	defer g.mutex.Unlock()
	defer close(done)
	g.inflight = nil
	g.lastErr = nil

	switch {
	case errors.Is(err, ErrUnsupported):
		klog.Warningf("平台不支持语音识别，麦克风权限视为拒绝")
		g.status = domain.PermissionDenied
		g.unsupported = true
	case err != nil:
		klog.Errorf("麦克风权限探测失败: %v", err)
		g.lastErr = err
	case granted:
		klog.V(6).Infof("麦克风权限已授予")
		g.status = domain.PermissionGranted
	default:
		klog.Warningf("麦克风权限被拒绝")
		g.status = domain.PermissionDenied
	}
}
