package permission

import (
	"context"
	"sync"
)

// StaticProber 固定结果的探测器，用于终端模式
type StaticProber struct {
	Granted   bool
	Supported bool
}

func (p StaticProber) Probe(ctx context.Context) (bool, error) {
	if !p.Supported {
		return false, ErrUnsupported
	}
	return p.Granted, nil
}

// RemoteProber 等待浏览器上报权限结果
// 浏览器在页面加载或首次点击麦克风时通过 HTTP 调用 Report
type RemoteProber struct {
	once      sync.Once
	ready     chan struct{}
	granted   bool
	supported bool
}

func NewRemoteProber() *RemoteProber {
	return &RemoteProber{ready: make(chan struct{})}
}

// Report 上报权限结果，只有第一次上报生效
func (p *RemoteProber) Report(granted, supported bool) bool {
	accepted := false
	p.once.Do(func() {
		p.granted = granted
		p.supported = supported
		close(p.ready)
		accepted = true
	})
	return accepted
}

func (p *RemoteProber) Probe(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-p.ready:
	}
	if !p.supported {
		return false, ErrUnsupported
	}
	return p.granted, nil
}
