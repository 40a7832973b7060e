package orchestrator

import "k8s.io/klog/v2"

type resourceKind int

const (
	resourceNone resourceKind = iota
	resourceMic
	resourceSpeaker
)

func (k resourceKind) String() string {
	switch k {
	case resourceMic:
		return "mic"
	case resourceSpeaker:
		return "speaker"
	default:
		return "none"
	}
}

// resourceToken 麦克风与扬声器的互斥令牌，只在事件循环内访问
// 获取一种资源时，如果另一种仍被占用，先调用其释放函数抢占
type resourceToken struct {
	holder  resourceKind
	release func()
}

func (t *resourceToken) acquire(kind resourceKind, release func()) {
	if t.holder != resourceNone && t.holder != kind {
		klog.Warningf("资源被抢占: holder=%s, requester=%s", t.holder, kind)
		t.reset()
	}
	t.holder = kind
	t.release = release
}

// releaseIf 资源已正常结束，只清除占用标记
func (t *resourceToken) releaseIf(kind resourceKind) {
	if t.holder == kind {
		t.holder = resourceNone
		t.release = nil
	}
}

// reset 主动释放当前占用的资源
func (t *resourceToken) reset() {
	release := t.release
	t.holder = resourceNone
	t.release = nil
	if release != nil {
		release()
	}
}

func (t *resourceToken) held() resourceKind {
	return t.holder
}
