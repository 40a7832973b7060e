package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/weibaohui/voicechef/backend/internal/domain"
	"k8s.io/klog/v2"
)

// Reply 后端返回的回复
type Reply struct {
	ResponseText string
	Suggestion   *domain.Suggestion
}

// Flow 对话后端：历史记录 + 最新一句话 -> 回复
// history 不包含 utterance 本身
type Flow interface {
	Respond(ctx context.Context, history []domain.Message, utterance string) (*Reply, error)
}

// Router 按助手身份选择后端，不重试，错误原样返回
type Router struct {
	flows map[domain.AssistantIdentity]Flow
}

func NewRouter(chef, coach Flow) *Router {
	r := &Router{flows: make(map[domain.AssistantIdentity]Flow)}
	r.Register(domain.AssistantChef, chef)
	r.Register(domain.AssistantCoach, coach)
	return r
}

func (r *Router) Register(identity domain.AssistantIdentity, flow Flow) {
	if flow == nil {
		delete(r.flows, identity)
		return
	}
	r.flows[identity] = flow
}

func (r *Router) Dispatch(ctx context.Context, identity domain.AssistantIdentity, history []domain.Message, latest string) (*Reply, error) {
	flow, ok := r.flows[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAssistant, identity)
	}

	start := time.Now()
	klog.V(6).Infof("分发到对话后端: assistant=%s, history=%d", identity, len(history))
	reply, err := flow.Respond(ctx, history, latest)
	if err != nil {
		klog.Errorf("对话后端调用失败: assistant=%s, cost=%v, err=%v", identity, time.Since(start), err)
		return nil, err
	}
	if reply == nil {
		reply = &Reply{}
	}
	klog.V(6).Infof("对话后端返回: assistant=%s, cost=%v, chars=%d, suggestion=%v",
		identity, time.Since(start), len(reply.ResponseText), reply.Suggestion != nil)
	return reply, nil
}
