package assistant

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/weibaohui/voicechef/backend/config"
	"github.com/weibaohui/voicechef/backend/internal/pkg/llm"
	"k8s.io/klog/v2"
)

// NewChatModel 按配置创建 OpenAI 兼容的 eino ChatModel
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	klog.V(6).Infof("创建 OpenAI ChatModel: model=%s, baseURL=%s", cfg.LLM.Model, cfg.LLM.APIURL)

	modelConfig := &openai.ChatModelConfig{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
	}
	if cfg.LLM.APIURL != "" {
		modelConfig.BaseURL = cfg.LLM.APIURL
	}
	if cfg.LLM.MaxTokens > 0 {
		maxTokens := cfg.LLM.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		klog.Errorf("创建 ChatModel 失败: %v", err)
		return nil, err
	}
	return chatModel, nil
}

// NewRouterFromConfig 按配置创建 Chef（OpenAI 工具调用）与 Coach（eino ChatModel）两个后端
func NewRouterFromConfig(ctx context.Context, cfg *config.Config) (*Router, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chef := NewChefFlow(llm.NewClient(cfg))
	coach := NewCoachFlow(chatModel, CoachContext{
		Goal:                cfg.Coach.Goal,
		DietaryRestrictions: cfg.Coach.DietaryRestrictions,
		Allergies:           cfg.Coach.Allergies,
		Lifestyle:           cfg.Coach.Lifestyle,
		CurrentPlan:         cfg.Coach.CurrentPlan,
	})
	return NewRouter(chef, coach), nil
}
