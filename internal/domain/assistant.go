package domain

import (
	"errors"
	"fmt"
	"strings"
)

// AssistantIdentity 当前激活的对话助手
type AssistantIdentity string

const (
	AssistantChef  AssistantIdentity = "chef"  // 厨师助手，可附带菜谱
	AssistantCoach AssistantIdentity = "coach" // 健康饮食教练
)

var ErrUnknownAssistant = errors.New("unknown assistant")

// ParseAssistantIdentity 解析助手标识，忽略大小写
func ParseAssistantIdentity(s string) (AssistantIdentity, error) {
	switch AssistantIdentity(strings.ToLower(strings.TrimSpace(s))) {
	case AssistantChef:
		return AssistantChef, nil
	case AssistantCoach:
		return AssistantCoach, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAssistant, s)
}

// Valid 判断是否为已知助手
func (a AssistantIdentity) Valid() bool {
	return a == AssistantChef || a == AssistantCoach
}

// Greeting 切换或重置会话时的开场白
func (a AssistantIdentity) Greeting() string {
	if a == AssistantChef {
		return "Hello! I'm your AI Chef. Ask me about recipes, cooking techniques, or anything kitchen-related!"
	}
	return "Hi there! I'm your AI Health Coach. Let's talk about your diet and fitness goals."
}

func (a AssistantIdentity) DisplayName() string {
	if a == AssistantChef {
		return "AI Chef"
	}
	return "AI Health Coach"
}
