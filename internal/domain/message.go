package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Suggestion 助手回复附带的结构化建议（目前只有菜谱）
type Suggestion struct {
	RecipeName   string `json:"recipeName"`
	Instructions string `json:"instructions"`
	Ingredients  string `json:"ingredients"`
}

// Message 会话中的一条消息，创建后不可修改
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Suggestion `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewUserMessage 创建用户消息
func NewUserMessage(content string) Message {
	return Message{
		ID:        "user-" + uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage 创建助手消息，attachment 可为空
func NewAssistantMessage(content string, attachment *Suggestion) Message {
	return Message{
		ID:         "assistant-" + uuid.NewString(),
		Role:       RoleAssistant,
		Content:    content,
		Attachment: attachment.Clone(),
		CreatedAt:  time.Now(),
	}
}

// GreetingTranscript 返回只包含开场白的新会话记录
func GreetingTranscript(a AssistantIdentity) []Message {
	greeting := NewAssistantMessage(a.Greeting(), nil)
	greeting.ID = "init-" + uuid.NewString()
	return []Message{greeting}
}

// Clone 深拷贝，nil 安全
func (s *Suggestion) Clone() *Suggestion {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CloneMessages 拷贝消息列表，交给外部的快照不能共享附件指针
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		m.Attachment = m.Attachment.Clone()
		out[i] = m
	}
	return out
}
