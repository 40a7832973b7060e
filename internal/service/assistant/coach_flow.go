package assistant

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/utils"
	"k8s.io/klog/v2"
)

// CoachContext 教练助手的用户偏好与当前计划，语音模式下为空
type CoachContext struct {
	Goal                string
	DietaryRestrictions []string
	Allergies           []string
	Lifestyle           string
	CurrentPlan         string
}

var coachPromptTemplate = template.Must(template.New("coach").Funcs(template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}).Parse(coachSystemPrompt))

// CoachFlow 健康饮食教练，基于 eino ChatModel
type CoachFlow struct {
	model   model.BaseChatModel
	context CoachContext
}

func NewCoachFlow(chatModel model.BaseChatModel, coachContext CoachContext) *CoachFlow {
	return &CoachFlow{model: chatModel, context: coachContext}
}

func (f *CoachFlow) Respond(ctx context.Context, history []domain.Message, utterance string) (*Reply, error) {
	systemPrompt, err := f.systemPrompt()
	if err != nil {
		return nil, err
	}

	input := make([]*schema.Message, 0, len(history)+2)
	input = append(input, schema.SystemMessage(systemPrompt))
	input = append(input, toSchemaMessages(history)...)
	input = append(input, schema.UserMessage(utterance))

	klog.V(6).Infof("Coach Generate: messages=%d", len(input))
	resp, err := f.model.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Content)
	// 兼容模型仍按结构化格式输出
	var structured structuredReply
	if strings.Contains(text, "assistantResponse") && utils.DecodeJSON(text, &structured) == nil {
		text = strings.TrimSpace(structured.AssistantResponse)
	}
	if text == "" {
		text = fallbackResponse
	}
	return &Reply{ResponseText: text}, nil
}

func (f *CoachFlow) systemPrompt() (string, error) {
	var buf bytes.Buffer
	if err := coachPromptTemplate.Execute(&buf, f.context); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toSchemaMessages(history []domain.Message) []*schema.Message {
	return slice.Map(history, func(_ int, m domain.Message) *schema.Message {
		if m.Role == domain.RoleUser {
			return schema.UserMessage(m.Content)
		}
		return schema.AssistantMessage(m.Content, nil)
	})
}
