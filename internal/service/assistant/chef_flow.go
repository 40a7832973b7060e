package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/pkg/llm"
	"github.com/weibaohui/voicechef/backend/internal/utils"
	"k8s.io/klog/v2"
)

const (
	fallbackResponse        = "Sorry, I couldn't process that request. Can you try rephrasing?"
	chefToolFailureResponse = "I tried to generate a recipe, but something went wrong in structuring the response. Could you ask again?"
)

// ToolChatter OpenAI 兼容接口的最小能力，*llm.Client 实现了它
type ToolChatter interface {
	Chat(ctx context.Context, messages []llm.ChatMessage) (string, error)
	ChatWithToolExecution(ctx context.Context, messages []llm.ChatMessage, tools []llm.Tool, executor llm.ToolExecutor) (string, error)
}

// ChefFlow 厨师助手：普通问答，或通过 generate_recipe 工具生成菜谱
type ChefFlow struct {
	chatter ToolChatter
}

func NewChefFlow(chatter ToolChatter) *ChefFlow {
	return &ChefFlow{chatter: chatter}
}

// structuredReply 模型直接输出结构化结果时的格式
type structuredReply struct {
	AssistantResponse string             `json:"assistantResponse"`
	SuggestedRecipe   *domain.Suggestion `json:"suggestedRecipe"`
}

type recipeArgs struct {
	Ingredients        string `json:"ingredients"`
	DietaryPreferences string `json:"dietaryPreferences"`
}

func (f *ChefFlow) Respond(ctx context.Context, history []domain.Message, utterance string) (*Reply, error) {
	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: chefSystemPrompt})
	messages = append(messages, toChatMessages(history)...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: utterance})

	var (
		mutex      sync.Mutex
		recipe     *domain.Suggestion
		toolCalled bool
	)
	executor := llm.NewFuncExecutor().Register(llm.GenerateRecipeToolName, func(ctx context.Context, args json.RawMessage) (string, error) {
		mutex.Lock()
		toolCalled = true
		mutex.Unlock()

		generated, err := f.generateRecipe(ctx, args)
		if err != nil {
			return "", err
		}
		mutex.Lock()
		recipe = generated
		mutex.Unlock()
		return utils.ToJSON(generated), nil
	})

	text, err := f.chatter.ChatWithToolExecution(ctx, messages, []llm.Tool{llm.GenerateRecipeTool()}, executor)
	if err != nil {
		return nil, err
	}

	reply := &Reply{ResponseText: strings.TrimSpace(text)}
	var structured structuredReply
	if strings.Contains(text, "assistantResponse") && utils.DecodeJSON(text, &structured) == nil {
		reply.ResponseText = strings.TrimSpace(structured.AssistantResponse)
		reply.Suggestion = validRecipe(structured.SuggestedRecipe)
	}

	mutex.Lock()
	defer mutex.Unlock()
	if reply.Suggestion == nil {
		reply.Suggestion = recipe
	}

	switch {
	case toolCalled && reply.Suggestion == nil && strings.Contains(reply.ResponseText, llm.GenerateRecipeToolName):
		klog.Warningf("模型提到了菜谱工具但没有产出菜谱")
		reply.ResponseText = chefToolFailureResponse
	case reply.ResponseText == "" && reply.Suggestion == nil:
		reply.ResponseText = fallbackResponse
	}
	return reply, nil
}

// generateRecipe 工具实现：让模型按食材生成菜谱 JSON
func (f *ChefFlow) generateRecipe(ctx context.Context, raw json.RawMessage) (*domain.Suggestion, error) {
	var args recipeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid generate_recipe arguments: %w", err)
	}
	if strings.TrimSpace(args.Ingredients) == "" {
		return nil, fmt.Errorf("ingredients is required")
	}

	userPrompt := "Ingredients: " + args.Ingredients
	if args.DietaryPreferences != "" {
		userPrompt += "\nDietary preferences: " + args.DietaryPreferences
	}
	klog.V(6).Infof("生成菜谱: ingredients=%s", args.Ingredients)

	content, err := f.chatter.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: recipeSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return nil, fmt.Errorf("generate recipe: %w", err)
	}

	var recipe domain.Suggestion
	if err := utils.DecodeJSON(content, &recipe); err != nil {
		return nil, err
	}
	if validRecipe(&recipe) == nil {
		return nil, fmt.Errorf("generated recipe has no name")
	}
	return &recipe, nil
}

func validRecipe(recipe *domain.Suggestion) *domain.Suggestion {
	if recipe == nil || strings.TrimSpace(recipe.RecipeName) == "" {
		return nil
	}
	return recipe
}

func toChatMessages(history []domain.Message) []llm.ChatMessage {
	return slice.Map(history, func(_ int, m domain.Message) llm.ChatMessage {
		return llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	})
}
