package llm

import (
	"context"
	"encoding/json"
)

// Tool 定义一个可供 LLM 调用的工具
// 符合 OpenAI Function Calling 格式
type Tool struct {
	Type     string       `json:"type"` // 固定为 "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction 工具函数定义
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema 参数 JSON Schema 定义
type ParameterSchema struct {
	Type       string              `json:"type"` // 固定为 "object"
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property 单个参数属性
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolCall LLM 返回的工具调用请求
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 函数调用详情
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON 格式的参数字符串
}

// ToolResult 工具执行结果
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolHandler 工具处理函数类型
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"` // "none", "auto", "required"
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Created int64      `json:"created"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   Usage      `json:"usage"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls"
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

const GenerateRecipeToolName = "generate_recipe"

// GenerateRecipeTool 返回 generate_recipe 工具定义
func GenerateRecipeTool() Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        GenerateRecipeToolName,
			Description: "Generates a recipe based on a list of available ingredients and optional dietary preferences. Use this when the user asks for a recipe suggestion.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"ingredients": {
						Type:        "string",
						Description: "A comma-separated list of ingredients available to use in the recipe.",
					},
					"dietaryPreferences": {
						Type:        "string",
						Description: "Optional dietary preferences or restrictions (e.g., vegetarian, gluten-free).",
					},
				},
				Required: []string{"ingredients"},
			},
		},
	}
}
