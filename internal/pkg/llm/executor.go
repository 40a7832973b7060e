package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolExecutor 工具执行器接口
type ToolExecutor interface {
	Execute(ctx context.Context, toolCall ToolCall) (ToolResult, error)
}

// FuncExecutor 按工具名分发到已注册的处理函数
type FuncExecutor struct {
	handlers     map[string]ToolHandler
	maxResultLen int
}

func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{
		handlers:     make(map[string]ToolHandler),
		maxResultLen: 10000,
	}
}

// Register 注册工具处理函数，同名覆盖
func (e *FuncExecutor) Register(name string, handler ToolHandler) *FuncExecutor {
	e.handlers[name] = handler
	return e
}

// Execute 执行工具调用
func (e *FuncExecutor) Execute(ctx context.Context, toolCall ToolCall) (ToolResult, error) {
	if err := e.validateToolCall(toolCall); err != nil {
		return ToolResult{Content: err.Error(), IsError: true}, nil
	}

	handler := e.handlers[toolCall.Function.Name]
	result, err := handler(ctx, json.RawMessage(toolCall.Function.Arguments))
	if err != nil {
		return ToolResult{Content: err.Error(), IsError: true}, nil
	}

	// 限制结果长度
	if len(result) > e.maxResultLen {
		result = result[:e.maxResultLen] + fmt.Sprintf("\n... (%d more bytes truncated)", len(result)-e.maxResultLen)
	}
	return ToolResult{Content: result}, nil
}

// validateToolCall 验证单个工具调用
func (e *FuncExecutor) validateToolCall(toolCall ToolCall) error {
	if toolCall.Type != "" && toolCall.Type != "function" {
		return fmt.Errorf("unsupported tool call type: %s", toolCall.Type)
	}
	if toolCall.Function.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, ok := e.handlers[toolCall.Function.Name]; !ok {
		return fmt.Errorf("unknown tool: %s", toolCall.Function.Name)
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// GetAvailableTools 返回已注册的工具名
func (e *FuncExecutor) GetAvailableTools() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
