package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weibaohui/voicechef/backend/config"
	"k8s.io/klog/v2"
)

// Client LLM 客户端
type Client struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	MaxRounds int
	Client    *http.Client
}

// NewClient 创建新的 LLM 客户端
func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(cfg.LLM.APIURL, "/"),
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		MaxRounds: 4,
		Client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// APIError 接口返回的错误，保留 HTTP 状态码用于区分鉴权失败
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Chat 发送对话请求
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	klog.V(6).Infof("Chat 请求: model=%s, messages=%d", c.Model, len(messages))
	resp, err := c.sendRequest(ctx, ChatRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return resp.Choices[0].Message.Content, nil
}

// ChatWithTools 发送带 Tools 的对话请求
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error) {
	klog.V(6).Infof("ChatWithTools 请求: model=%s, messages=%d, tools=%d", c.Model, len(messages), len(tools))
	return c.sendRequest(ctx, ChatRequest{
		Model:       c.Model,
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  "auto",
		MaxTokens:   c.MaxTokens,
		Temperature: 0.7,
	})
}

// ChatWithToolExecution 发送对话请求并自动处理 Tool Calls，直到获得文本响应
func (c *Client) ChatWithToolExecution(ctx context.Context, messages []ChatMessage, tools []Tool, executor ToolExecutor) (string, error) {
	maxRounds := c.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 4
	}
	klog.V(6).Infof("开始 ChatWithToolExecution: messages=%d, tools=%d", len(messages), len(tools))

	for round := 0; round < maxRounds; round++ {
		klog.V(6).Infof("Tool执行循环: round=%d/%d", round+1, maxRounds)
		resp, err := c.ChatWithTools(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("LLM request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no response from LLM")
		}

		message := resp.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			klog.V(6).Infof("LLM 返回文本响应，对话结束")
			return message.Content, nil
		}

		klog.V(6).Infof("LLM 返回工具调用: count=%d", len(message.ToolCalls))
		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   message.Content,
			ToolCalls: message.ToolCalls,
		})

		for _, toolCall := range message.ToolCalls {
			result, err := executor.Execute(ctx, toolCall)
			content := result.Content
			if err != nil {
				klog.Warningf("工具执行失败: tool=%s, err=%v", toolCall.Function.Name, err)
				content = fmt.Sprintf("Error executing tool: %v", err)
			}
			messages = append(messages, ChatMessage{
				Role:       "tool",
				ToolCallID: toolCall.ID,
				Content:    content,
			})
		}
	}

	return "", fmt.Errorf("exceeded maximum tool call rounds (%d)", maxRounds)
}

// sendRequest 发送 HTTP 请求到 LLM API
func (c *Client) sendRequest(ctx context.Context, reqBody ChatRequest) (*ChatResponse, error) {
	url := c.BaseURL + "/chat/completions"
	klog.V(6).Infof("发送 LLM 请求: url=%s, model=%s", url, reqBody.Model)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    chatResp.Error.Message,
			Type:       chatResp.Error.Type,
			Code:       chatResp.Error.Code,
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	klog.V(6).Infof("LLM 响应: tokens=%d", chatResp.Usage.TotalTokens)
	return &chatResp, nil
}
