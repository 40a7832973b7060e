package utils

import (
	"encoding/json"
	"fmt"

	"k8s.io/klog/v2"
)

// ExtractJSON 从模型输出中提取第一个完整的 JSON 对象
// 忽略字符串中的花括号；找不到时返回原始内容
func ExtractJSON(content string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return content[start : i+1]
			}
		}
	}

	return content
}

// DecodeJSON 提取并解析模型输出中的 JSON 对象
func DecodeJSON(content string, v any) error {
	raw := ExtractJSON(content)
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		klog.V(6).Infof("[DecodeJSON] 解析失败: %v", err)
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}
