package assistant

import (
	"errors"
	"net/http"
	"strings"

	"github.com/weibaohui/voicechef/backend/internal/pkg/llm"
)

// authCodes 接口返回的鉴权错误码
var authCodes = []string{"invalid_api_key", "api_key_invalid"}

// authKeywords 无类型错误中代表 API Key 问题的短语
var authKeywords = []string{
	"invalid_api_key",
	"incorrect api key",
	"api key not valid",
	"api_key_invalid",
	"400 bad request",
	"unauthorized",
}

// IsAuthError 判断错误是否为 API Key / 鉴权问题
// 带状态码的接口错误只看状态码和错误码，其余错误按关键字匹配
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return true
		}
		for _, code := range authCodes {
			if strings.EqualFold(apiErr.Code, code) {
				return true
			}
		}
		return false
	}

	errMsg := strings.ToLower(err.Error())
	for _, keyword := range authKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}
