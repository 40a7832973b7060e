package orchestrator

import (
	"fmt"
	"strings"

	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/service/assistant"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
)

const (
	apologyPrefix       = "Sorry, I encountered an error. "
	authFailureDetail   = "Assistant unavailable. Please ensure your API key is configured correctly and the server has been restarted."
	emptyReplyText      = "Sorry, I didn't get that."
	recipeOnlyReplyText = "Okay, I found a recipe for you: %s. Check the recipe details!"
)

// replyText 决定回复的朗读文本
// 文本为空但带菜谱时合成一句介绍；两者都为空时给出兜底回复
func replyText(reply *assistant.Reply) string {
	if reply == nil {
		return emptyReplyText
	}
	text := strings.TrimSpace(reply.ResponseText)
	if text != "" {
		return text
	}
	if reply.Suggestion != nil && strings.TrimSpace(reply.Suggestion.RecipeName) != "" {
		return fmt.Sprintf(recipeOnlyReplyText, reply.Suggestion.RecipeName)
	}
	return emptyReplyText
}

// backendFailure 后端失败时的道歉内容、通知与结果分类
func backendFailure(err error) (string, domain.Notice, domain.TurnOutcomeKind) {
	if assistant.IsAuthError(err) {
		return apologyPrefix + authFailureDetail, domain.Notice{
			Kind:        domain.NoticeBackendAuth,
			Title:       "API Key Error",
			Description: authFailureDetail,
			Destructive: true,
		}, domain.TurnBackendAuthFailed
	}
	detail := fmt.Sprintf("Sorry, I couldn't get a response: %v", err)
	return apologyPrefix + detail, domain.Notice{
		Kind:        domain.NoticeBackend,
		Title:       "Assistant Error",
		Description: detail,
		Destructive: true,
	}, domain.TurnBackendFailed
}

// captureFailure 识别错误对应的通知；aborted 不提示
func captureFailure(kind speech.CaptureErrorKind) (*domain.Notice, domain.TurnOutcomeKind) {
	notice := &domain.Notice{Kind: domain.NoticeCapture, Title: "Voice Error", Destructive: true}
	switch kind {
	case speech.CaptureErrAborted:
		return nil, domain.TurnEmpty
	case speech.CaptureErrNoSpeech:
		notice.Description = "No speech detected. Please try again."
		return notice, domain.TurnEmpty
	case speech.CaptureErrPermissionRevoked:
		notice.Kind = domain.NoticePermission
		notice.Description = "Microphone access denied. Please enable it in your browser settings."
	case speech.CaptureErrNetwork:
		notice.Description = "Network error during speech recognition."
	default:
		notice.Description = "Speech recognition error"
	}
	return notice, domain.TurnCaptureFailed
}

func permissionNotice(unsupported bool) domain.Notice {
	if unsupported {
		return domain.Notice{
			Kind:        domain.NoticeUnsupported,
			Title:       "Unsupported Browser",
			Description: "Voice input is not supported here.",
			Destructive: true,
		}
	}
	return domain.Notice{
		Kind:        domain.NoticePermission,
		Title:       "Microphone Required",
		Description: "Please enable microphone access.",
		Destructive: true,
	}
}

func busyNotice(description string) domain.Notice {
	return domain.Notice{Kind: domain.NoticeBusy, Title: "Please Wait", Description: description}
}

func captureStartNotice() domain.Notice {
	return domain.Notice{
		Kind:        domain.NoticeCapture,
		Title:       "Voice Error",
		Description: "Could not start voice recognition.",
		Destructive: true,
	}
}

func playbackNotice() domain.Notice {
	return domain.Notice{
		Kind:        domain.NoticePlayback,
		Title:       "Speech Error",
		Description: "Could not play assistant response.",
		Destructive: true,
	}
}
