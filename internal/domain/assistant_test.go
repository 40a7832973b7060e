package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAssistantIdentity(t *testing.T) {
	a, err := ParseAssistantIdentity(" Chef ")
	assert.NoError(t, err)
	assert.Equal(t, AssistantChef, a)

	a, err = ParseAssistantIdentity("coach")
	assert.NoError(t, err)
	assert.Equal(t, AssistantCoach, a)

	_, err = ParseAssistantIdentity("sommelier")
	assert.True(t, errors.Is(err, ErrUnknownAssistant))
}

func TestGreetingTranscript(t *testing.T) {
	for _, a := range []AssistantIdentity{AssistantChef, AssistantCoach} {
		transcript := GreetingTranscript(a)
		assert.Len(t, transcript, 1)
		assert.Equal(t, RoleAssistant, transcript[0].Role)
		assert.Equal(t, a.Greeting(), transcript[0].Content)
		assert.Nil(t, transcript[0].Attachment)
	}
	assert.NotEqual(t, AssistantChef.Greeting(), AssistantCoach.Greeting())
}

func TestCloneMessagesDoesNotShareAttachments(t *testing.T) {
	recipe := &Suggestion{RecipeName: "Chicken Rice Stir-Fry"}
	original := []Message{NewAssistantMessage("Here's a stir-fry!", recipe)}

	// 创建消息时已拷贝附件
	recipe.RecipeName = "changed"
	assert.Equal(t, "Chicken Rice Stir-Fry", original[0].Attachment.RecipeName)

	copied := CloneMessages(original)
	copied[0].Attachment.RecipeName = "mutated"
	assert.Equal(t, "Chicken Rice Stir-Fry", original[0].Attachment.RecipeName)
}
