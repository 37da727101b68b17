package agentrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	now := time.Now()
	msg := Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock("hello"), TextBlock("world")}, At: now}
	assert.Equal(t, "hello\nworld", msg.Text())
}

func TestMessageTextIgnoresNonTextBlocks(t *testing.T) {
	msg := Message{Content: []ContentBlock{
		{Type: "toolCall", ToolCall: &ToolCall{Id: "1", Name: "read_file"}},
		TextBlock("ok"),
	}}
	assert.Equal(t, "ok", msg.Text())
}

func TestMessageToolCallsPreservesOrder(t *testing.T) {
	msg := Message{Content: []ContentBlock{
		{Type: "toolCall", ToolCall: &ToolCall{Id: "1", Name: "a"}},
		TextBlock("thinking"),
		{Type: "toolCall", ToolCall: &ToolCall{Id: "2", Name: "b"}},
	}}
	calls := msg.ToolCalls()
	if assert.Len(t, calls, 2) {
		assert.Equal(t, "a", calls[0].Name)
		assert.Equal(t, "b", calls[1].Name)
	}
}

func TestNewUserAndAssistantMessage(t *testing.T) {
	now := time.Now()
	u := NewUserMessage("hi", now)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "hi", u.Text())

	a := NewAssistantMessage("hello", now)
	assert.Equal(t, RoleAssistant, a.Role)
	assert.Equal(t, "hello", a.Text())
}
