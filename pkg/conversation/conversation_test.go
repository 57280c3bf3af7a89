package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgs(n int, role Role) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{ID: fmt.Sprintf("%s-%d", role, i), Role: role, Content: fmt.Sprintf("message %d", i)}
	}
	return out
}

func TestPrepareForLLMMessageCap(t *testing.T) {
	history := msgs(50, RoleUser)
	out := PrepareForLLM(history, TrimConfig{MaxMessages: 30, MaxTokens: 100000})

	require.Len(t, out, 30)
	// Tail is kept, head dropped.
	assert.Equal(t, "message 20", out[0].Content)
	assert.Equal(t, "message 49", out[29].Content)
	// Input untouched.
	assert.Len(t, history, 50)
}

func TestPrepareForLLMPreservesSystem(t *testing.T) {
	history := append([]Message{{Role: RoleSystem, Content: "be terse"}}, msgs(40, RoleUser)...)
	out := PrepareForLLM(history, TrimConfig{MaxMessages: 10, MaxTokens: 100000})

	require.Len(t, out, 11)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, "message 39", out[10].Content)
}

func TestPrepareForLLMTokenBudget(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens each
	history := []Message{
		{Role: RoleUser, Content: big},
		{Role: RoleAssistant, Content: big},
		{Role: RoleUser, Content: "latest question"},
	}
	out := PrepareForLLM(history, TrimConfig{MaxMessages: 30, MaxTokens: 1100})

	// Only the tail fits: the last big message plus the short one exceed the
	// budget, so just the big assistant turn and the question survive... the
	// walk keeps whatever fits from the tail.
	require.NotEmpty(t, out)
	assert.Equal(t, "latest question", out[len(out)-1].Content)
	total := 0
	for _, m := range out {
		total += EstimateTokens(m.Content)
	}
	assert.LessOrEqual(t, total, 1100)
}

func TestPrepareForLLMDefaults(t *testing.T) {
	out := PrepareForLLM(msgs(35, RoleUser), TrimConfig{})
	assert.Len(t, out, 30)
}

func TestFormatAsContext(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "bye"},
	}
	got := FormatAsContext(history, 2)
	assert.Equal(t, "assistant: hello\nuser: bye", got)

	assert.Equal(t, "user: hi\nassistant: hello\nuser: bye", FormatAsContext(history, 0))
	assert.Empty(t, FormatAsContext(nil, 5))
}

func TestLastMessages(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
	}

	u := LastUserMessage(history)
	require.NotNil(t, u)
	assert.Equal(t, "second", u.Content)

	a := LastAssistantMessage(history)
	require.NotNil(t, a)
	assert.Equal(t, "reply", a.Content)

	assert.Nil(t, LastUserMessage(nil))
	assert.Nil(t, LastAssistantMessage([]Message{{Role: RoleUser, Content: "only"}}))
}

func TestDeduplicateByID(t *testing.T) {
	history := []Message{
		{ID: "a", Role: RoleUser, Content: "one"},
		{ID: "b", Role: RoleAssistant, Content: "two"},
		{ID: "a", Role: RoleUser, Content: "one again"},
		{Role: RoleUser, Content: "no id"},
		{Role: RoleUser, Content: "no id either"},
	}
	out := DeduplicateByID(history)

	require.Len(t, out, 4)
	assert.Equal(t, "one", out[0].Content)
	assert.Equal(t, "two", out[1].Content)
	assert.Equal(t, "no id", out[2].Content)
}
