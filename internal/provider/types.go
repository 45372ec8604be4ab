package provider

// MessageRole is the author of a chat message.
type MessageRole string

// Chat roles understood by the backend.
const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// FinishReason is why the backend stopped generating.
type FinishReason string

// Finish reasons reported by the backend.
const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonFiltering FinishReason = "content_filter"
	// FinishReasonResources means the backend ran out of capacity mid-reply.
	FinishReasonResources FinishReason = "insufficient_system_resource"
)

// Truncated reports whether the reply was cut short.
func (r FinishReason) Truncated() bool {
	return r == FinishReasonLength || r == FinishReasonResources
}

// LLMMessage is one chat message as sent to the backend.
type LLMMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// CompletionRequest is the input of Complete and Stream.
type CompletionRequest struct {
	Messages []LLMMessage `json:"messages"`

	// Model overrides the backend's configured model.
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// CompletionResponse is the result of a non-streaming Complete call.
type CompletionResponse struct {
	Content          string       `json:"content"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	FinishReason     FinishReason `json:"finish_reason"`
	Usage            TokenUsage   `json:"usage"`
}

// TokenUsage is the backend's token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// CacheHitTokens counts prompt tokens served from the backend's
	// context cache. Replayed history usually hits it.
	CacheHitTokens int `json:"prompt_cache_hit_tokens,omitempty"`
}

// Float64 returns a pointer to v, for the optional sampling parameters.
func Float64(v float64) *float64 { return &v }
