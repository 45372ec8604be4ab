package ctxengine

import "github.com/flemzord/fanyi/internal/provider"

// Build assembles the ordered message list sent to the backend: the
// system instruction, the summary notice when there is one, every turn as
// a user/assistant pair, and finally the current input. It never mutates st.
func Build(systemInstruction string, st State, input string) []provider.LLMMessage {
	msgs := make([]provider.LLMMessage, 0, 2*len(st.Turns)+3)
	msgs = append(msgs, provider.LLMMessage{
		Role:    provider.MessageRoleSystem,
		Content: systemInstruction,
	})
	if st.Summary != "" {
		msgs = append(msgs, provider.LLMMessage{
			Role:    provider.MessageRoleSystem,
			Content: SummaryHeader + st.Summary,
		})
	}
	for i := range st.Turns {
		msgs = append(msgs,
			provider.LLMMessage{Role: provider.MessageRoleUser, Content: st.Turns[i].User},
			provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: st.Turns[i].Assistant},
		)
	}
	msgs = append(msgs, provider.LLMMessage{
		Role:    provider.MessageRoleUser,
		Content: input,
	})
	return msgs
}
