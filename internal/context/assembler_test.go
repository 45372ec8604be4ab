package ctxengine_test

import (
	"strings"
	"testing"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/provider"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state ctxengine.State
		want  []provider.LLMMessage
	}{
		{
			name: "empty state",
			want: []provider.LLMMessage{
				{Role: provider.MessageRoleSystem, Content: "sys"},
				{Role: provider.MessageRoleUser, Content: "now"},
			},
		},
		{
			name:  "turns without summary",
			state: ctxengine.State{Turns: makeTurns(1, 1)},
			want: []provider.LLMMessage{
				{Role: provider.MessageRoleSystem, Content: "sys"},
				{Role: provider.MessageRoleUser, Content: "q0"},
				{Role: provider.MessageRoleAssistant, Content: "a0"},
				{Role: provider.MessageRoleUser, Content: "q1"},
				{Role: provider.MessageRoleAssistant, Content: "a1"},
				{Role: provider.MessageRoleUser, Content: "now"},
			},
		},
		{
			name:  "summary and turns",
			state: ctxengine.State{Turns: makeTurns(1), Summary: "earlier", SummaryTokens: 3},
			want: []provider.LLMMessage{
				{Role: provider.MessageRoleSystem, Content: "sys"},
				{Role: provider.MessageRoleSystem, Content: "以下是之前对话的简要摘要：\nearlier"},
				{Role: provider.MessageRoleUser, Content: "q0"},
				{Role: provider.MessageRoleAssistant, Content: "a0"},
				{Role: provider.MessageRoleUser, Content: "now"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ctxengine.Build("sys", tt.state, "now")
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("msg[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuild_DoesNotMutateState(t *testing.T) {
	t.Parallel()

	st := ctxengine.State{Turns: makeTurns(5, 6)}
	msgs := ctxengine.Build("sys", st, "now")
	msgs[1].Content = "changed"

	if st.Turns[0].User != "q0" || len(st.Turns) != 2 {
		t.Errorf("state mutated: %+v", st.Turns)
	}
}

func TestSystemInstruction(t *testing.T) {
	t.Parallel()

	en, err := ctxengine.SystemInstruction("")
	if err != nil || !strings.Contains(en, "**Translation**") {
		t.Errorf("default instruction = %q, %v", en, err)
	}
	zh, err := ctxengine.SystemInstruction(ctxengine.LanguageChinese)
	if err != nil || !strings.Contains(zh, "**翻译**") {
		t.Errorf("chinese instruction = %q, %v", zh, err)
	}
	if _, err := ctxengine.SystemInstruction("klingon"); err == nil {
		t.Error("unknown language should fail")
	}
}
