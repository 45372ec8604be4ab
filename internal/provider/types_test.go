package provider

import (
	"encoding/json"
	"testing"
)

func TestCompletionRequest_OmitsUnsetOptions(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(CompletionRequest{
		Messages: []LLMMessage{{Role: MessageRoleUser, Content: "学而时习之"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"model", "max_tokens", "temperature", "top_p", "stop"} {
		if _, ok := raw[key]; ok {
			t.Errorf("%s should be omitted when unset", key)
		}
	}

	data, _ = json.Marshal(CompletionRequest{Temperature: Float64(0)})
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if v, ok := raw["temperature"]; !ok || v != 0.0 {
		t.Errorf("an explicit zero temperature must be sent, got %v", raw)
	}
}

func TestFinishReason_Truncated(t *testing.T) {
	t.Parallel()

	tests := map[FinishReason]bool{
		FinishReasonStop:      false,
		FinishReasonLength:    true,
		FinishReasonFiltering: false,
		FinishReasonResources: true,
		"":                    false,
	}
	for reason, want := range tests {
		if got := reason.Truncated(); got != want {
			t.Errorf("%q.Truncated() = %v, want %v", reason, got, want)
		}
	}
}
