package liveio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gensim/runtime"
)

func TestLLMHandlerMockMatchTakesPriority(t *testing.T) {
	h := NewLLMHandler(map[string]string{"^hello$": "world"}, "", nil, nil)
	resp := h.Exec(runtime.NondetRequest{Prompt: "hello"})
	require.Equal(t, "world", resp.Text)
}

func TestLLMHandlerNoProviderConfiguredReportsStructuredError(t *testing.T) {
	h := NewLLMHandler(nil, "", nil, nil)
	resp := h.Exec(runtime.NondetRequest{Prompt: "anything"})
	errMap, ok := resp.Struct.(map[string]any)
	require.True(t, ok)
	require.Contains(t, errMap["error"], "no language-model provider")
}

func TestLLMHandlerUnknownProviderReportsStructuredError(t *testing.T) {
	h := NewLLMHandler(nil, "mystery:model-x", nil, nil)
	resp := h.Exec(runtime.NondetRequest{Prompt: "anything"})
	errMap, ok := resp.Struct.(map[string]any)
	require.True(t, ok)
	require.Contains(t, errMap["error"], "unknown language-model provider")
}

func TestLLMHandlerStructuredFormatParsesJSONText(t *testing.T) {
	h := NewLLMHandler(map[string]string{"^ping$": `{"k":"v"}`}, "", nil, nil)
	resp := h.Exec(runtime.NondetRequest{Prompt: "ping", PromptCfg: map[string]any{"format": "json"}})
	require.Equal(t, `{"k":"v"}`, resp.Text)
	parsed, ok := resp.Struct.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "v", parsed["k"])
}
