package liveio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"gensim/runtime"
)

// LLMHandler services runtime.NondetExecPrompt calls (spec §4.6). It
// satisfies engine.LLMHandler structurally. provider is "name:model"
// (spec §6.3 --llm-provider); only a small, known set of providers is
// wired to an actual HTTP call, matching the spec's "unknown provider
// returns a tagged error payload rather than throwing".
type LLMHandler struct {
	mocks    map[string]string
	provider string
	model    string
	apiKey   string
	client   *http.Client
	logger   *logrus.Logger
}

// NewLLMHandler constructs an LLMHandler. providerSpec is "name:model";
// the API key is read from <NAME>_API_KEY in the environment, matching the
// teacher's convention of sourcing secrets from the environment rather than
// from config files.
func NewLLMHandler(mocks map[string]string, providerSpec string, client *http.Client, logger *logrus.Logger) *LLMHandler {
	if client == nil {
		client = http.DefaultClient
	}
	name, model, _ := strings.Cut(providerSpec, ":")
	apiKey := os.Getenv(strings.ToUpper(name) + "_API_KEY")
	return &LLMHandler{mocks: mocks, provider: name, model: model, apiKey: apiKey, client: client, logger: logger}
}

var knownProviders = map[string]string{
	"openai":    "https://api.openai.com/v1/chat/completions",
	"anthropic": "https://api.anthropic.com/v1/messages",
}

// Exec implements engine.LLMHandler.
func (l *LLMHandler) Exec(req runtime.NondetRequest) runtime.NondetResponse {
	if text, ok := matchFirst(l.mocks, req.Prompt); ok {
		return finishExec(req, text)
	}

	if l.provider == "" {
		return runtime.NondetResponse{Struct: map[string]any{"error": "no language-model provider configured"}}
	}
	endpoint, known := knownProviders[l.provider]
	if !known {
		return runtime.NondetResponse{Struct: map[string]any{"error": fmt.Sprintf("unknown language-model provider %q", l.provider)}}
	}
	if l.apiKey == "" {
		return runtime.NondetResponse{Struct: map[string]any{"error": fmt.Sprintf("no API key for provider %q", l.provider)}}
	}

	text, err := l.call(endpoint, req.Prompt)
	if err != nil {
		if l.logger != nil {
			l.logger.WithError(err).WithField("provider", l.provider).Debug("liveio: language-model call failed")
		}
		return runtime.NondetResponse{Struct: map[string]any{"error": err.Error()}}
	}
	return finishExec(req, text)
}

// finishExec applies the structured-output config knob: if the caller
// requested "format": "json", the text is parsed and returned as Struct
// instead of Text (spec §4.6 "a parsed structured object if the config
// requests a structured format").
func finishExec(req runtime.NondetRequest, text string) runtime.NondetResponse {
	if fmtName, _ := req.PromptCfg["format"].(string); fmtName == "json" {
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			return runtime.NondetResponse{Text: text, Struct: parsed}
		}
	}
	return runtime.NondetResponse{Text: text}
}

func (l *LLMHandler) call(endpoint, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":    l.model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("liveio: encode request: %w", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("liveio: request provider %q: %w", l.provider, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("liveio: decode provider response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("liveio: provider %q returned no choices", l.provider)
	}
	return decoded.Choices[0].Message.Content, nil
}
