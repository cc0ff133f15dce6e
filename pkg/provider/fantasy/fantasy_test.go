package fantasy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	core "charm.land/fantasy"

	"onebridge/pkg/config"
	providertypes "onebridge/pkg/provider/types"
)

type fakeModelSource struct {
	model     core.LanguageModel
	err       error
	lastID    string
	callCount int
}

func (f *fakeModelSource) LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error) {
	f.callCount++
	f.lastID = modelID
	if f.err != nil {
		return nil, f.err
	}

	return f.model, nil
}

type fakeLanguageModel struct{}

func (f *fakeLanguageModel) Generate(context.Context, core.Call) (*core.Response, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Stream(context.Context, core.Call) (core.StreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) GenerateObject(context.Context, core.ObjectCall) (*core.ObjectResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) StreamObject(context.Context, core.ObjectCall) (core.ObjectStreamResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLanguageModel) Provider() string { return "openai" }
func (f *fakeLanguageModel) Model() string    { return "gpt-5.2" }

func textResult(text string) *core.AgentResult {
	return &core.AgentResult{
		Response: core.Response{
			Content: core.ResponseContent{core.TextContent{Text: text}},
		},
	}
}

func newTestClient(generate generateFunc) (*Client, *fakeModelSource) {
	source := &fakeModelSource{model: &fakeLanguageModel{}}
	return &Client{
		models:   source,
		model:    "gpt-5.2",
		generate: generate,
		history:  newTranscripts(),
	}, source
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := &config.Config{}
	cfg.Backend.Model = "openai/gpt-5.2"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestNewRequiresModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	if _, err := New(&config.Config{}); err == nil {
		t.Fatal("expected missing model error")
	}
}

func TestNewAppliesBackendSettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Backend.Model = "openai/gpt-5.2"
	cfg.Backend.MaxTokens = 128
	cfg.Backend.Temperature = 0.2

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if client.model != "gpt-5.2" {
		t.Fatalf("model = %q, want gpt-5.2", client.model)
	}
	if client.sampling.MaxTokens == nil || *client.sampling.MaxTokens != 128 {
		t.Fatal("expected max output tokens")
	}
	if client.sampling.Temperature == nil || *client.sampling.Temperature != 0.2 {
		t.Fatal("expected temperature")
	}
}

func TestCreateSessionAndHealth(t *testing.T) {
	client, source := newTestClient(nil)

	sessionID, err := client.CreateSession(context.Background(), "title")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected non-empty session id")
	}
	if client.SessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", client.SessionCount())
	}

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if source.callCount != 1 || source.lastID != "gpt-5.2" {
		t.Fatalf("health calls = %d model = %q", source.callCount, source.lastID)
	}
}

func TestHealthSurfacesProviderError(t *testing.T) {
	client, source := newTestClient(nil)
	source.err = errors.New("unreachable")

	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}

func TestPromptValidatesSessionAndInput(t *testing.T) {
	client, _ := newTestClient(nil)

	if _, err := client.Prompt(context.Background(), providertypes.PromptRequest{Prompt: "hello"}); err == nil {
		t.Fatal("expected error for empty session")
	}
	if _, err := client.Prompt(context.Background(), providertypes.PromptRequest{SessionID: "missing", Prompt: "hello", Model: "gpt-5.2"}); err == nil {
		t.Fatal("expected error for missing session")
	}

	sessionID, err := client.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	if _, err := client.Prompt(context.Background(), providertypes.PromptRequest{SessionID: sessionID}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestPromptMaintainsSessionHistory(t *testing.T) {
	generationCalls := 0
	client, _ := newTestClient(func(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
		generationCalls++
		return textResult(fmt.Sprintf("reply-%d", generationCalls)), nil
	})

	sessionID, err := client.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	first, err := client.Prompt(context.Background(), providertypes.PromptRequest{SessionID: sessionID, Prompt: "hello"})
	if err != nil {
		t.Fatalf("first Prompt error: %v", err)
	}
	if first.Text != "reply-1" || first.SessionID != sessionID {
		t.Fatalf("first result = %+v", first)
	}

	second, err := client.Prompt(context.Background(), providertypes.PromptRequest{SessionID: sessionID, Prompt: "how are you"})
	if err != nil {
		t.Fatalf("second Prompt error: %v", err)
	}
	if second.Text != "reply-2" {
		t.Fatalf("second response = %q, want %q", second.Text, "reply-2")
	}

	history, ok := client.history.replay(sessionID)
	if !ok {
		t.Fatal("expected session history")
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[0].Role != core.MessageRoleUser || history[1].Role != core.MessageRoleAssistant {
		t.Fatalf("history roles = %q, %q", history[0].Role, history[1].Role)
	}
}

func TestPromptEmptyAnswerIsNotAnError(t *testing.T) {
	client, _ := newTestClient(func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error) {
		return &core.AgentResult{}, nil
	})

	sessionID, _ := client.CreateSession(context.Background(), "")
	result, err := client.Prompt(context.Background(), providertypes.PromptRequest{SessionID: sessionID, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Prompt error: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("text = %q, want empty", result.Text)
	}

	history, _ := client.history.replay(sessionID)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
}

func TestAnswerText(t *testing.T) {
	content := core.ResponseContent{
		core.ReasoningContent{Text: "ignore me"},
		core.TextContent{Text: "  first  "},
		core.TextContent{Text: ""},
		core.TextContent{Text: "second"},
	}

	got := answerText(content)
	if got != "first\nsecond" {
		t.Fatalf("answerText() = %q", got)
	}
}

func TestPromptInjectsSystemMessageOnFirstTurn(t *testing.T) {
	var firstCallMessages []core.Message
	client, _ := newTestClient(func(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
		if firstCallMessages == nil {
			firstCallMessages = call.Messages
		}
		return textResult("reply"), nil
	})

	sessionID, err := client.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	_, err = client.Prompt(context.Background(), providertypes.PromptRequest{
		SessionID:    sessionID,
		Prompt:       "hello",
		SystemPrompt: "system profile",
	})
	if err != nil {
		t.Fatalf("Prompt error: %v", err)
	}

	if len(firstCallMessages) != 1 {
		t.Fatalf("messages length = %d, want 1", len(firstCallMessages))
	}
	if firstCallMessages[0].Role != core.MessageRoleSystem {
		t.Fatalf("first message role = %q, want %q", firstCallMessages[0].Role, core.MessageRoleSystem)
	}
}

func TestTrimHistoryKeepsSystemMessage(t *testing.T) {
	history := []core.Message{textMessage(core.MessageRoleSystem, "profile")}
	for i := 0; i < maxHistory+10; i++ {
		history = append(history, textMessage(core.MessageRoleUser, fmt.Sprintf("turn-%d", i)))
	}

	trimmed := trimHistory(history)
	if len(trimmed) != maxHistory {
		t.Fatalf("len = %d, want %d", len(trimmed), maxHistory)
	}
	if trimmed[0].Role != core.MessageRoleSystem {
		t.Fatalf("first role = %q, want system", trimmed[0].Role)
	}
	last, ok := trimmed[len(trimmed)-1].Content[0].(core.TextPart)
	if !ok || last.Text != fmt.Sprintf("turn-%d", maxHistory+9) {
		t.Fatalf("last message = %+v", trimmed[len(trimmed)-1])
	}
}

func TestTrimHistoryShortHistoryUntouched(t *testing.T) {
	history := []core.Message{textMessage(core.MessageRoleUser, "hi")}
	if got := trimHistory(history); len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestTranscriptsIgnoreUnknownIDs(t *testing.T) {
	logs := newTranscripts()
	logs.extend("missing", textMessage(core.MessageRoleUser, "hi"))
	if logs.count() != 0 {
		t.Fatalf("count = %d, want 0", logs.count())
	}

	first, second := logs.open(), logs.open()
	if first == second {
		t.Fatalf("open returned duplicate id %q", first)
	}
	logs.extend(first, textMessage(core.MessageRoleUser, "hi"))
	if got, _ := logs.replay(second); len(got) != 0 {
		t.Fatalf("second log = %+v, want empty", got)
	}
}
