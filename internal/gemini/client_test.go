package gemini

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/stellarlinkco/geminibot/internal/compose"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/generate"
	"github.com/stellarlinkco/geminibot/internal/media"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), config.GeminiConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildContents_OrderAndKinds(t *testing.T) {
	contents := buildContents([]compose.Part{
		compose.MediaPart("https://remote/files/1", "image/jpeg"),
		compose.TextPart("what is this"),
	})

	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	require.NotNil(t, contents[0].Parts[0].FileData)
	assert.Equal(t, "https://remote/files/1", contents[0].Parts[0].FileData.FileURI)
	assert.Equal(t, "image/jpeg", contents[0].Parts[0].FileData.MIMEType)
	assert.Equal(t, "what is this", contents[0].Parts[1].Text)
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(generate.Settings{
		SystemInstruction: "be brief",
		Temperature:       1,
		TopP:              0.95,
		TopK:              60,
		MaxOutputTokens:   8192,
		ResponseMIMEType:  "text/plain",
		WebSearch:         true,
	})

	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(1), *cfg.Temperature)
	assert.Equal(t, float32(0.95), *cfg.TopP)
	assert.Equal(t, float32(60), *cfg.TopK)
	assert.Equal(t, int32(8192), cfg.MaxOutputTokens)
	assert.Equal(t, "text/plain", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.NotNil(t, cfg.Tools[0].GoogleSearch)
}

func TestBuildConfig_NoSearchNoPrompt(t *testing.T) {
	cfg := buildConfig(generate.Settings{})
	assert.Nil(t, cfg.SystemInstruction)
	assert.Empty(t, cfg.Tools)
}

func TestToRemote(t *testing.T) {
	assert.Equal(t, media.RemoteFile{}, toRemote(nil))

	got := toRemote(&genai.File{Name: "files/abc", URI: "https://x/files/abc", State: genai.FileStateActive})
	assert.Equal(t, "files/abc", got.Name)
	assert.Equal(t, media.RemoteActive, got.State)
}

func TestResponseText_SkipsThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "pondering", Thought: true},
				{Text: "Hello, "},
				{Text: "world"},
			}},
		}},
	}
	assert.Equal(t, "Hello, world", responseText(resp))
	assert.Empty(t, responseText(nil))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{}))
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Gemini
	s := Settings(cfg)
	assert.Equal(t, DefaultSystemPrompt, s.SystemInstruction)
	assert.Equal(t, float32(0.95), s.TopP)
	assert.Equal(t, int32(8192), s.MaxOutputTokens)
	assert.True(t, s.WebSearch)

	cfg.SystemPrompt = "custom"
	assert.Equal(t, "custom", Settings(cfg).SystemInstruction)

	m := Models(cfg)
	assert.Equal(t, config.DefaultReasoningModel, m.For(compose.Reasoning))
}
