package gemini

import (
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/generate"
)

// DefaultSystemPrompt is used when the config leaves the persona empty.
const DefaultSystemPrompt = "You are Gemini, a helpful assistant in a Telegram group chat. " +
	"The user message may begin with the chat history as \"author: text\" lines, " +
	"followed by the current request. Answer the current request, using the history " +
	"only as context. Reply in the language of the request."

// Settings derives decoding parameters from config.
func Settings(cfg config.GeminiConfig) generate.Settings {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return generate.Settings{
		SystemInstruction: prompt,
		Temperature:       float32(cfg.Temperature),
		TopP:              float32(cfg.TopP),
		TopK:              float32(cfg.TopK),
		MaxOutputTokens:   int32(cfg.MaxOutputTokens),
		ResponseMIMEType:  "text/plain",
		WebSearch:         cfg.WebSearch,
	}
}

// Models derives the variant to model mapping from config.
func Models(cfg config.GeminiConfig) generate.Models {
	return generate.Models{
		Standard:   cfg.Model,
		Reasoning:  cfg.ReasoningModel,
		Multimodal: cfg.MultimodalModel,
	}
}
