// Package gemini adapts the Google GenAI SDK to the file and generation
// contracts used by the bot.
package gemini

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/stellarlinkco/geminibot/internal/compose"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/generate"
	"github.com/stellarlinkco/geminibot/internal/media"
)

// Client implements media.FileService and generate.Client.
type Client struct {
	client *genai.Client
	log    zerolog.Logger
}

var (
	_ media.FileService = (*Client)(nil)
	_ generate.Client   = (*Client)(nil)
)

func New(ctx context.Context, cfg config.GeminiConfig, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		client: client,
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

func (c *Client) Upload(ctx context.Context, path, mimeType string) (media.RemoteFile, error) {
	f, err := c.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return toRemote(f), err
	}
	c.log.Debug().Str("name", f.Name).Str("path", path).Msg("File uploaded")
	return toRemote(f), nil
}

func (c *Client) Get(ctx context.Context, name string) (media.RemoteFile, error) {
	f, err := c.client.Files.Get(ctx, name, nil)
	if err != nil {
		return media.RemoteFile{Name: name}, err
	}
	return toRemote(f), nil
}

func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.client.Files.Delete(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	c.log.Debug().Str("name", name).Msg("File deleted")
	return nil
}

// GenerateContent sends one user turn and returns the concatenated answer
// text. Thought parts are dropped.
func (c *Client) GenerateContent(ctx context.Context, call generate.Call) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, call.Model, buildContents(call.Parts), buildConfig(call.Settings))
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func toRemote(f *genai.File) media.RemoteFile {
	if f == nil {
		return media.RemoteFile{}
	}
	return media.RemoteFile{
		Name:  f.Name,
		URI:   f.URI,
		State: media.RemoteState(f.State),
	}
}

func buildContents(parts []compose.Part) []*genai.Content {
	content := &genai.Content{Role: "user"}
	for _, p := range parts {
		switch p.Kind {
		case compose.PartMedia:
			content.Parts = append(content.Parts, &genai.Part{
				FileData: &genai.FileData{FileURI: p.URI, MIMEType: p.MIMEType},
			})
		default:
			content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
		}
	}
	return []*genai.Content{content}
}

func buildConfig(s generate.Settings) *genai.GenerateContentConfig {
	temperature, topP, topK := s.Temperature, s.TopP, s.TopK
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		TopP:             &topP,
		TopK:             &topK,
		MaxOutputTokens:  s.MaxOutputTokens,
		ResponseMIMEType: s.ResponseMIMEType,
	}
	if s.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: s.SystemInstruction}},
		}
	}
	if s.WebSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			b.WriteString(part.Text)
		}
		// The first candidate with content is the answer.
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
