package ai

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// geminiClient implements Client using the Google GenAI SDK.
type geminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini-backed narrative provider.
func NewGemini(ctx context.Context, apiKey, model string) (Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai: create gemini client")
	}
	return &geminiClient{client: client, model: model}, nil
}

func (c *geminiClient) Name() string { return "gemini" }

func (c *geminiClient) Generate(ctx context.Context, p Prompt) (*Result, error) {
	cfg := &genai.GenerateContentConfig{}
	if p.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(p.Temperature))
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(p.Text), cfg)
	if err != nil {
		return nil, eris.Wrap(err, "ai: gemini generate")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, eris.New("ai: gemini returned no text")
	}

	res := &Result{
		Text:     text,
		Provider: c.Name(),
		Model:    c.model,
	}
	if resp.UsageMetadata != nil {
		res.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return res, nil
}
