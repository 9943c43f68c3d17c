package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dgchat/internal/conversation"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGenerationModel = "gemini-2.0-flash"

var ErrEmptyResponse = errors.New("model returned no text")

type GeneratorConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
	MaxRetries  int
	// RetryDelay is the first backoff step; it doubles per attempt.
	RetryDelay time.Duration
}

type Generator struct {
	client *genai.Client
	cfg    GeneratorConfig
}

func NewGenerator(ctx context.Context, cfg GeneratorConfig, opts ...option.ClientOption) (*Generator, error) {
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(cfg.APIKey))...)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGenerationModel
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Generator{client: client, cfg: cfg}, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

// Generate sends prompt as the next user message after history and returns
// the model's text. Failed calls are retried up to MaxRetries times.
func (g *Generator) Generate(ctx context.Context, system string, history []conversation.Message, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.cfg.Model)
	if g.cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(g.cfg.MaxTokens)
	}
	model.SetTemperature(g.cfg.Temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	var lastErr error
	delay := g.cfg.RetryDelay
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying generation", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		cs := model.StartChat()
		cs.History = toContents(history)
		resp, err := cs.SendMessage(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			continue
		}
		text := responseText(resp)
		if text == "" {
			lastErr = ErrEmptyResponse
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("generate after %d attempts: %w", g.cfg.MaxRetries+1, lastErr)
}

func toContents(history []conversation.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == conversation.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}
