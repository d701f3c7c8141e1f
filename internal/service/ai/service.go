package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"securerag/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// FragmentReader yields generated text pieces; Recv returns io.EOF once the
// response is complete.
type FragmentReader interface {
	Recv() (string, error)
	Close()
}

// Generator is the answer generation collaborator.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
	Stream(ctx context.Context, systemPrompt, userText string) (FragmentReader, error)
}

// Service generates answers through an eino chat model.
type Service struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
}

// NewService builds the chat model for the configured provider.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provider := cfg.Model.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("api key for provider %s is empty", provider)
	}
	modelName := cfg.Model.Name
	if modelName == "" {
		modelName = provCfg.Model
	}
	temperature := cfg.Model.Temperature
	maxTokens := cfg.Model.MaxTokens

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       modelName,
			APIKey:      provCfg.APIKey,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &Service{chatModel: chatModel, provider: provider, modelName: modelName}, nil
}

// NewServiceWithModel wraps an already constructed chat model.
func NewServiceWithModel(chatModel model.BaseChatModel, provider, modelName string) *Service {
	return &Service{chatModel: chatModel, provider: provider, modelName: modelName}
}

func (s *Service) Provider() string { return s.provider }

func (s *Service) Model() string { return s.modelName }

// Complete runs one blocking generation.
func (s *Service) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := s.chatModel.Generate(ctx, buildMessages(systemPrompt, userText))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate answer: empty response")
	}
	return resp.Content, nil
}

// Stream starts a streamed generation.
func (s *Service) Stream(ctx context.Context, systemPrompt, userText string) (FragmentReader, error) {
	sr, err := s.chatModel.Stream(ctx, buildMessages(systemPrompt, userText))
	if err != nil {
		return nil, fmt.Errorf("generate Ai stream failed: %w", err)
	}
	return &streamReader{sr: sr}, nil
}

func buildMessages(systemPrompt, userText string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userText},
	}
}

type streamReader struct {
	sr *schema.StreamReader[*schema.Message]
}

// Recv skips chunks without content, such as role-only deltas.
func (r *streamReader) Recv() (string, error) {
	for {
		chunk, err := r.sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive stream chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

func (r *streamReader) Close() {
	r.sr.Close()
}
