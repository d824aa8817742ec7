package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModel is the production TextModel. The client is created on first use.
type GeminiModel struct {
	apiKey    string
	modelName string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiModel(apiKey, modelName string) *GeminiModel {
	return &GeminiModel{apiKey: apiKey, modelName: modelName}
}

func (m *GeminiModel) Name() string {
	return m.modelName
}

func (m *GeminiModel) IsAvailable() bool {
	return m.apiKey != ""
}

func (m *GeminiModel) getClient(ctx context.Context) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	m.client = client
	return client, nil
}

func (m *GeminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	if !m.IsAvailable() {
		return "", ErrAINotConfigured
	}

	client, err := m.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(m.modelName)
	model.SetTemperature(0.7)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini request failed: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", fmt.Errorf("empty response from Gemini")
}

func (m *GeminiModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
