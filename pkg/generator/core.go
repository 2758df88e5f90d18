package generator

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// NewModel は API キーを使って Gemini API 用の Model を初期化します。
// キーが空の場合はネットワークに触れずに ErrMissingCredential を返します。
func NewModel(ctx context.Context, apiKey string) (Model, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの初期化に失敗しました: %w", err)
	}
	return client.Models, nil
}
