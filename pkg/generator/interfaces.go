package generator

import (
	"context"

	"google.golang.org/genai"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Model は Gemini の generateContent 呼び出しを抽象化するインターフェースです。
// genai.Client.Models がそのまま満たします。
type Model interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelFactory は API キーから Model を生成します。
type ModelFactory func(ctx context.Context, apiKey string) (Model, error)

// Generator はビジネスロジック層が利用する統合窓口です。
// 実装は状態を持たず、並行に呼び出せます。リトライは行いません。
type Generator interface {
	// GenerateImage はプロンプトと参照画像から1枚の画像を生成します。
	GenerateImage(ctx context.Context, req domain.ImageGenerationRequest) (*domain.ImageResponse, error)
	// DraftPrompts は商品写真用のシーンプロンプトを最大 Count 件起草します。
	DraftPrompts(ctx context.Context, req domain.PromptDraftRequest) ([]string, error)
	// DraftListing は商品画像から出品タイトル・説明・タグを起草します。
	DraftListing(ctx context.Context, req domain.ListingDraftRequest) (*domain.Listing, error)
	// Ping は最小のリクエストで認証情報を検証します。
	Ping(ctx context.Context) error
}

var (
	_ Model     = (*genai.Models)(nil)
	_ Generator = (*GeminiGenerator)(nil)
)
