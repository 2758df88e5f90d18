package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// GeminiGenerator は画像生成・プロンプト起草・出品文起草を担当する統合ジェネレーターです。
type GeminiGenerator struct {
	model Model
}

// NewGeminiGenerator は GeminiGenerator を初期化します。
func NewGeminiGenerator(model Model) (*GeminiGenerator, error) {
	if model == nil {
		return nil, fmt.Errorf("model (generator.Model) is required")
	}
	return &GeminiGenerator{model: model}, nil
}

// GenerateImage はテキストパーツと参照画像パーツを1回のリクエストで送信し、生成画像を返します。
func (g *GeminiGenerator) GenerateImage(ctx context.Context, req domain.ImageGenerationRequest) (*domain.ImageResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	parts := []*genai.Part{genai.NewPartFromText(imagePrompt(req))}
	parts = append(parts, referenceParts(req.References)...)

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = DefaultAspectRatio
	}
	cfg := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: aspect},
	}
	// 出力解像度を指定できるのは premium のみ
	if req.Model == domain.ModelPremium && req.Resolution != "" {
		cfg.ImageConfig.ImageSize = req.Resolution.ImageSize()
	}

	modelName := req.Model.ModelName()
	slog.DebugContext(ctx, "Gemini画像生成リクエスト", "model", modelName, "ref_count", len(parts)-1, "aspect_ratio", aspect)

	resp, err := g.model.GenerateContent(ctx, modelName, userContents(parts), cfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini画像生成エラー: %w", err)
	}

	out, err := parseToResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("Gemini画像生成エラー: %w", err)
	}
	return out, nil
}

// DraftPrompts は参照画像とスタイル指示からシーンプロンプトを起草します。
// 返す行は空でなく、十分な長さがあり、件数は Count 以下です。
func (g *GeminiGenerator) DraftPrompts(ctx context.Context, req domain.PromptDraftRequest) ([]string, error) {
	if req.Count < 1 || req.Count > MaxPromptCount {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, req.Count)
	}
	// プリセットが選ばれていれば自由記述のスタイル指示より優先する
	presets, err := styleDirective(req.Styles)
	if err != nil {
		return nil, err
	}
	if presets != "" {
		req.StyleDirectives = presets
	}

	parts := referenceParts(req.References)
	parts = append(parts, genai.NewPartFromText(draftPrompt(req)))

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr[float32](promptTemperature),
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](promptThinkingBudget)},
	}

	resp, err := g.model.GenerateContent(ctx, TextModel, userContents(parts), cfg)
	if err != nil {
		return nil, fmt.Errorf("プロンプト起草エラー: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("プロンプト起草エラー: %w", err)
	}

	prompts := splitPrompts(text, req.Count)
	slog.InfoContext(ctx, "プロンプトを起草しました", "requested", req.Count, "drafted", len(prompts))
	return prompts, nil
}

func splitPrompts(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(stripAsterisks(text), "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= minPromptRunes {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}

// DraftListing は商品画像とユーザーの補足から出品情報を JSON で起草します。
func (g *GeminiGenerator) DraftListing(ctx context.Context, req domain.ListingDraftRequest) (*domain.Listing, error) {
	imgPart := toPart(req.Image.Data, req.Image.MimeType)
	if imgPart == nil {
		return nil, fmt.Errorf("出品文の起草には画像が必要です")
	}

	parts := []*genai.Part{imgPart, genai.NewPartFromText(listingPrompt(req))}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Tools:            []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		ThinkingConfig:   &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](listingThinkingBudget)},
	}

	resp, err := g.model.GenerateContent(ctx, ListingModel, userContents(parts), cfg)
	if err != nil {
		return nil, fmt.Errorf("出品文生成エラー: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("出品文生成エラー: %w", err)
	}

	listing, err := parseListing(text)
	if err != nil {
		return nil, fmt.Errorf("出品文生成エラー: %w", err)
	}
	return listing, nil
}

func parseListing(text string) (*domain.Listing, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if text = strings.TrimSpace(text); text == "" {
		text = "{}"
	}

	var l domain.Listing
	if err := json.Unmarshal([]byte(text), &l); err != nil {
		return nil, fmt.Errorf("JSONの解析に失敗しました: %w", err)
	}

	l.Title = truncateRunes(strings.TrimSpace(stripAsterisks(l.Title)), MaxTitleRunes)
	l.Description = strings.TrimSpace(stripAsterisks(l.Description))
	l.Category = strings.TrimSpace(l.Category)
	return &l, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

// Ping はテキストモデルに最小のリクエストを送り、API キーが有効か確認します。
func (g *GeminiGenerator) Ping(ctx context.Context) error {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: 1}
	_, err := g.model.GenerateContent(ctx, TextModel, genai.Text("ping"), cfg)
	if err != nil {
		return fmt.Errorf("API キーの検証に失敗しました: %w", err)
	}
	return nil
}
