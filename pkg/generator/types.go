package generator

import "errors"

const (
	// TextModel はプロンプト起草と疎通確認に使うモデルです。
	TextModel = "gemini-3-pro-preview"
	// ListingModel は出品文の起草に使うモデルです。
	ListingModel = "gemini-3-flash-preview"

	DefaultAspectRatio = "1:1"

	MaxPromptCount = 12
	// minPromptRunes 以下の長さの行はプロンプトとして扱いません。
	minPromptRunes = 10
	// MaxTitleRunes は出品タイトルの最大文字数です。
	MaxTitleRunes = 140

	promptThinkingBudget  = 4000
	listingThinkingBudget = 8000
	promptTemperature     = 0.8
)

var (
	// ErrMissingCredential は API キーが設定されていないことを示します。
	ErrMissingCredential = errors.New("API key missing")
	// ErrEmptyPrompt は空のプロンプトで生成しようとしたことを示します。
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrInvalidCount は起草件数が 1..12 の範囲外であることを示します。
	ErrInvalidCount = errors.New("prompt count must be between 1 and 12")
	// ErrNoImageData は応答に画像データが含まれていないことを示します。
	ErrNoImageData = errors.New("画像データが見つかりませんでした")
)
