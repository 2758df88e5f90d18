package domain

import (
	"fmt"
	"strings"
)

// ModelVariant は画像生成モデルの種別です。
type ModelVariant string

const (
	ModelFast    ModelVariant = "fast"
	ModelPremium ModelVariant = "premium"
)

const (
	GeminiImageModelFlash = "gemini-2.5-flash-image"
	GeminiImageModelPro   = "gemini-3-pro-image-preview"
)

// ModelName は Gemini API に渡すモデル名を返します。
func (m ModelVariant) ModelName() string {
	if m == ModelPremium {
		return GeminiImageModelPro
	}
	return GeminiImageModelFlash
}

// ParseModelVariant はバリアント名または Gemini のモデル名からバリアントを決定します。
// 空文字は fast として扱います。
func ParseModelVariant(s string) (ModelVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModelFast), GeminiImageModelFlash:
		return ModelFast, nil
	case string(ModelPremium), GeminiImageModelPro:
		return ModelPremium, nil
	}
	return "", fmt.Errorf("unknown model variant: %q", s)
}

// Resolution は出力解像度のティアです。
type Resolution string

const (
	Resolution1K Resolution = "1k"
	Resolution2K Resolution = "2k"
	Resolution4K Resolution = "4k"
)

// Resolutions は宣言済みの全ティアです。
var Resolutions = []Resolution{Resolution1K, Resolution2K, Resolution4K}

// ImageSize は ImageConfig.ImageSize 用の表記 (1K/2K/4K) を返します。
func (r Resolution) ImageSize() string {
	return strings.ToUpper(string(r))
}

// ParseResolution は空文字を 1k として扱います。
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case "", Resolution1K:
		return Resolution1K, nil
	case Resolution2K:
		return Resolution2K, nil
	case Resolution4K:
		return Resolution4K, nil
	}
	return "", fmt.Errorf("unknown resolution: %q", s)
}

// UnmarshalText は JSON などから ParseModelVariant と同じ規則で読み込みます。
func (m *ModelVariant) UnmarshalText(b []byte) error {
	v, err := ParseModelVariant(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalText は JSON などから ParseResolution と同じ規則で読み込みます。
func (r *Resolution) UnmarshalText(b []byte) error {
	v, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
