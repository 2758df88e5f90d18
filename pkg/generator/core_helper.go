package generator

import (
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

func userContents(parts []*genai.Part) []*genai.Content {
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// referenceParts は参照画像を InlineData のパーツに変換します。
// 画像として判定できないデータは送信しません。
func referenceParts(refs []domain.ReferenceImage) []*genai.Part {
	parts := make([]*genai.Part, 0, len(refs))
	for _, ref := range refs {
		if part := toPart(ref.Data, ref.MimeType); part != nil {
			parts = append(parts, part)
		}
	}
	return parts
}

func toPart(data []byte, mimeType string) *genai.Part {
	if len(data) == 0 {
		return nil
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil
	}
	return genai.NewPartFromBytes(data, mimeType)
}

// parseToResponse は最初の候補から画像パーツを取り出します。
func parseToResponse(resp *genai.GenerateContentResponse) (*domain.ImageResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("Geminiからの有効な応答がありませんでした")
	}

	// 最初の候補 (Candidate) のみを利用する
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &domain.ImageResponse{
					Data:     part.InlineData.Data,
					MimeType: part.InlineData.MIMEType,
				}, nil
			}
		}
	}

	// 安全フィルター等によるブロックの確認
	if blocked(candidate.FinishReason) {
		return nil, fmt.Errorf("画像生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return nil, ErrNoImageData
}

func blocked(r genai.FinishReason) bool {
	return r != "" && r != genai.FinishReasonUnspecified && r != genai.FinishReasonStop
}

// responseText は最初の候補のテキストパーツ（思考パーツを除く）を連結します。
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("Geminiからの有効な応答がありませんでした")
	}
	candidate := resp.Candidates[0]

	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Thought || part.Text == "" {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 && blocked(candidate.FinishReason) {
		return "", fmt.Errorf("テキスト生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return sb.String(), nil
}

func stripAsterisks(s string) string {
	return strings.ReplaceAll(s, "*", "")
}
