package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptDraftRequest はシーン用プロンプトの下書き要求です。
type PromptDraftRequest struct {
	ProductContext   *string
	StyleDirectives  string
	// Styles は選択されたスタイルプリセットの ID です。StyleDirectives より優先されます。
	Styles           []string
	BrandContext     string
	References       []ReferenceImage
	Instruction      string
	PreserveIdentity bool
	Count            int
}

// ListingDraftRequest はマーケットプレイス向け出品文の下書き要求です。
type ListingDraftRequest struct {
	Image        ReferenceImage
	ExtraContext string
}

// Listing は AI が起草した出品情報です。
type Listing struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        Tags   `json:"tags"`
	Category    string `json:"category"`
}

// Tags は JSON の文字列（カンマ区切り）と配列の両方から復元できるタグ一覧です。
type Tags []string

// UnmarshalJSON は "a, b" 形式と ["a","b"] 形式を受け付けます。
func (t *Tags) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("tags must be a string or an array of strings: %w", err)
	}
	*t = cleanTags(strings.Split(s, ","))
	return nil
}

func cleanTags(in []string) Tags {
	out := make(Tags, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
