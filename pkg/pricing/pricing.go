// Package pricing は画像生成バッチの概算コストを計算します。
package pricing

import (
	"fmt"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Price はマイクロドル単位の価格です。整数で持つことで k 枚分のコストが
// 1 枚分の k 倍と厳密に一致します。
type Price int64

// MicrosPerDollar は 1 ドルあたりの Price 単位数です。
const MicrosPerDollar = 1_000_000

var table = map[domain.ModelVariant]map[domain.Resolution]Price{
	domain.ModelFast: {
		domain.Resolution1K: 39_000,
		domain.Resolution2K: 79_000,
	},
	domain.ModelPremium: {
		domain.Resolution1K: 70_000,
		domain.Resolution2K: 134_000,
		domain.Resolution4K: 240_000,
	},
}

// UnitPrice は 1 枚あたりの価格を返します。
// 未定義の組み合わせ（fast の 4k など）では ok が false になります。
func UnitPrice(m domain.ModelVariant, r domain.Resolution) (Price, bool) {
	p, ok := table[m][r]
	return p, ok
}

// Available はその組み合わせで生成可能かどうかを返します。
func Available(m domain.ModelVariant, r domain.Resolution) bool {
	_, ok := UnitPrice(m, r)
	return ok
}

// Cost は count 枚分の価格です。count が負の場合は未定義として扱います。
func Cost(m domain.ModelVariant, r domain.Resolution, count int) (Price, bool) {
	if count < 0 {
		return 0, false
	}
	p, ok := UnitPrice(m, r)
	if !ok {
		return 0, false
	}
	return p * Price(count), true
}

// Summary はバッチ全体の見積もりです。
type Summary struct {
	Total  Price `json:"total_micros"`
	Images int   `json:"images"`
	// Unavailable は価格が定義されていない行のインデックスです。Total には含まれません。
	Unavailable []int `json:"unavailable,omitempty"`
}

// Quote は展開前の計画全体を見積もります。Count が 0 以下の行は 1 枚として数えます。
func Quote(lines []domain.PromptLine) Summary {
	var s Summary
	for i, line := range lines {
		count := max(line.Count, 1)
		s.Images += count

		c, ok := Cost(defaultModel(line.Model), defaultResolution(line.Resolution), count)
		if !ok {
			s.Unavailable = append(s.Unavailable, i)
			continue
		}
		s.Total += c
	}
	return s
}

// Format は表示用の文字列を返します。未定義の価格は "N/A" です。
func Format(p Price, ok bool) string {
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("$%.3f", p.Dollars())
}

// Dollars はドル換算の値を返します。
func (p Price) Dollars() float64 {
	return float64(p) / MicrosPerDollar
}

func defaultModel(m domain.ModelVariant) domain.ModelVariant {
	if m == "" {
		return domain.ModelFast
	}
	return m
}

func defaultResolution(r domain.Resolution) domain.Resolution {
	if r == "" {
		return domain.Resolution1K
	}
	return r
}
