package batch

import (
	"strings"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Expand は生成計画の各行を Count 件の TaskUnit に展開します。
// Index は展開後の通し番号で、すべての TaskUnit が同じ参照画像スライスを共有します。
func Expand(lines []domain.PromptLine, refs []domain.ReferenceImage) []domain.TaskUnit {
	var units []domain.TaskUnit
	for _, line := range lines {
		model := line.Model
		if model == "" {
			model = domain.ModelFast
		}
		res := line.Resolution
		if res == "" {
			res = domain.Resolution1K
		}

		for range max(line.Count, 1) {
			units = append(units, domain.TaskUnit{
				Index:       len(units),
				Prompt:      strings.TrimSpace(line.Prompt),
				Model:       model,
				Resolution:  res,
				AspectRatio: line.AspectRatio,
				References:  refs,
			})
		}
	}
	return units
}
