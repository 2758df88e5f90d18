package domain

// PromptLine は展開前の生成計画の1行です。Count 回分の TaskUnit に展開されます。
type PromptLine struct {
	Prompt      string       `json:"prompt"`
	Model       ModelVariant `json:"model"`
	Resolution  Resolution   `json:"resolution"`
	AspectRatio string       `json:"aspect_ratio,omitempty"`
	Count       int          `json:"count"`
}

// TaskUnit はバッチ内の1回分の生成作業です。生成後は変更しません。
// References は共有参照であり、TaskUnit が所有するものではありません。
type TaskUnit struct {
	Index       int
	Prompt      string
	Model       ModelVariant
	Resolution  Resolution
	AspectRatio string
	References  []ReferenceImage
}

// TaskStatus は TaskUnit の進行状態です。
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal は succeeded または failed のとき true を返します。
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TaskResult は TaskUnit と同じ Index に置かれる結果スロットです。
type TaskResult struct {
	Index   int            `json:"index"`
	Prompt  string         `json:"prompt"`
	Status  TaskStatus     `json:"status"`
	Payload *ImageResponse `json:"-"`
	Error   string         `json:"error,omitempty"`
}
