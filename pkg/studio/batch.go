package studio

import (
	"context"
	"sync"
	"time"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/pricing"
)

// Batch は Submit で開始した1回分のバッチです。
type Batch struct {
	proj        *batch.Projection
	units       []domain.TaskUnit
	lines       []domain.PromptLine
	quote       pricing.Summary
	submittedAt time.Time
	cancel      context.CancelCauseFunc

	finished chan struct{}
	mu       sync.Mutex
	err      error
}

func (b *Batch) ID() string                    { return b.proj.ID() }
func (b *Batch) Projection() *batch.Projection { return b.proj }
func (b *Batch) Units() []domain.TaskUnit      { return b.units }
func (b *Batch) Quote() pricing.Summary        { return b.quote }
func (b *Batch) SubmittedAt() time.Time        { return b.submittedAt }

// Finished はスケジューラが戻った時点で閉じられます。
func (b *Batch) Finished() <-chan struct{} { return b.finished }

// Wait はバッチの終了を待ち、キャンセルされていればその理由を返します。
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.finished:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err はバッチがキャンセルされた場合のエラーです。
func (b *Batch) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Batch) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// View は API 応答用のバッチの状態です。
type View struct {
	ID              string              `json:"id"`
	SubmittedAt     time.Time           `json:"submitted_at"`
	Done            bool                `json:"done"`
	Counts          batch.Counts        `json:"counts"`
	EstimatedMicros pricing.Price       `json:"estimated_micros"`
	Estimated       string              `json:"estimated"`
	Results         []domain.TaskResult `json:"results"`
	Error           string              `json:"error,omitempty"`
}

// View は現在の状態のスナップショットを返します。
func (b *Batch) View() View {
	v := View{
		ID:              b.ID(),
		SubmittedAt:     b.submittedAt,
		Counts:          b.proj.Counts(),
		EstimatedMicros: b.quote.Total,
		Estimated:       pricing.Format(b.quote.Total, true),
		Results:         b.proj.Snapshot(),
	}
	select {
	case <-b.finished:
		v.Done = true
		if err := b.Err(); err != nil {
			v.Error = err.Error()
		}
	default:
	}
	return v
}
