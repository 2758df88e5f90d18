package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Projection は1バッチ分の結果スロット群です。バッチごとに新しく作り、使い回しません。
// スロットの位置は TaskUnit.Index と常に一致し、各スロットは pending から一度だけ遷移します。
type Projection struct {
	id string

	mu      sync.RWMutex
	results []domain.TaskResult
	pending int
	done    chan struct{}
}

// Counts は状態ごとのスロット数です。
type Counts struct {
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewProjection は units と同じ長さの、すべて pending のスロット群を作ります。
func NewProjection(units []domain.TaskUnit) *Projection {
	p := &Projection{
		id:      uuid.NewString(),
		results: make([]domain.TaskResult, len(units)),
		pending: len(units),
		done:    make(chan struct{}),
	}
	for i, u := range units {
		p.results[i] = domain.TaskResult{Index: i, Prompt: u.Prompt, Status: domain.StatusPending}
	}
	if p.pending == 0 {
		close(p.done)
	}
	return p
}

// ID はバッチ ID です。
func (p *Projection) ID() string { return p.id }

// Len はスロット数です。
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.results)
}

// Get は index のスロットを返します。
func (p *Projection) Get(index int) (domain.TaskResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.results) {
		return domain.TaskResult{}, false
	}
	return p.results[index], true
}

// Snapshot は現在のスロットのコピーを返します。
func (p *Projection) Snapshot() []domain.TaskResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.TaskResult, len(p.results))
	copy(out, p.results)
	return out
}

// Counts は状態ごとの件数を返します。
func (p *Projection) Counts() Counts {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var c Counts
	for _, r := range p.results {
		switch r.Status {
		case domain.StatusSucceeded:
			c.Succeeded++
		case domain.StatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// Done はすべてのスロットが終端状態になると閉じられます。
func (p *Projection) Done() <-chan struct{} { return p.done }

// Wait はすべてのスロットが終端状態になるか ctx が終わるまで待ちます。
func (p *Projection) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle はスロットを一度だけ終端状態にします。
func (p *Projection) settle(index int, payload *domain.ImageResponse, cause error) (domain.TaskResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.results) {
		return domain.TaskResult{}, fmt.Errorf("%w: index %d out of range", ErrInvalidBatch, index)
	}
	r := &p.results[index]
	if r.Status.IsTerminal() {
		return *r, fmt.Errorf("%w: index %d is %s", ErrAlreadySettled, index, r.Status)
	}

	if cause != nil {
		r.Status = domain.StatusFailed
		r.Error = cause.Error()
	} else {
		r.Status = domain.StatusSucceeded
		r.Payload = payload
	}

	p.pending--
	if p.pending == 0 {
		close(p.done)
	}
	return *r, nil
}
