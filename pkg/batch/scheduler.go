// Package batch は並列数を制限した画像生成バッチの実行を担当します。
//
// 各 TaskUnit は Projection 上の自分の Index のスロットだけを一度だけ更新します。
// 1件の失敗が他の TaskUnit やバッチ全体を止めることはありません。
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

// Executor は1つの TaskUnit を外部サービスで実行します。
type Executor func(ctx context.Context, unit domain.TaskUnit) (*domain.ImageResponse, error)

// Mode はスロットの補充方式です。
type Mode string

const (
	// ModeWave は最大 limit 件をまとめて開始し、全件の完了を待ってから次の波を開始します。
	ModeWave Mode = "wave"
	// ModeSlidingWindow は空いたスロットをすぐに次の TaskUnit で埋めます。
	ModeSlidingWindow Mode = "sliding"
)

// ParseMode は空文字を ModeWave として扱います。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWave:
		return ModeWave, nil
	case ModeSlidingWindow:
		return ModeSlidingWindow, nil
	}
	return "", fmt.Errorf("unknown scheduler mode: %q", s)
}

// Scheduler は TaskUnit の列を最大 limit 件の並列で実行します。
// 状態を持たないため、複数のバッチで使い回せます。
type Scheduler struct {
	limit    int
	mode     Mode
	observer Observer
}

// Option は Scheduler の設定を変更します。
type Option func(*Scheduler)

// WithObserver は進行イベントの通知先を設定します。
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMode はスロットの補充方式を設定します。
func WithMode(m Mode) Option {
	return func(s *Scheduler) {
		if m != "" {
			s.mode = m
		}
	}
}

// NewScheduler は並列数 limit の Scheduler を生成します。
func NewScheduler(limit int, opts ...Option) (*Scheduler, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	s := &Scheduler{
		limit:    limit,
		mode:     ModeWave,
		observer: ObserverFuncs{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Limit は並列数の上限です。
func (s *Scheduler) Limit() int { return s.limit }

// Mode は補充方式です。
func (s *Scheduler) Mode() Mode { return s.mode }

// Execute は新しい Projection を作って Run します。
func (s *Scheduler) Execute(ctx context.Context, units []domain.TaskUnit, exec Executor) (*Projection, error) {
	p := NewProjection(units)
	return p, s.Run(ctx, units, p, exec)
}

// Run は units を実行し、すべてのスロットが終端状態になってから戻ります。
//
// 前提条件の違反は TaskUnit を1件も実行せずに ErrInvalidBatch を返します。
// TaskUnit 単位の失敗はスロットに記録され、戻り値には現れません。
// ctx がキャンセルされると新しい TaskUnit は開始されず、実行中のものは完了まで待ちます。
// 開始されなかった TaskUnit はキャンセル理由付きで failed になり、Run は ctx.Err() をラップしたエラーを返します。
func (s *Scheduler) Run(ctx context.Context, units []domain.TaskUnit, p *Projection, exec Executor) error {
	if err := validate(units, p, exec); err != nil {
		return err
	}

	r := &run{
		s:       s,
		proj:    p,
		exec:    exec,
		workCtx: context.WithoutCancel(ctx),
	}

	start := time.Now()
	s.observer.BatchStarted(ctx, p.ID(), len(units))
	slog.InfoContext(ctx, "バッチ生成を開始します",
		"batch_id", p.ID(), "units", len(units), "limit", s.limit, "mode", s.mode)

	var started int
	switch s.mode {
	case ModeSlidingWindow:
		started = r.slide(ctx, units)
	default:
		started = r.waves(ctx, units)
	}

	cause := ctx.Err()
	for _, u := range units[started:] {
		r.skip(ctx, u, cause)
	}

	summary := Summary{
		Counts:   p.Counts(),
		Waves:    r.waveCount,
		Duration: time.Since(start),
		Canceled: r.skipped.Load() > 0,
	}
	s.observer.BatchFinished(ctx, p.ID(), summary)
	slog.InfoContext(ctx, "バッチ生成が完了しました",
		"batch_id", p.ID(),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"waves", summary.Waves,
		"duration", summary.Duration,
		"canceled", summary.Canceled)

	if summary.Canceled {
		return fmt.Errorf("batch %s canceled: %w", p.ID(), context.Cause(ctx))
	}
	return nil
}

func validate(units []domain.TaskUnit, p *Projection, exec Executor) error {
	if exec == nil {
		return fmt.Errorf("%w: executor is required", ErrInvalidBatch)
	}
	if p == nil {
		return fmt.Errorf("%w: projection is required", ErrInvalidBatch)
	}
	if p.Len() != len(units) {
		return fmt.Errorf("%w: projection has %d slots for %d units", ErrInvalidBatch, p.Len(), len(units))
	}
	if c := p.Counts(); c.Pending != len(units) {
		return fmt.Errorf("%w: projection %s was already used", ErrInvalidBatch, p.ID())
	}
	for i, u := range units {
		if u.Index != i {
			return fmt.Errorf("%w: unit at position %d has index %d", ErrInvalidBatch, i, u.Index)
		}
		if strings.TrimSpace(u.Prompt) == "" {
			return fmt.Errorf("%w: unit %d has an empty prompt", ErrInvalidBatch, i)
		}
	}
	return nil
}

// run は1回の Run の実行状態です。
type run struct {
	s    *Scheduler
	proj *Projection
	exec Executor
	// workCtx は実行中の TaskUnit をキャンセルから切り離すためのコンテキストです。
	workCtx context.Context

	inFlight  atomic.Int32
	skipped   atomic.Int32
	waveCount int
}

// waves は cursor が末尾に届くまで波を繰り返し、開始した件数を返します。
func (r *run) waves(ctx context.Context, units []domain.TaskUnit) int {
	cursor := 0
	for cursor < len(units) {
		if ctx.Err() != nil {
			break
		}

		size := min(r.s.limit, len(units)-cursor)
		r.waveCount++
		wave := Wave{Number: r.waveCount, Start: cursor, Size: size}
		r.s.observer.WaveStarted(ctx, r.proj.ID(), wave)
		slog.DebugContext(ctx, "ウェーブを開始します", "batch_id", r.proj.ID(), "wave", wave.Number, "start", wave.Start, "size", wave.Size)

		var g errgroup.Group
		for _, u := range units[cursor : cursor+size] {
			g.Go(func() error {
				r.execute(ctx, u)
				return nil
			})
		}
		_ = g.Wait()

		cursor += size
	}
	return cursor
}

// slide は空いたスロットから順に TaskUnit を開始し、開始を試みた件数を返します。
func (r *run) slide(ctx context.Context, units []domain.TaskUnit) int {
	var g errgroup.Group
	g.SetLimit(r.s.limit)

	started := 0
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.execute(ctx, u)
			return nil
		})
		started++
	}
	_ = g.Wait()
	return started
}

func (r *run) execute(ctx context.Context, u domain.TaskUnit) {
	// スロット待ちの間にキャンセルされた場合は開始しない
	if err := ctx.Err(); err != nil {
		r.skip(ctx, u, err)
		return
	}

	n := r.inFlight.Add(1)
	r.s.observer.UnitStarted(ctx, r.proj.ID(), u, int(n))

	payload, err := r.call(u)

	n = r.inFlight.Add(-1)
	r.settle(ctx, u, payload, err, int(n))
}

func (r *run) call(u domain.TaskUnit) (payload *domain.ImageResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload, err = nil, fmt.Errorf("executor panic: %v", rec)
		}
	}()

	payload, err = r.exec(r.workCtx, u)
	if err == nil && payload == nil {
		err = ErrEmptyPayload
	}
	return payload, err
}

func (r *run) skip(ctx context.Context, u domain.TaskUnit, cause error) {
	r.skipped.Add(1)
	r.settle(ctx, u, nil, fmt.Errorf("not started: %w", cause), int(r.inFlight.Load()))
}

func (r *run) settle(ctx context.Context, u domain.TaskUnit, payload *domain.ImageResponse, cause error, inFlight int) {
	result, err := r.proj.settle(u.Index, payload, cause)
	if err != nil {
		// validate 済みのため通常は起こらない
		slog.ErrorContext(ctx, "結果スロットの更新に失敗しました", "batch_id", r.proj.ID(), "index", u.Index, "error", err)
		return
	}

	if cause != nil {
		slog.WarnContext(ctx, "画像生成に失敗しました",
			"batch_id", r.proj.ID(), "index", u.Index, "model", u.Model, "error", cause)
	}
	r.s.observer.UnitSettled(ctx, r.proj.ID(), result, inFlight)
}
