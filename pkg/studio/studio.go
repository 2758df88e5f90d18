// Package studio は設定・参照画像・スケジューラ・生成ゲートウェイを束ね、
// アプリケーションの各操作を提供します。
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/imgutil"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/pricing"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/settings"
)

var (
	// ErrNoPrompts は空でないプロンプトが1件もないことを示します。
	ErrNoPrompts = errors.New("no prompts")
	// ErrUnsupported は価格が定義されていないモデルと解像度の組み合わせを示します。
	ErrUnsupported = errors.New("unsupported model/resolution combination")
	// ErrNoBatch は実行中または完了済みのバッチがないことを示します。
	ErrNoBatch = errors.New("no batch has been submitted")
	// ErrCountOutOfRange は1行あたりの生成枚数が上限を超えていることを示します。
	ErrCountOutOfRange = errors.New("image count per line out of range")
)

// DefaultMaxPerLine は1行あたりの生成枚数の既定の上限です。
const DefaultMaxPerLine = 4

// SubmitRequest はバッチ生成の依頼です。
// PreserveIdentity が未指定 (nil) の場合は商品を変えない IN-AND-OUT モードで生成します。
type SubmitRequest struct {
	Lines            []domain.PromptLine `json:"lines"`
	PreserveIdentity *bool               `json:"preserve_identity,omitempty"`
}

func (r SubmitRequest) preserveIdentity() bool {
	return r.PreserveIdentity == nil || *r.PreserveIdentity
}

// Studio はアプリケーション全体の状態を保持します。並行に呼び出せます。
type Studio struct {
	settings  *settings.Settings
	refs      *refstore.Store
	scheduler *batch.Scheduler
	factory   generator.ModelFactory

	maxDim     int
	quality    int
	maxPerLine int

	mu      sync.Mutex
	current *Batch
}

// Option は Studio の設定を変更します。
type Option func(*Studio)

// WithNormalization は出品文起草用の画像を正規化するときの長辺上限と JPEG 品質を設定します。
func WithNormalization(maxDim, quality int) Option {
	return func(s *Studio) {
		s.maxDim = maxDim
		s.quality = quality
	}
}

// WithMaxPerLine は1行あたりの生成枚数の上限を設定します。
func WithMaxPerLine(n int) Option {
	return func(s *Studio) {
		if n > 0 {
			s.maxPerLine = n
		}
	}
}

// New は Studio を生成します。factory が nil の場合は generator.NewModel を使います。
func New(st *settings.Settings, refs *refstore.Store, scheduler *batch.Scheduler, factory generator.ModelFactory, opts ...Option) *Studio {
	if factory == nil {
		factory = generator.NewModel
	}
	s := &Studio{
		settings:   st,
		refs:       refs,
		scheduler:  scheduler,
		factory:    factory,
		maxDim:     imgutil.DefaultMaxDimension,
		quality:    imgutil.DefaultJPEGQuality,
		maxPerLine: DefaultMaxPerLine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// References は参照画像ストアです。
func (s *Studio) References() *refstore.Store { return s.refs }

// Settings は永続化された設定です。
func (s *Studio) Settings() *settings.Settings { return s.settings }

// Submit は計画を TaskUnit に展開してバッチを開始し、すぐに戻ります。
// 直前のバッチの Projection は破棄され、新しいバッチの結果と混ざることはありません。
// 直前のバッチがまだ実行中の場合はキャンセルします。
func (s *Studio) Submit(ctx context.Context, req SubmitRequest) (*Batch, error) {
	gen, err := s.generator(ctx)
	if err != nil {
		return nil, err
	}

	lines := nonEmpty(req.Lines)
	if len(lines) == 0 {
		return nil, ErrNoPrompts
	}
	quote, err := s.Quote(lines)
	if err != nil {
		return nil, err
	}
	if len(quote.Unavailable) > 0 {
		bad := lines[quote.Unavailable[0]]
		return nil, fmt.Errorf("%w: %s @ %s", ErrUnsupported, bad.Model, bad.Resolution)
	}

	units := batch.Expand(lines, s.refs.Snapshot())
	proj := batch.NewProjection(units)

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	b := &Batch{
		proj:        proj,
		units:       units,
		lines:       lines,
		quote:       quote,
		submittedAt: time.Now(),
		cancel:      cancel,
		finished:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.current
	s.current = b
	s.mu.Unlock()
	if prev != nil {
		prev.cancel(errors.New("superseded by a new batch"))
	}

	preserve := req.preserveIdentity()
	exec := func(ctx context.Context, u domain.TaskUnit) (*domain.ImageResponse, error) {
		return gen.GenerateImage(ctx, domain.ImageGenerationRequest{
			Prompt:           u.Prompt,
			Model:            u.Model,
			Resolution:       u.Resolution,
			AspectRatio:      u.AspectRatio,
			References:       u.References,
			PreserveIdentity: preserve,
		})
	}

	slog.InfoContext(ctx, "バッチを受け付けました", "batch_id", proj.ID(), "lines", len(lines), "units", len(units), "refs", len(units[0].References))
	go func() {
		defer close(b.finished)
		defer cancel(nil)
		if err := s.scheduler.Run(runCtx, units, proj, exec); err != nil {
			b.setErr(err)
		}
	}()
	return b, nil
}

// Current は最後に開始したバッチを返します。
func (s *Studio) Current() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoBatch
	}
	return s.current, nil
}

// Cancel は現在のバッチに新しい TaskUnit を開始させないようにします。
// 実行中の TaskUnit は完了まで続きます。
func (s *Studio) Cancel() error {
	b, err := s.Current()
	if err != nil {
		return err
	}
	b.cancel(errors.New("canceled by user"))
	return nil
}

// Quote は計画の見積もりを返します。空のプロンプト行は数えません。
// 1行の枚数が上限を超える計画は ErrCountOutOfRange です。
func (s *Studio) Quote(lines []domain.PromptLine) (pricing.Summary, error) {
	lines = nonEmpty(lines)
	for i, l := range lines {
		if l.Count > s.maxPerLine {
			return pricing.Summary{}, fmt.Errorf("%w: line %d requests %d (max %d)", ErrCountOutOfRange, i, l.Count, s.maxPerLine)
		}
	}
	return pricing.Quote(lines), nil
}

// DraftPrompts はシーンプロンプトを起草します。
// ブランド情報と参照画像が指定されていなければ、保存済みのものを使います。
func (s *Studio) DraftPrompts(ctx context.Context, req domain.PromptDraftRequest) ([]string, error) {
	gen, err := s.generator(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.BrandContext) == "" {
		brand, err := s.settings.BrandContext()
		if err != nil {
			return nil, err
		}
		req.BrandContext = brand
	}
	if len(req.References) == 0 {
		req.References = s.refs.Snapshot()
	}
	return gen.DraftPrompts(ctx, req)
}

// DraftListing は商品画像を正規化してから出品情報を起草します。
func (s *Studio) DraftListing(ctx context.Context, image []byte, extraContext string) (*domain.Listing, error) {
	gen, err := s.generator(ctx)
	if err != nil {
		return nil, err
	}
	n, err := imgutil.Normalize(image, s.maxDim, s.quality)
	if err != nil {
		return nil, err
	}
	return gen.DraftListing(ctx, domain.ListingDraftRequest{
		Image:        domain.ReferenceImage{Data: n.Data, MimeType: n.MimeType, Width: n.Width, Height: n.Height},
		ExtraContext: extraContext,
	})
}

// VerifyCredential は API キーを保存してから疎通を確認します。
// 検証に失敗してもキーは保存されたままです。
func (s *Studio) VerifyCredential(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return generator.ErrMissingCredential
	}
	if err := s.settings.SetAPIKey(key); err != nil {
		return err
	}
	gen, err := s.generator(ctx)
	if err != nil {
		return err
	}
	if err := gen.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "API キーの検証に失敗しました", "error", err)
		return err
	}
	slog.InfoContext(ctx, "API キーを検証しました")
	return nil
}

// generator は保存済みの API キーでゲートウェイを組み立てます。
func (s *Studio) generator(ctx context.Context) (generator.Generator, error) {
	key, err := s.settings.APIKey()
	if err != nil {
		return nil, fmt.Errorf("API キーの読み込みに失敗しました: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return nil, generator.ErrMissingCredential
	}
	model, err := s.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	return generator.NewGeminiGenerator(model)
}

func nonEmpty(lines []domain.PromptLine) []domain.PromptLine {
	out := make([]domain.PromptLine, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.Prompt) != "" {
			out = append(out, l)
		}
	}
	return out
}
