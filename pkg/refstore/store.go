// Package refstore は1セッション分の参照画像を管理します。
//
// 追加された画像はすべて正規化（縮小・JPEG 再エンコード）されてから保持されます。
// バッチには Snapshot のコピーを渡すため、実行中のバッチが後からの変更の影響を受けることはありません。
package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/imgutil"
)

// DefaultMaxBytes は1ファイルあたりの受付上限です。
const DefaultMaxBytes = 5 << 20

var (
	// ErrTooLarge はファイルサイズが上限を超えたことを示します。
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrUnsafeURL は SSRF 対策で拒否された URL を示します。
	ErrUnsafeURL = errors.New("unsafe url")
	// ErrNoFetcher は URL 取得用の Fetcher が設定されていないことを示します。
	ErrNoFetcher = errors.New("url fetcher is not configured")
)

// Fetcher は URL から画像のバイト列を取得します。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Cacher は取得済み画像を URL をキーに保持します。go-cache の *cache.Cache が満たします。
type Cacher interface {
	Get(key string) (any, bool)
	Set(key string, v any, d time.Duration)
}

// Upload はアップロードされた1ファイルです。
type Upload struct {
	Name string
	Data []byte
}

// Skip は受け付けなかったファイルとその理由です。
type Skip struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AddReport は Add の結果です。
type AddReport struct {
	Accepted []domain.ReferenceImage `json:"accepted"`
	Skipped  []Skip                  `json:"skipped"`
}

// Store は参照画像の順序付き集合です。並行に呼び出せます。
type Store struct {
	mu     sync.RWMutex
	images []domain.ReferenceImage

	maxBytes int
	maxDim   int
	quality  int
	fetcher  Fetcher
	cache    Cacher
	cacheTTL time.Duration
	urlCheck func(string) (bool, error)
}

// Option は Store の設定を変更します。
type Option func(*Store)

func WithMaxBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithNormalization は正規化時の長辺上限と JPEG 品質を設定します。
func WithNormalization(maxDim, quality int) Option {
	return func(s *Store) {
		s.maxDim = maxDim
		s.quality = quality
	}
}

func WithFetcher(f Fetcher) Option {
	return func(s *Store) { s.fetcher = f }
}

// WithCache は URL 取得結果のキャッシュを設定します。ttl が 0 の場合はキャッシュ側の既定値を使います。
func WithCache(c Cacher, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithURLCheck は URL の安全性検査を差し替えます。
func WithURLCheck(check func(string) (bool, error)) Option {
	return func(s *Store) {
		if check != nil {
			s.urlCheck = check
		}
	}
}

// New は空の Store を生成します。
func New(opts ...Option) *Store {
	s := &Store{
		maxBytes: DefaultMaxBytes,
		maxDim:   imgutil.DefaultMaxDimension,
		quality:  imgutil.DefaultJPEGQuality,
		urlCheck: generator.IsSafeURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add はファイルを順に正規化して末尾に追加します。
// 上限超過やデコードできないファイルはスキップし、理由とともに報告します。
func (s *Store) Add(ctx context.Context, uploads ...Upload) AddReport {
	var report AddReport
	for _, up := range uploads {
		ref, err := s.normalize(up.Data)
		if err != nil {
			slog.WarnContext(ctx, "参照画像をスキップしました", "name", up.Name, "error", err)
			report.Skipped = append(report.Skipped, Skip{Name: up.Name, Reason: err.Error()})
			continue
		}
		report.Accepted = append(report.Accepted, ref)
	}

	if len(report.Accepted) > 0 {
		s.mu.Lock()
		s.images = append(s.images, report.Accepted...)
		s.mu.Unlock()
	}
	slog.InfoContext(ctx, "参照画像を追加しました", "accepted", len(report.Accepted), "skipped", len(report.Skipped), "total", s.Len())
	return report
}

// AddFromURL は URL から画像を取得して追加します。
func (s *Store) AddFromURL(ctx context.Context, rawURL string) (domain.ReferenceImage, error) {
	if s.fetcher == nil {
		return domain.ReferenceImage{}, ErrNoFetcher
	}
	if ok, err := s.urlCheck(rawURL); !ok {
		return domain.ReferenceImage{}, fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	data, err := s.fetch(ctx, rawURL)
	if err != nil {
		return domain.ReferenceImage{}, err
	}

	ref, err := s.normalize(data)
	if err != nil {
		return domain.ReferenceImage{}, fmt.Errorf("参照画像 %s: %w", rawURL, err)
	}

	s.mu.Lock()
	s.images = append(s.images, ref)
	s.mu.Unlock()
	slog.InfoContext(ctx, "URLから参照画像を追加しました", "url", rawURL, "id", ref.ID)
	return ref, nil
}

func (s *Store) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(rawURL); ok {
			if data, ok := v.([]byte); ok {
				slog.DebugContext(ctx, "キャッシュヒット", "url", rawURL)
				return data, nil
			}
		}
	}

	data, err := s.fetcher.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("参照画像の取得に失敗しました: %w", err)
	}
	if len(data) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.maxBytes)
	}

	if s.cache != nil {
		s.cache.Set(rawURL, data, s.cacheTTL)
	}
	return data, nil
}

func (s *Store) normalize(data []byte) (domain.ReferenceImage, error) {
	if len(data) > s.maxBytes {
		return domain.ReferenceImage{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.maxBytes)
	}
	n, err := imgutil.Normalize(data, s.maxDim, s.quality)
	if err != nil {
		return domain.ReferenceImage{}, err
	}
	return domain.ReferenceImage{
		ID:       uuid.NewString(),
		Data:     n.Data,
		MimeType: n.MimeType,
		Width:    n.Width,
		Height:   n.Height,
	}, nil
}

// Remove は id の画像を取り除きます。存在しなければ false を返します。
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, img := range s.images {
		if img.ID == id {
			s.images = append(s.images[:i:i], s.images[i+1:]...)
			return true
		}
	}
	return false
}

// Reset はすべての画像を取り除きます。
func (s *Store) Reset() {
	s.mu.Lock()
	s.images = nil
	s.mu.Unlock()
}

// Snapshot は現在の集合のコピーを返します。
func (s *Store) Snapshot() []domain.ReferenceImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReferenceImage, len(s.images))
	copy(out, s.images)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}
