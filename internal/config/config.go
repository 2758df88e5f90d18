// Package config は環境変数（と任意の .env ファイル）から起動設定を読み込みます。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/imgutil"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/studio"
)

// Config はプロセス全体の起動設定です。
type Config struct {
	HTTPAddr      string
	Concurrency   int
	SchedulerMode batch.Mode
	MaxPerLine    int
	MaxUploadMB   int
	MaxDimension  int
	JPEGQuality   int
	SettingsFile  string
	FetchTimeout  time.Duration
	CacheTTL      time.Duration
	LogLevel      slog.Level
}

// MaxUploadBytes は参照画像1ファイルあたりの上限です。
func (c Config) MaxUploadBytes() int { return c.MaxUploadMB << 20 }

// Default は環境変数が何も設定されていないときの値です。
func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		Concurrency:   3,
		SchedulerMode: batch.ModeWave,
		MaxPerLine:    studio.DefaultMaxPerLine,
		MaxUploadMB:   5,
		MaxDimension:  imgutil.DefaultMaxDimension,
		JPEGQuality:   imgutil.DefaultJPEGQuality,
		SettingsFile:  "studio.env",
		FetchTimeout:  30 * time.Second,
		CacheTTL:      10 * time.Minute,
		LogLevel:      slog.LevelInfo,
	}
}

// Load は .env があれば読み込んでから環境変数を解釈します。
func Load() (Config, error) {
	// .env が存在しなくても問題ない
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup は lookup で取得した値を Default に上書きします。
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("STUDIO_HTTP_ADDR", &cfg.HTTPAddr)
	p.positiveInt("STUDIO_CONCURRENCY", &cfg.Concurrency)
	p.positiveInt("STUDIO_MAX_PER_LINE", &cfg.MaxPerLine)
	p.positiveInt("STUDIO_MAX_UPLOAD_MB", &cfg.MaxUploadMB)
	p.positiveInt("STUDIO_MAX_DIMENSION", &cfg.MaxDimension)
	p.positiveInt("STUDIO_JPEG_QUALITY", &cfg.JPEGQuality)
	p.str("STUDIO_SETTINGS_FILE", &cfg.SettingsFile)
	p.duration("STUDIO_FETCH_TIMEOUT", &cfg.FetchTimeout)
	p.duration("STUDIO_CACHE_TTL", &cfg.CacheTTL)

	if v, ok := p.value("STUDIO_SCHEDULER_MODE"); ok {
		mode, err := batch.ParseMode(v)
		if err != nil {
			p.fail("STUDIO_SCHEDULER_MODE", err)
		}
		cfg.SchedulerMode = mode
	}
	if v, ok := p.value("STUDIO_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			p.fail("STUDIO_LOG_LEVEL", err)
		}
	}
	if cfg.JPEGQuality > 100 {
		p.fail("STUDIO_JPEG_QUALITY", fmt.Errorf("must be 1..100, got %d", cfg.JPEGQuality))
	}

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// parser は最初のエラーだけを保持します。
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) value(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return
	}
	if n < 1 {
		p.fail(key, fmt.Errorf("must be positive, got %d", n))
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = d
}
