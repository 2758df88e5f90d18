// Package settings はセッションをまたいで保持する設定（API キーとブランド情報）を扱います。
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

const (
	KeyAPIKey       = "geminiApiKey"
	KeyBrandContext = "brandBrain"
)

// KV は文字列のキーと値を永続化するストアです。
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Settings は KV の上に型付きのアクセサを提供します。
type Settings struct {
	kv KV
}

func New(kv KV) *Settings {
	return &Settings{kv: kv}
}

// APIKey は保存済みの API キーを返します。未設定なら空文字です。
func (s *Settings) APIKey() (string, error) {
	return s.kv.Get(KeyAPIKey)
}

// SetAPIKey は前後の空白を除いて API キーを保存します。
func (s *Settings) SetAPIKey(key string) error {
	return s.kv.Set(KeyAPIKey, strings.TrimSpace(key))
}

func (s *Settings) BrandContext() (string, error) {
	return s.kv.Get(KeyBrandContext)
}

func (s *Settings) SetBrandContext(v string) error {
	return s.kv.Set(KeyBrandContext, v)
}

// MemoryStore はプロセス内だけで保持する KV です。
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]string{}}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key], nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// FileStore は dotenv 形式のファイルに保存する KV です。
// 書き込みのたびにファイル全体を書き直します。
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return "", err
	}
	return m[key], nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	m[key] = value
	if err := godotenv.Write(m, s.path); err != nil {
		return fmt.Errorf("設定ファイルの書き込みに失敗しました (%s): %w", s.path, err)
	}
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	m, err := godotenv.Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました (%s): %w", s.path, err)
	}
	return m, nil
}

var (
	_ KV = (*MemoryStore)(nil)
	_ KV = (*FileStore)(nil)
)
