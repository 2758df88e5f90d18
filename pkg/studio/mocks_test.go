package studio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/settings"
)

// fakeModel はプロンプトに "fail" を含むリクエストだけを失敗させます。
// gate が設定されている場合、画像生成は gate が閉じるまでブロックします。
type fakeModel struct {
	mu      sync.Mutex
	calls   []string
	texts   []string
	started chan struct{}
	gate    chan struct{}
	pingErr error
	reply   string
}

func (m *fakeModel) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var text string
	for _, p := range contents[0].Parts {
		if p.Text != "" {
			text = p.Text
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, model)
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	switch model {
	case generator.TextModel, generator.ListingModel:
		if config.MaxOutputTokens == 1 {
			return textReply("pong"), m.pingErr
		}
		return textReply(m.reply), nil
	}

	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	if strings.Contains(text, "fail") {
		return nil, errors.New("quota exceeded")
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte(text)}}}},
	}}}, nil
}

func (m *fakeModel) callCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == model {
			n++
		}
	}
	return n
}

func (m *fakeModel) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

func textReply(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: s}}},
	}}}
}

type fixture struct {
	studio   *Studio
	model    *fakeModel
	settings *settings.Settings
	refs     *refstore.Store
	keys     []string
}

func newFixture(t *testing.T, limit int, apiKey string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		model:    &fakeModel{},
		settings: settings.New(settings.NewMemoryStore()),
		refs:     refstore.New(),
	}
	if apiKey != "" {
		require.NoError(t, f.settings.SetAPIKey(apiKey))
	}
	sched, err := batch.NewScheduler(limit)
	require.NoError(t, err)

	var mu sync.Mutex
	factory := func(ctx context.Context, key string) (generator.Model, error) {
		mu.Lock()
		f.keys = append(f.keys, key)
		mu.Unlock()
		return f.model, nil
	}
	f.studio = New(f.settings, f.refs, sched, factory, opts...)
	return f
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{200, uint8(x % 256), uint8(y % 256), 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}
