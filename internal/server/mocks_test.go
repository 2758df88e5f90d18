package server

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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shop1gableo-creator/dropetsy-studio/internal/metrics"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/generator"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/settings"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/studio"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeModel はプロンプトに "fail" を含む画像生成だけを失敗させます。
type fakeModel struct {
	mu      sync.Mutex
	calls   []string
	gate    chan struct{}
	pingErr error
	reply   string
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

func (m *fakeModel) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var text string
	for _, p := range contents[0].Parts {
		if p.Text != "" {
			text = p.Text
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, model)
	m.mu.Unlock()

	switch model {
	case generator.TextModel, generator.ListingModel:
		if config.MaxOutputTokens == 1 {
			return textReply("pong"), m.pingErr
		}
		return textReply(m.reply), nil
	}

	if m.gate != nil {
		<-m.gate
	}
	if strings.Contains(text, "fail") {
		return nil, errors.New("quota exceeded")
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("generated")}}}},
	}}}, nil
}

func textReply(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: s}}},
	}}}
}

type testEnv struct {
	server   *Server
	studio   *studio.Studio
	model    *fakeModel
	settings *settings.Settings
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sched, err := batch.NewScheduler(2, batch.WithObserver(batch.Observers{hub, collector}))
	require.NoError(t, err)

	model := &fakeModel{}
	st := settings.New(settings.NewMemoryStore())
	if apiKey != "" {
		require.NoError(t, st.SetAPIKey(apiKey))
	}
	factory := func(context.Context, string) (generator.Model, error) { return model, nil }
	s := studio.New(st, refstore.New(), sched, factory)

	return &testEnv{
		server:   New(s, hub, reg, 1<<20),
		studio:   s,
		model:    model,
		settings: st,
	}
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}
